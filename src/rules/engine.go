package rules

import (
	"database/sql"

	"github.com/username/lavenderledger/src/models"
)

// MatchRules scans candidates in the order given and returns the first rule
// whose pattern and filters all pass, or nil when nothing matches. Callers
// supply rules already sorted by priority (see models.ListRulesByPriority);
// the first satisfied rule is the single deterministic winner.
func MatchRules(candidates []models.CategorizationRule, merchant string, ctx MatchContext) *models.CategorizationRule {
	for i := range candidates {
		r := &candidates[i]
		if !MatchPattern(r.MerchantPattern, merchant) {
			continue
		}
		if ctx.Amount != nil && !amountWithinBounds(*ctx.Amount, r.MinAmount, r.MaxAmount) {
			continue
		}
		if !accountTypeAllowed(r.AccountTypeFilter, ctx.AccountType) {
			continue
		}
		return r
	}
	return nil
}

// Engine matches merchants against the stored rule set.
type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Match fetches all rules in priority order and returns the best match for
// the merchant, or nil with no error when no rule applies. This is a linear
// scan; rule sets are expected to stay small enough that determinism matters
// more than asymptotic cost.
func (e *Engine) Match(merchant string, ctx MatchContext) (*models.CategorizationRule, error) {
	candidates, err := models.ListRulesByPriority(e.db)
	if err != nil {
		return nil, err
	}
	return MatchRules(candidates, merchant, ctx), nil
}
