package models

import (
	"database/sql"
	"errors"

	"github.com/username/lavenderledger/src/database"
)

// CategorizationRule maps a wildcard merchant pattern to a category.
// Rules carry a reinforcement signal: feedback moves accuracy_score in 0.1
// steps from a 0.5 base, clamped to [0, 1] so the priority ordering's
// "unscored sorts last" assumption holds.
type CategorizationRule struct {
	ID                int64    `json:"id"`
	MerchantPattern   string   `json:"merchant_pattern"`
	Category          string   `json:"category"`
	Confidence        float64  `json:"confidence"`
	RuleType          string   `json:"rule_type"`
	MinAmount         *float64 `json:"min_amount,omitempty"`
	MaxAmount         *float64 `json:"max_amount,omitempty"`
	AccountTypeFilter string   `json:"account_type_filter,omitempty"`
	UserConfirmed     bool     `json:"user_confirmed"`
	AutoCreated       bool     `json:"auto_created"`
	TimesApplied      int      `json:"times_applied"`
	TimesRejected     int      `json:"times_rejected"`
	AccuracyScore     *float64 `json:"accuracy_score,omitempty"`
	Notes             string   `json:"notes,omitempty"`
	LastUsed          string   `json:"last_used,omitempty"`
	CreatedAt         string   `json:"created_at"`
}

func (r *CategorizationRule) Create(db *sql.DB) error {
	if r.RuleType == "" {
		r.RuleType = "pattern"
	}
	if r.Confidence == 0 {
		r.Confidence = 1.0
	}
	query := `
	INSERT INTO categorization_rules (merchant_pattern, category, confidence, rule_type,
	                                  min_amount, max_amount, account_type_filter,
	                                  user_confirmed, auto_created, notes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.Exec(query,
		r.MerchantPattern,
		r.Category,
		r.Confidence,
		r.RuleType,
		r.MinAmount,
		r.MaxAmount,
		nullableString(r.AccountTypeFilter),
		r.UserConfirmed,
		r.AutoCreated,
		nullableString(r.Notes),
	)
	if err != nil {
		return database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

func GetRuleByID(db *sql.DB, id int64) (*CategorizationRule, error) {
	row := db.QueryRow(selectRule+` WHERE id = ?`, id)
	return scanRule(row.Scan)
}

// GetRuleByPattern matches the pattern text exactly, used by the auto-rule
// loop's insert-if-absent check.
func GetRuleByPattern(db *sql.DB, pattern string) (*CategorizationRule, error) {
	row := db.QueryRow(selectRule+` WHERE merchant_pattern = ?`, pattern)
	return scanRule(row.Scan)
}

// ListRulesByPriority returns every rule in matching priority order:
// user-confirmed rules first, then longer (more specific) patterns, then
// higher accuracy with unscored rules last. The trailing id sort makes the
// order fully deterministic regardless of insertion order.
func ListRulesByPriority(db *sql.DB) ([]CategorizationRule, error) {
	query := selectRule + `
	ORDER BY user_confirmed DESC,
	         LENGTH(merchant_pattern) DESC,
	         accuracy_score DESC NULLS LAST,
	         id ASC`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []CategorizationRule{}
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// RecordRuleApplied bumps the usage counter when a rule categorizes a
// transaction outside the explicit feedback path.
func RecordRuleApplied(db *sql.DB, id int64) error {
	res, err := db.Exec(`
	UPDATE categorization_rules
	SET times_applied = times_applied + 1, last_used = datetime('now')
	WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// RecordRuleFeedback applies one accept/reject signal. Acceptance raises the
// accuracy score by 0.1, rejection lowers it by 0.1, both from a 0.5 base
// when previously unscored and clamped to [0, 1].
func RecordRuleFeedback(db *sql.DB, id int64, accepted bool) error {
	var query string
	if accepted {
		query = `
		UPDATE categorization_rules
		SET times_applied = times_applied + 1,
		    accuracy_score = MIN(1.0, COALESCE(accuracy_score, 0.5) + 0.1),
		    last_used = datetime('now')
		WHERE id = ?`
	} else {
		query = `
		UPDATE categorization_rules
		SET times_rejected = times_rejected + 1,
		    accuracy_score = MAX(0.0, COALESCE(accuracy_score, 0.5) - 0.1),
		    last_used = datetime('now')
		WHERE id = ?`
	}
	res, err := db.Exec(query, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

const selectRule = `
	SELECT id, merchant_pattern, category, confidence, rule_type, min_amount, max_amount,
	       account_type_filter, user_confirmed, auto_created, times_applied, times_rejected,
	       accuracy_score, notes, last_used, created_at
	FROM categorization_rules`

func scanRule(scan func(...interface{}) error) (*CategorizationRule, error) {
	var r CategorizationRule
	var minAmount, maxAmount, accuracy sql.NullFloat64
	var accountTypeFilter, notes, lastUsed sql.NullString

	err := scan(&r.ID, &r.MerchantPattern, &r.Category, &r.Confidence, &r.RuleType,
		&minAmount, &maxAmount, &accountTypeFilter, &r.UserConfirmed, &r.AutoCreated,
		&r.TimesApplied, &r.TimesRejected, &accuracy, &notes, &lastUsed, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	if minAmount.Valid {
		r.MinAmount = &minAmount.Float64
	}
	if maxAmount.Valid {
		r.MaxAmount = &maxAmount.Float64
	}
	if accuracy.Valid {
		r.AccuracyScore = &accuracy.Float64
	}
	r.AccountTypeFilter = accountTypeFilter.String
	r.Notes = notes.String
	r.LastUsed = lastUsed.String
	return &r, nil
}
