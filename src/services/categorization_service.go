package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/username/lavenderledger/src/config"
	"github.com/username/lavenderledger/src/database"
	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
	"github.com/username/lavenderledger/src/rules"
	"github.com/username/lavenderledger/src/security/validation"
)

const autoRuleNotePrefix = "Auto-created: "
const autoRuleReasoningLimit = 100

type categorizationServiceImpl struct {
	db  *sql.DB
	cfg *config.AppConfig
}

func NewCategorizationService(db *sql.DB, cfg *config.AppConfig) CategorizationService {
	return &categorizationServiceImpl{
		db:  db,
		cfg: cfg,
	}
}

// ApplyCategorizations applies an external categorization result. Each entry
// is handled independently: a bad entry is counted and reported, never
// allowed to block its siblings. Confidence strictly below the review
// threshold flags the transaction; confidence at or above the auto-rule
// threshold with a suggested pattern creates a rule if none exists.
func (s *categorizationServiceImpl) ApplyCategorizations(ctx context.Context, result CategorizationResult) (*ApplyCategorizationsResult, error) {
	log := logger.FromContext(ctx)
	out := &ApplyCategorizationsResult{Success: true}

	for _, c := range result.Categorizations {
		if err := s.applyOne(ctx, c, out); err != nil {
			out.Errored++
			out.Errors = append(out.Errors, fmt.Sprintf("transaction %d: %v", c.TransactionID, err))
			log.Warn("categorization entry rejected", "transactionID", c.TransactionID, "error", err.Error())
		}
	}

	log.Info("categorizations applied",
		"updated", out.Updated, "flagged", out.Flagged,
		"errored", out.Errored, "rulesCreated", out.RulesCreated)
	return out, nil
}

func (s *categorizationServiceImpl) applyOne(ctx context.Context, c Categorization, out *ApplyCategorizationsResult) error {
	if err := validation.ValidateStringNotEmpty(c.Category, "category"); err != nil {
		return err
	}
	if err := validation.ValidateConfidence(c.Confidence, "confidence"); err != nil {
		return err
	}

	if _, err := models.GetTransactionByID(s.db, c.TransactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("transaction not found")
		}
		return err
	}

	// Flag strictly below the threshold. A confidence exactly at the
	// threshold passes without review.
	flagged := c.Confidence < s.cfg.ConfidenceThreshold
	if err := models.SetTransactionCategory(s.db, c.TransactionID, c.Category, c.Confidence, flagged); err != nil {
		return err
	}
	out.Updated++
	if flagged {
		out.Flagged++
	}

	if s.cfg.AutoCreateRules && c.RulePattern != "" && c.Confidence >= s.cfg.AutoRuleThreshold {
		created, err := s.maybeCreateRule(ctx, c)
		if err != nil {
			return err
		}
		if created {
			out.RulesCreated++
		}
	}
	return nil
}

// maybeCreateRule creates an unconfirmed rule from a high-confidence
// suggestion unless a rule with that exact pattern already exists.
func (s *categorizationServiceImpl) maybeCreateRule(ctx context.Context, c Categorization) (bool, error) {
	_, err := models.GetRuleByPattern(s.db, c.RulePattern)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	rule := &models.CategorizationRule{
		MerchantPattern: c.RulePattern,
		Category:        c.Category,
		Confidence:      c.Confidence,
		AutoCreated:     true,
		Notes:           autoRuleNotePrefix + truncate(c.Reasoning, autoRuleReasoningLimit),
	}
	if err := rule.Create(s.db); err != nil {
		if database.IsUniqueViolation(err) {
			// Pattern landed between the existence check and the insert.
			return false, nil
		}
		return false, err
	}

	logger.FromContext(ctx).Info("auto-created categorization rule",
		"ruleID", rule.ID, "pattern", rule.MerchantPattern, "category", rule.Category)
	return true, nil
}

// ApplyRuleMatches runs the stored rule set over every uncategorized
// transaction. A match assigns the rule's category and confidence and bumps
// the rule's usage counter; transactions no rule covers are left untouched
// for the external categorizer.
func (s *categorizationServiceImpl) ApplyRuleMatches(ctx context.Context) (*RuleMatchRunResult, error) {
	log := logger.FromContext(ctx)

	pending, err := models.ListUncategorizedTransactions(s.db, 0)
	if err != nil {
		return nil, fmt.Errorf("listing uncategorized transactions: %w", err)
	}

	candidates, err := models.ListRulesByPriority(s.db)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}

	out := &RuleMatchRunResult{Examined: len(pending)}
	accountTypes := map[int64]string{}

	for _, tx := range pending {
		accountType, ok := accountTypes[tx.AccountID]
		if !ok {
			account, err := models.GetAccountByID(s.db, tx.AccountID)
			if err != nil {
				return out, fmt.Errorf("loading account %d: %w", tx.AccountID, err)
			}
			accountType = account.AccountType
			accountTypes[tx.AccountID] = accountType
		}

		merchant := tx.MerchantCleaned
		if merchant == "" {
			merchant = tx.MerchantOriginal
		}
		amount := tx.Amount
		rule := rules.MatchRules(candidates, merchant, rules.MatchContext{
			Amount:      &amount,
			AccountType: accountType,
		})
		if rule == nil {
			continue
		}

		flagged := rule.Confidence < s.cfg.ConfidenceThreshold
		if err := models.SetTransactionCategory(s.db, tx.ID, rule.Category, rule.Confidence, flagged); err != nil {
			return out, err
		}
		if err := models.RecordRuleApplied(s.db, rule.ID); err != nil {
			return out, err
		}
		out.Categorized++
		if flagged {
			out.Flagged++
		}
	}

	log.Info("rule match pass finished",
		"examined", out.Examined, "categorized", out.Categorized, "flagged", out.Flagged)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
