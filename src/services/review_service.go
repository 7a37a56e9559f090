package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/username/lavenderledger/src/database"
	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
	"github.com/username/lavenderledger/src/rules"
	"github.com/username/lavenderledger/src/security/validation"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotFlagged          = errors.New("transaction is not flagged for review")
)

type reviewServiceImpl struct {
	db      *sql.DB
	engine  *rules.Engine
	lessons *LessonsWriter
}

func NewReviewService(db *sql.DB, engine *rules.Engine, lessons *LessonsWriter) ReviewService {
	return &reviewServiceImpl{
		db:      db,
		engine:  engine,
		lessons: lessons,
	}
}

// Resolve applies one review decision to one flagged transaction. Accepting
// or changing the category clears the flag and sets confidence to 1.0; the
// outcome feeds back into the matched rule's accuracy score and is appended
// to the lessons ledger. Skip records the entry without mutating the ledger.
func (s *reviewServiceImpl) Resolve(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	log := logger.FromContext(ctx)

	tx, err := models.GetTransactionByID(s.db, req.TransactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if !tx.FlaggedForReview {
		return nil, ErrNotFlagged
	}

	result := &ReviewResult{
		TransactionID: req.TransactionID,
		Decision:      req.Decision,
	}

	switch req.Decision {
	case DecisionAccept:
		err = s.accept(ctx, tx, result)
	case DecisionChangeCategory:
		err = s.changeCategory(ctx, tx, req.NewCategory, result)
	case DecisionAcceptWithRule:
		err = s.acceptWithRule(ctx, tx, req.Rule, result)
	case DecisionSkip:
		err = s.skip(ctx, tx, result)
	default:
		return nil, fmt.Errorf("%w: unknown review decision %q", validation.ErrValidationFailed, req.Decision)
	}
	if err != nil {
		return nil, err
	}

	result.Success = true
	log.Info("review resolved",
		"transactionID", req.TransactionID, "decision", req.Decision, "category", result.Category)
	return result, nil
}

func (s *reviewServiceImpl) accept(ctx context.Context, tx *models.Transaction, result *ReviewResult) error {
	if tx.Category == "" {
		return fmt.Errorf("%w: transaction has no category to accept", validation.ErrValidationFailed)
	}
	if err := models.ResolveTransactionReview(s.db, tx.ID, tx.Category); err != nil {
		return err
	}
	result.Category = tx.Category
	result.Message = "category confirmed"

	s.applyRuleFeedback(ctx, tx, true)
	return s.record(ctx, Lesson{
		Decision:      DecisionAccept,
		Merchant:      merchantOf(tx),
		NewCategory:   tx.Category,
		TransactionID: tx.ID,
	})
}

func (s *reviewServiceImpl) changeCategory(ctx context.Context, tx *models.Transaction, newCategory string, result *ReviewResult) error {
	if err := validation.ValidateStringNotEmpty(newCategory, "new_category"); err != nil {
		return err
	}
	if _, err := models.GetCategoryByName(s.db, newCategory); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: unknown category %q", validation.ErrValidationFailed, newCategory)
		}
		return err
	}

	if err := models.ResolveTransactionReview(s.db, tx.ID, newCategory); err != nil {
		return err
	}
	result.Category = newCategory
	result.Message = fmt.Sprintf("category changed from %q", tx.Category)

	// The original assignment was wrong, so the matched rule takes a
	// rejection signal.
	s.applyRuleFeedback(ctx, tx, false)
	return s.record(ctx, Lesson{
		Decision:      DecisionChangeCategory,
		Merchant:      merchantOf(tx),
		OldCategory:   tx.Category,
		NewCategory:   newCategory,
		TransactionID: tx.ID,
	})
}

func (s *reviewServiceImpl) acceptWithRule(ctx context.Context, tx *models.Transaction, req *RuleRequest, result *ReviewResult) error {
	if req == nil {
		return fmt.Errorf("%w: accept_with_rule requires a rule definition", validation.ErrValidationFailed)
	}
	if tx.Category == "" {
		return fmt.Errorf("%w: transaction has no category to accept", validation.ErrValidationFailed)
	}
	if err := validation.ValidateStringNotEmpty(req.Pattern, "pattern"); err != nil {
		return err
	}
	if err := validation.ValidateStringMaxLength(req.Pattern, validation.MaxPatternLength, "pattern"); err != nil {
		return err
	}
	if err := validation.ValidateAmountRange(req.MinAmount, req.MaxAmount); err != nil {
		return err
	}

	if err := models.ResolveTransactionReview(s.db, tx.ID, tx.Category); err != nil {
		return err
	}
	result.Category = tx.Category

	rule := &models.CategorizationRule{
		MerchantPattern: validation.CleanText(req.Pattern),
		Category:        tx.Category,
		UserConfirmed:   true,
	}
	if req.MinAmount != nil || req.MaxAmount != nil {
		rule.RuleType = "amount_range"
		rule.MinAmount = req.MinAmount
		rule.MaxAmount = req.MaxAmount
	}
	if err := rule.Create(s.db); err != nil {
		if database.IsUniqueViolation(err) {
			// Pattern already exists; confirm it instead of duplicating.
			existing, lookupErr := models.GetRuleByPattern(s.db, rule.MerchantPattern)
			if lookupErr != nil {
				return lookupErr
			}
			if feedbackErr := models.RecordRuleFeedback(s.db, existing.ID, true); feedbackErr != nil {
				return feedbackErr
			}
			result.Message = "existing rule confirmed"
		} else {
			return err
		}
	} else {
		result.RuleCreated = true
		result.Message = "rule created"
	}

	if req.DeferredNote != "" {
		note := validation.CleanText(req.DeferredNote)
		if err := validation.ValidateStringMaxLength(note, validation.MaxNotesLength, "deferred_note"); err != nil {
			return err
		}
		if err := models.UpdateTransactionNotes(s.db, tx.ID, note); err != nil {
			return err
		}
	}

	return s.record(ctx, Lesson{
		Decision:      DecisionAcceptWithRule,
		Merchant:      merchantOf(tx),
		NewCategory:   tx.Category,
		RulePattern:   rule.MerchantPattern,
		TransactionID: tx.ID,
	})
}

func (s *reviewServiceImpl) skip(ctx context.Context, tx *models.Transaction, result *ReviewResult) error {
	result.Category = tx.Category
	result.Message = "left flagged for a later pass"
	return s.record(ctx, Lesson{
		Decision:      DecisionSkip,
		Merchant:      merchantOf(tx),
		OldCategory:   tx.Category,
		TransactionID: tx.ID,
	})
}

// applyRuleFeedback locates the rule that would have categorized this
// transaction and records the accept/reject signal on it. A missing match is
// not an error; manual and external categorizations have no rule to train.
func (s *reviewServiceImpl) applyRuleFeedback(ctx context.Context, tx *models.Transaction, accepted bool) {
	log := logger.FromContext(ctx)

	amount := tx.Amount
	rule, err := s.engine.Match(merchantOf(tx), rules.MatchContext{Amount: &amount})
	if err != nil {
		log.Warn("rule feedback lookup failed", "transactionID", tx.ID, "error", err.Error())
		return
	}
	if rule == nil {
		return
	}
	if err := models.RecordRuleFeedback(s.db, rule.ID, accepted); err != nil {
		log.Warn("rule feedback update failed", "ruleID", rule.ID, "error", err.Error())
	}
}

func (s *reviewServiceImpl) record(ctx context.Context, lesson Lesson) error {
	if s.lessons == nil {
		return nil
	}
	if err := s.lessons.Append(lesson); err != nil {
		// The review itself committed; a ledger write failure is surfaced
		// but must not undo the decision.
		logger.FromContext(ctx).Warn("lessons ledger append failed", "error", err.Error())
	}
	return nil
}

func merchantOf(tx *models.Transaction) string {
	if tx.MerchantCleaned != "" {
		return tx.MerchantCleaned
	}
	return tx.MerchantOriginal
}
