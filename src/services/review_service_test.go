package services

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/username/lavenderledger/src/models"
	"github.com/username/lavenderledger/src/rules"
)

// flaggedTransaction ingests one transaction and flags it with a low
// confidence categorization under the given category.
func flaggedTransaction(t *testing.T, db *sql.DB, category string) *models.Transaction {
	t.Helper()

	txs := ingestSample(t, db, 1)
	require.NoError(t, models.SetTransactionCategory(db, txs[0].ID, category, 0.5, true))
	tx, err := models.GetTransactionByID(db, txs[0].ID)
	require.NoError(t, err)
	require.True(t, tx.FlaggedForReview)
	return tx
}

func newReviewService(t *testing.T, db *sql.DB) (ReviewService, string) {
	t.Helper()
	lessonsPath := filepath.Join(t.TempDir(), "TRANSACTION_MEMORY.md")
	svc := NewReviewService(db, rules.NewEngine(db), NewLessonsWriter(lessonsPath))
	return svc, lessonsPath
}

func TestResolveAccept(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, lessonsPath := newReviewService(t, db)
	tx := flaggedTransaction(t, db, "Groceries")

	// The rule that produced the categorization takes the accept signal.
	rule := &models.CategorizationRule{MerchantPattern: "MERCHANT*", Category: "Groceries"}
	require.NoError(t, rule.Create(db))

	result, err := svc.Resolve(context.Background(), ReviewRequest{
		TransactionID: tx.ID,
		Decision:      DecisionAccept,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "Groceries", result.Category)

	updated, err := models.GetTransactionByID(db, tx.ID)
	require.NoError(t, err)
	require.False(t, updated.FlaggedForReview)
	require.InDelta(t, 1.0, *updated.ConfidenceScore, 1e-9)

	trained, err := models.GetRuleByID(db, rule.ID)
	require.NoError(t, err)
	require.Equal(t, 1, trained.TimesApplied)
	require.InDelta(t, 0.6, *trained.AccuracyScore, 1e-9)

	ledger, err := os.ReadFile(lessonsPath)
	require.NoError(t, err)
	require.Contains(t, string(ledger), "accept")
	require.Contains(t, string(ledger), "Groceries")
}

func TestResolveChangeCategory(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, _ := newReviewService(t, db)
	tx := flaggedTransaction(t, db, "Shopping")

	rule := &models.CategorizationRule{MerchantPattern: "MERCHANT*", Category: "Shopping"}
	require.NoError(t, rule.Create(db))

	result, err := svc.Resolve(context.Background(), ReviewRequest{
		TransactionID: tx.ID,
		Decision:      DecisionChangeCategory,
		NewCategory:   "Groceries",
	})
	require.NoError(t, err)
	require.Equal(t, "Groceries", result.Category)

	updated, err := models.GetTransactionByID(db, tx.ID)
	require.NoError(t, err)
	require.Equal(t, "Groceries", updated.Category)
	require.False(t, updated.FlaggedForReview)

	// The wrong assignment registers as a rejection.
	trained, err := models.GetRuleByID(db, rule.ID)
	require.NoError(t, err)
	require.Equal(t, 1, trained.TimesRejected)
	require.InDelta(t, 0.4, *trained.AccuracyScore, 1e-9)
}

func TestResolveChangeCategoryRejectsUnknown(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, _ := newReviewService(t, db)
	tx := flaggedTransaction(t, db, "Shopping")

	_, err := svc.Resolve(context.Background(), ReviewRequest{
		TransactionID: tx.ID,
		Decision:      DecisionChangeCategory,
		NewCategory:   "Not A Real Category",
	})
	require.Error(t, err)
}

func TestResolveAcceptWithRule(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, _ := newReviewService(t, db)
	tx := flaggedTransaction(t, db, "Groceries")

	min := 10.0
	max := 200.0
	result, err := svc.Resolve(context.Background(), ReviewRequest{
		TransactionID: tx.ID,
		Decision:      DecisionAcceptWithRule,
		Rule: &RuleRequest{
			Pattern:      "MERCHANT*",
			MinAmount:    &min,
			MaxAmount:    &max,
			DeferredNote: "verify against next statement",
		},
	})
	require.NoError(t, err)
	require.True(t, result.RuleCreated)

	rule, err := models.GetRuleByPattern(db, "MERCHANT*")
	require.NoError(t, err)
	require.True(t, rule.UserConfirmed)
	require.False(t, rule.AutoCreated)
	require.Equal(t, "amount_range", rule.RuleType)
	require.InDelta(t, 10.0, *rule.MinAmount, 1e-9)
	require.InDelta(t, 200.0, *rule.MaxAmount, 1e-9)

	updated, err := models.GetTransactionByID(db, tx.ID)
	require.NoError(t, err)
	require.False(t, updated.FlaggedForReview)
	require.Equal(t, "verify against next statement", updated.Notes)
}

func TestResolveAcceptWithExistingRuleConfirms(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, _ := newReviewService(t, db)
	tx := flaggedTransaction(t, db, "Groceries")

	existing := &models.CategorizationRule{MerchantPattern: "MERCHANT*", Category: "Groceries"}
	require.NoError(t, existing.Create(db))

	result, err := svc.Resolve(context.Background(), ReviewRequest{
		TransactionID: tx.ID,
		Decision:      DecisionAcceptWithRule,
		Rule:          &RuleRequest{Pattern: "MERCHANT*"},
	})
	require.NoError(t, err)
	require.False(t, result.RuleCreated)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM categorization_rules").Scan(&count))
	require.Equal(t, 1, count)

	confirmed, err := models.GetRuleByID(db, existing.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.6, *confirmed.AccuracyScore, 1e-9)
}

func TestResolveSkipLeavesFlagged(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, lessonsPath := newReviewService(t, db)
	tx := flaggedTransaction(t, db, "Groceries")

	result, err := svc.Resolve(context.Background(), ReviewRequest{
		TransactionID: tx.ID,
		Decision:      DecisionSkip,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	updated, err := models.GetTransactionByID(db, tx.ID)
	require.NoError(t, err)
	require.True(t, updated.FlaggedForReview)

	ledger, err := os.ReadFile(lessonsPath)
	require.NoError(t, err)
	require.Contains(t, string(ledger), "skip")
}

func TestResolveGuards(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc, _ := newReviewService(t, db)

	_, err := svc.Resolve(context.Background(), ReviewRequest{TransactionID: 404, Decision: DecisionAccept})
	require.ErrorIs(t, err, ErrTransactionNotFound)

	txs := ingestSample(t, db, 1)
	_, err = svc.Resolve(context.Background(), ReviewRequest{TransactionID: txs[0].ID, Decision: DecisionAccept})
	require.ErrorIs(t, err, ErrNotFlagged)

	tx := flaggedTransaction(t, db, "Groceries")
	_, err = svc.Resolve(context.Background(), ReviewRequest{TransactionID: tx.ID, Decision: "nonsense"})
	require.Error(t, err)
}
