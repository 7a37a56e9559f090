package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/username/lavenderledger/src/models"
)

func ingestSample(t *testing.T, db *sql.DB, n int) []models.Transaction {
	t.Helper()

	svc := NewStatementService(db, nil)
	_, err := svc.InsertStatement(context.Background(), testStatement("Chase Checking", "hash-a", n))
	require.NoError(t, err)

	account, err := models.GetAccountByName(db, "Chase Checking")
	require.NoError(t, err)
	txs, err := models.ListTransactionsByAccount(db, account.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, n)
	return txs
}

func TestApplyCategorizationsFlaggingBoundary(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	txs := ingestSample(t, db, 3)
	svc := NewCategorizationService(db, testConfig())

	result, err := svc.ApplyCategorizations(context.Background(), CategorizationResult{
		Categorizations: []Categorization{
			{TransactionID: txs[0].ID, Category: "Groceries", Confidence: 0.7},
			{TransactionID: txs[1].ID, Category: "Groceries", Confidence: 0.69},
			{TransactionID: txs[2].ID, Category: "Groceries", Confidence: 0.95},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Updated)
	require.Equal(t, 1, result.Flagged)
	require.Equal(t, 0, result.Errored)

	// Exactly at the threshold is not flagged; strictly below is.
	atThreshold, err := models.GetTransactionByID(db, txs[0].ID)
	require.NoError(t, err)
	require.False(t, atThreshold.FlaggedForReview)
	require.InDelta(t, 0.7, *atThreshold.ConfidenceScore, 1e-9)

	below, err := models.GetTransactionByID(db, txs[1].ID)
	require.NoError(t, err)
	require.True(t, below.FlaggedForReview)
}

func TestApplyCategorizationsAutoRule(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	txs := ingestSample(t, db, 3)
	svc := NewCategorizationService(db, testConfig())

	longReasoning := ""
	for i := 0; i < 30; i++ {
		longReasoning += "merchant"
	}

	result, err := svc.ApplyCategorizations(context.Background(), CategorizationResult{
		Categorizations: []Categorization{
			// At the auto-rule threshold with a pattern: rule created.
			{TransactionID: txs[0].ID, Category: "Groceries", Confidence: 0.85, RulePattern: "WHOLEFDS*", Reasoning: longReasoning},
			// Below the threshold: no rule.
			{TransactionID: txs[1].ID, Category: "Dining & Restaurants", Confidence: 0.80, RulePattern: "CHIPOTLE*"},
			// No suggested pattern: no rule.
			{TransactionID: txs[2].ID, Category: "Shopping", Confidence: 0.99},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.RulesCreated)

	rule, err := models.GetRuleByPattern(db, "WHOLEFDS*")
	require.NoError(t, err)
	require.True(t, rule.AutoCreated)
	require.False(t, rule.UserConfirmed)
	require.InDelta(t, 0.85, rule.Confidence, 1e-9)
	require.Contains(t, rule.Notes, "Auto-created: ")
	// Reasoning is truncated into the provenance note.
	require.Len(t, rule.Notes, len("Auto-created: ")+100)

	_, err = models.GetRuleByPattern(db, "CHIPOTLE*")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApplyCategorizationsExistingPatternNotDuplicated(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	txs := ingestSample(t, db, 1)
	svc := NewCategorizationService(db, testConfig())

	existing := &models.CategorizationRule{MerchantPattern: "WHOLEFDS*", Category: "Groceries"}
	require.NoError(t, existing.Create(db))

	result, err := svc.ApplyCategorizations(context.Background(), CategorizationResult{
		Categorizations: []Categorization{
			{TransactionID: txs[0].ID, Category: "Groceries", Confidence: 0.9, RulePattern: "WHOLEFDS*"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.RulesCreated)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM categorization_rules").Scan(&count))
	require.Equal(t, 1, count)
}

func TestApplyCategorizationsBadEntriesCounted(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	txs := ingestSample(t, db, 1)
	svc := NewCategorizationService(db, testConfig())

	result, err := svc.ApplyCategorizations(context.Background(), CategorizationResult{
		Categorizations: []Categorization{
			{TransactionID: txs[0].ID, Category: "Groceries", Confidence: 0.9},
			{TransactionID: 99999, Category: "Groceries", Confidence: 0.9},
			{TransactionID: txs[0].ID, Category: "", Confidence: 0.9},
			{TransactionID: txs[0].ID, Category: "Groceries", Confidence: 1.5},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)
	require.Equal(t, 3, result.Errored)
	require.Len(t, result.Errors, 3)
}

func TestApplyRuleMatches(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := NewCategorizationService(db, testConfig())

	stmtSvc := NewStatementService(db, nil)
	parsed := testStatement("Chase Checking", "hash-a", 0)
	parsed.Transactions = []ParsedTransaction{
		{TransactionDate: "2026-08-01", Amount: -42.00, TransactionType: "expense", MerchantOriginal: "WHOLEFDS MARKET #123"},
		{TransactionDate: "2026-08-02", Amount: -9.99, TransactionType: "expense", MerchantOriginal: "MYSTERY VENDOR"},
	}
	_, err := stmtSvc.InsertStatement(context.Background(), parsed)
	require.NoError(t, err)

	rule := &models.CategorizationRule{
		MerchantPattern: "WHOLEFDS*",
		Category:        "Groceries",
		Confidence:      0.9,
		UserConfirmed:   true,
	}
	require.NoError(t, rule.Create(db))

	result, err := svc.ApplyRuleMatches(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Examined)
	require.Equal(t, 1, result.Categorized)
	require.Equal(t, 0, result.Flagged)

	// The matched transaction took the rule's category; the other stayed
	// uncategorized for the external categorizer.
	remaining, err := models.ListUncategorizedTransactions(db, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "MYSTERY VENDOR", remaining[0].MerchantOriginal)

	updated, err := models.GetRuleByID(db, rule.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.TimesApplied)
}
