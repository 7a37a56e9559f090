package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListRulesByPriorityOrdering(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	// Inserted deliberately out of priority order.
	unconfirmedLong := &CategorizationRule{
		MerchantPattern: "WHOLEFDS MARKET DOWNTOWN BRANCH*",
		Category:        "Groceries",
	}
	require.NoError(t, unconfirmedLong.Create(db))

	confirmedShort := &CategorizationRule{
		MerchantPattern: "WHOLEFDS*",
		Category:        "Groceries",
		UserConfirmed:   true,
	}
	require.NoError(t, confirmedShort.Create(db))

	unconfirmedScored := &CategorizationRule{
		MerchantPattern: "NETFLIX.COM SUBSCRIPTION*",
		Category:        "Subscriptions",
	}
	require.NoError(t, unconfirmedScored.Create(db))
	require.NoError(t, RecordRuleFeedback(db, unconfirmedScored.ID, true))

	unconfirmedUnscored := &CategorizationRule{
		MerchantPattern: "SPOTIFY SUBSCRIPTION AB*X",
		Category:        "Subscriptions",
	}
	require.NoError(t, unconfirmedUnscored.Create(db))

	rules, err := ListRulesByPriority(db)
	require.NoError(t, err)
	require.Len(t, rules, 4)

	// User-confirmed first regardless of pattern length.
	require.Equal(t, confirmedShort.ID, rules[0].ID)
	// Then longest pattern among the unconfirmed.
	require.Equal(t, unconfirmedLong.ID, rules[1].ID)
	// Equal length: scored before unscored.
	require.Equal(t, unconfirmedScored.ID, rules[2].ID)
	require.Equal(t, unconfirmedUnscored.ID, rules[3].ID)
}

func TestRecordRuleFeedbackFromUnscoredBase(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	r := &CategorizationRule{MerchantPattern: "SHELL*", Category: "Transportation"}
	require.NoError(t, r.Create(db))
	require.Nil(t, r.AccuracyScore)

	require.NoError(t, RecordRuleFeedback(db, r.ID, true))
	got, err := GetRuleByID(db, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AccuracyScore)
	require.InDelta(t, 0.6, *got.AccuracyScore, 1e-9)
	require.Equal(t, 1, got.TimesApplied)
	require.Equal(t, 0, got.TimesRejected)
	require.NotEmpty(t, got.LastUsed)

	require.NoError(t, RecordRuleFeedback(db, r.ID, false))
	got, err = GetRuleByID(db, r.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.5, *got.AccuracyScore, 1e-9)
	require.Equal(t, 1, got.TimesApplied)
	require.Equal(t, 1, got.TimesRejected)
}

func TestRecordRuleFeedbackClampsScore(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	r := &CategorizationRule{MerchantPattern: "UBER*", Category: "Transportation"}
	require.NoError(t, r.Create(db))

	for i := 0; i < 10; i++ {
		require.NoError(t, RecordRuleFeedback(db, r.ID, true))
	}
	got, err := GetRuleByID(db, r.ID)
	require.NoError(t, err)
	require.InDelta(t, 1.0, *got.AccuracyScore, 1e-9)

	for i := 0; i < 20; i++ {
		require.NoError(t, RecordRuleFeedback(db, r.ID, false))
	}
	got, err = GetRuleByID(db, r.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.0, *got.AccuracyScore, 1e-9)
}

func TestCreateRuleDuplicatePattern(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)

	r := &CategorizationRule{MerchantPattern: "TRADER JOE*", Category: "Groceries"}
	require.NoError(t, r.Create(db))

	dup := &CategorizationRule{MerchantPattern: "TRADER JOE*", Category: "Shopping"}
	err := dup.Create(db)
	require.Error(t, err)
}
