package services

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/username/lavenderledger/src/config"
	"github.com/username/lavenderledger/src/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations, err := filepath.Abs("../../db/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, dbPath, migrations))
	return db
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		ConfidenceThreshold: 0.7,
		AutoRuleThreshold:   0.85,
		AutoCreateRules:     true,
		CacheExpiration:     time.Minute,
	}
}

// testStatement builds a parsed statement with n distinct expense rows.
func testStatement(accountName, fileHash string, n int) ParsedStatement {
	parsed := ParsedStatement{
		AccountInfo: ParsedAccountInfo{
			BankName:    "Test Bank",
			AccountType: "checking",
			AccountName: accountName,
			LastFour:    "1234",
			PeriodStart: "2026-08-01",
			PeriodEnd:   "2026-08-31",
		},
		FileHash: fileHash,
	}
	for i := 0; i < n; i++ {
		parsed.Transactions = append(parsed.Transactions, ParsedTransaction{
			TransactionDate:  fmt.Sprintf("2026-08-%02d", i+1),
			Amount:           -float64(10 + i),
			TransactionType:  "expense",
			MerchantOriginal: fmt.Sprintf("MERCHANT %d", i),
		})
	}
	return parsed
}
