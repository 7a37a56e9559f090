package models

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

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

func createTestAccount(t *testing.T, db *sql.DB, name string) *Account {
	t.Helper()

	account := &Account{
		AccountName: name,
		AccountType: "checking",
		BankName:    "Test Bank",
	}
	require.NoError(t, account.Create(db))
	return account
}
