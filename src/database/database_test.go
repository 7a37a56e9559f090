package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openMigrated(t *testing.T) (string, *sql.DB) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrations, err := filepath.Abs("../../db/migrations")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(db, dbPath, migrations))
	return dbPath, db
}

func TestRunMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath, db := openMigrated(t)
	migrations, err := filepath.Abs("../../db/migrations")
	require.NoError(t, err)

	// A second run is a no-op, not an error.
	require.NoError(t, RunMigrations(db, dbPath, migrations))

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='transactions'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestOpenReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()

	dbPath, rw := openMigrated(t)
	_, err := rw.Exec(`INSERT INTO accounts (account_name, account_type, bank_name) VALUES ('A', 'checking', 'Bank')`)
	require.NoError(t, err)

	ro, err := OpenReadOnly(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ro.Close() })

	var name string
	require.NoError(t, ro.QueryRow(`SELECT account_name FROM accounts`).Scan(&name))
	require.Equal(t, "A", name)

	_, err = ro.Exec(`INSERT INTO accounts (account_name, account_type, bank_name) VALUES ('B', 'checking', 'Bank')`)
	require.Error(t, err)
}

func TestConstraintClassification(t *testing.T) {
	t.Parallel()

	_, db := openMigrated(t)
	_, err := db.Exec(`INSERT INTO accounts (account_name, account_type, bank_name) VALUES ('A', 'checking', 'Bank')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO accounts (account_name, account_type, bank_name) VALUES ('A', 'credit', 'Other')`)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))
	require.False(t, IsCheckViolation(err))
	require.ErrorIs(t, TranslateError(err), ErrConstraint)

	_, err = db.Exec(`
	INSERT INTO transactions (account_id, transaction_date, amount, transaction_type, merchant_original)
	VALUES (1, '2026-08-01', -5.0, 'withdrawal', 'ATM')`)
	require.Error(t, err)
	require.True(t, IsCheckViolation(err))
	require.False(t, IsUniqueViolation(err))
	require.ErrorIs(t, TranslateError(err), ErrConstraint)

	require.NoError(t, TranslateError(nil))
	plain := errors.New("disk I/O error")
	require.False(t, errors.Is(TranslateError(plain), ErrConstraint))
}
