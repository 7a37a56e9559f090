package models

import (
	"database/sql"
	"errors"

	"github.com/username/lavenderledger/src/database"
)

// Account is a financial account tracked in the ledger. Identity is anchored
// on AccountName: the resolver matches by exact name and never reconciles
// other fields from a newer descriptor.
type Account struct {
	ID          int64  `json:"id"`
	AccountName string `json:"account_name"`
	AccountType string `json:"account_type"`
	BankName    string `json:"bank_name"`
	LastFour    string `json:"last_four,omitempty"`
	IsActive    bool   `json:"is_active"`
	CreatedAt   string `json:"created_at"`
}

func (a *Account) Create(db *sql.DB) error {
	query := `
	INSERT INTO accounts (account_name, account_type, bank_name, last_four, is_active)
	VALUES (?, ?, ?, ?, 1)`
	res, err := db.Exec(query, a.AccountName, a.AccountType, a.BankName, nullableString(a.LastFour))
	if err != nil {
		return database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	a.IsActive = true
	return nil
}

// GetAccountByName looks an account up by exact, case-sensitive name.
func GetAccountByName(db *sql.DB, name string) (*Account, error) {
	query := `
	SELECT id, account_name, account_type, bank_name, last_four, is_active, created_at
	FROM accounts
	WHERE account_name = ?`
	return scanAccount(db.QueryRow(query, name))
}

func GetAccountByID(db *sql.DB, id int64) (*Account, error) {
	query := `
	SELECT id, account_name, account_type, bank_name, last_four, is_active, created_at
	FROM accounts
	WHERE id = ?`
	return scanAccount(db.QueryRow(query, id))
}

func ListAccounts(db *sql.DB) ([]Account, error) {
	query := `
	SELECT id, account_name, account_type, bank_name, last_four, is_active, created_at
	FROM accounts
	ORDER BY account_name`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		var a Account
		var lastFour sql.NullString
		if err := rows.Scan(&a.ID, &a.AccountName, &a.AccountType, &a.BankName,
			&lastFour, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.LastFour = lastFour.String
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// DeactivateAccount logically deactivates an account. Accounts are never
// hard-deleted.
func DeactivateAccount(db *sql.DB, id int64) error {
	res, err := db.Exec(`UPDATE accounts SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	var lastFour sql.NullString
	err := row.Scan(&a.ID, &a.AccountName, &a.AccountType, &a.BankName,
		&lastFour, &a.IsActive, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	a.LastFour = lastFour.String
	return &a, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
