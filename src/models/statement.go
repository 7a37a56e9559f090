package models

import (
	"database/sql"
	"errors"

	"github.com/username/lavenderledger/src/database"
)

// Statement is one ingested document covering a period for one account.
// Rows are immutable after creation. The (file_hash, account_id) pair is the
// natural key: the same physical document may cover several accounts, so a
// hash colliding on a different account is not a duplicate.
type Statement struct {
	ID                int64  `json:"id"`
	AccountID         int64  `json:"account_id"`
	StatementDate     string `json:"statement_date,omitempty"`
	PeriodStart       string `json:"period_start,omitempty"`
	PeriodEnd         string `json:"period_end,omitempty"`
	FilePath          string `json:"file_path"`
	FileHash          string `json:"file_hash"`
	TotalTransactions int    `json:"total_transactions"`
	ProcessedAt       string `json:"processed_at"`
}

func (s *Statement) Create(db *sql.DB) error {
	query := `
	INSERT INTO statements (account_id, statement_date, period_start, period_end, file_path, file_hash, total_transactions)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := db.Exec(query,
		s.AccountID,
		nullableString(s.StatementDate),
		nullableString(s.PeriodStart),
		nullableString(s.PeriodEnd),
		s.FilePath,
		s.FileHash,
		s.TotalTransactions,
	)
	if err != nil {
		return database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

// StatementExists reports whether a statement with the given content hash has
// already been recorded for this account.
func StatementExists(db *sql.DB, fileHash string, accountID int64) (bool, error) {
	var id int64
	err := db.QueryRow(
		`SELECT id FROM statements WHERE file_hash = ? AND account_id = ?`,
		fileHash, accountID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func GetStatementByID(db *sql.DB, id int64) (*Statement, error) {
	query := `
	SELECT id, account_id, statement_date, period_start, period_end, file_path, file_hash,
	       total_transactions, processed_at
	FROM statements
	WHERE id = ?`
	row := db.QueryRow(query, id)

	var s Statement
	var stmtDate, periodStart, periodEnd sql.NullString
	var totalTx sql.NullInt64
	err := row.Scan(&s.ID, &s.AccountID, &stmtDate, &periodStart, &periodEnd,
		&s.FilePath, &s.FileHash, &totalTx, &s.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	s.StatementDate = stmtDate.String
	s.PeriodStart = periodStart.String
	s.PeriodEnd = periodEnd.String
	s.TotalTransactions = int(totalTx.Int64)
	return &s, nil
}

func ListStatementsByAccount(db *sql.DB, accountID int64) ([]Statement, error) {
	query := `
	SELECT id, account_id, statement_date, period_start, period_end, file_path, file_hash,
	       total_transactions, processed_at
	FROM statements
	WHERE account_id = ?
	ORDER BY processed_at DESC, id DESC`
	rows, err := db.Query(query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statements := []Statement{}
	for rows.Next() {
		var s Statement
		var stmtDate, periodStart, periodEnd sql.NullString
		var totalTx sql.NullInt64
		if err := rows.Scan(&s.ID, &s.AccountID, &stmtDate, &periodStart, &periodEnd,
			&s.FilePath, &s.FileHash, &totalTx, &s.ProcessedAt); err != nil {
			return nil, err
		}
		s.StatementDate = stmtDate.String
		s.PeriodStart = periodStart.String
		s.PeriodEnd = periodEnd.String
		s.TotalTransactions = int(totalTx.Int64)
		statements = append(statements, s)
	}
	return statements, rows.Err()
}
