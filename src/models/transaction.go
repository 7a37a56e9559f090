package models

import (
	"database/sql"
	"errors"

	"github.com/username/lavenderledger/src/database"
)

// Transaction types form a closed set, enforced by a CHECK constraint on the
// store. Raw synonyms ("deposit", "withdrawal") must be normalized upstream.
const (
	TypeIncome   = "income"
	TypeExpense  = "expense"
	TypePayment  = "payment"
	TypeTransfer = "transfer"
	TypeInterest = "interest"
	TypeFee      = "fee"
)

// Transaction is a single monetary event. Amounts are signed: expenses are
// negative. The (account_id, transaction_date, amount, merchant_original)
// tuple is the natural key used for duplicate detection.
type Transaction struct {
	ID               int64    `json:"id"`
	StatementID      *int64   `json:"statement_id,omitempty"`
	AccountID        int64    `json:"account_id"`
	TransactionDate  string   `json:"transaction_date"`
	PostDate         string   `json:"post_date,omitempty"`
	Amount           float64  `json:"amount"`
	TransactionType  string   `json:"transaction_type"`
	MerchantOriginal string   `json:"merchant_original"`
	MerchantCleaned  string   `json:"merchant_cleaned,omitempty"`
	Description      string   `json:"description,omitempty"`
	Category         string   `json:"category,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty"`
	FlaggedForReview bool     `json:"flagged_for_review"`
	Notes            string   `json:"notes,omitempty"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

func (t *Transaction) Create(db *sql.DB) error {
	query := `
	INSERT INTO transactions (statement_id, account_id, transaction_date, post_date, amount,
	                          transaction_type, merchant_original, merchant_cleaned, description,
	                          category, confidence_score, flagged_for_review, notes)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := db.Exec(query,
		t.StatementID,
		t.AccountID,
		t.TransactionDate,
		nullableString(t.PostDate),
		t.Amount,
		t.TransactionType,
		t.MerchantOriginal,
		nullableString(t.MerchantCleaned),
		nullableString(t.Description),
		nullableString(t.Category),
		t.ConfidenceScore,
		t.FlaggedForReview,
		nullableString(t.Notes),
	)
	if err != nil {
		return database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = id
	return nil
}

// TransactionExists checks the natural key before an insert is attempted, so
// overlapping statements (monthly plus consolidated exports) can skip rows
// they share without tripping the UNIQUE constraint.
func TransactionExists(db *sql.DB, accountID int64, date string, amount float64, merchantOriginal string) (bool, error) {
	var id int64
	err := db.QueryRow(`
	SELECT id FROM transactions
	WHERE account_id = ? AND transaction_date = ? AND amount = ? AND merchant_original = ?`,
		accountID, date, amount, merchantOriginal,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func GetTransactionByID(db *sql.DB, id int64) (*Transaction, error) {
	row := db.QueryRow(selectTransaction+` WHERE t.id = ?`, id)
	t, err := scanTransactionRow(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return t, nil
}

// ListFlaggedTransactions returns the review queue, oldest first so reviewers
// work through it in ingestion order.
func ListFlaggedTransactions(db *sql.DB, limit int) ([]Transaction, error) {
	query := selectTransaction + `
	WHERE t.flagged_for_review = 1
	ORDER BY t.transaction_date, t.id`
	return queryTransactions(db, query, limit)
}

// ListUncategorizedTransactions returns transactions still awaiting an
// external categorization result.
func ListUncategorizedTransactions(db *sql.DB, limit int) ([]Transaction, error) {
	query := selectTransaction + `
	WHERE t.category IS NULL
	ORDER BY t.transaction_date, t.id`
	return queryTransactions(db, query, limit)
}

func ListTransactionsByAccount(db *sql.DB, accountID int64, limit int) ([]Transaction, error) {
	query := selectTransaction + `
	WHERE t.account_id = ?
	ORDER BY t.transaction_date DESC, t.id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		rows, err := db.Query(query, accountID, limit)
		if err != nil {
			return nil, err
		}
		return collectTransactions(rows)
	}
	rows, err := db.Query(query, accountID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// SetTransactionCategory applies a categorization result: category plus
// confidence, flagging the row when confidence falls strictly below the
// review threshold.
func SetTransactionCategory(db *sql.DB, id int64, category string, confidence float64, flagged bool) error {
	res, err := db.Exec(`
	UPDATE transactions
	SET category = ?, confidence_score = ?, flagged_for_review = ?, updated_at = datetime('now')
	WHERE id = ?`,
		category, confidence, flagged, id)
	if err != nil {
		return database.TranslateError(err)
	}
	return requireRowAffected(res)
}

// ResolveTransactionReview records a human decision: the category becomes
// authoritative (confidence 1.0) and the review flag clears.
func ResolveTransactionReview(db *sql.DB, id int64, category string) error {
	res, err := db.Exec(`
	UPDATE transactions
	SET category = ?, confidence_score = 1.0, flagged_for_review = 0, updated_at = datetime('now')
	WHERE id = ?`,
		category, id)
	if err != nil {
		return database.TranslateError(err)
	}
	return requireRowAffected(res)
}

func UpdateTransactionNotes(db *sql.DB, id int64, notes string) error {
	res, err := db.Exec(`
	UPDATE transactions SET notes = ?, updated_at = datetime('now') WHERE id = ?`,
		nullableString(notes), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// CategorySpending is one row of a spending summary.
type CategorySpending struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// SpendingByCategory sums spending per category over an inclusive date range.
// Expenses are stored negative, so totals are negated into positive spend.
func SpendingByCategory(db *sql.DB, startDate, endDate string) ([]CategorySpending, error) {
	query := `
	SELECT COALESCE(category, 'Uncategorized') AS category, -SUM(amount) AS total, COUNT(*) AS cnt
	FROM transactions
	WHERE transaction_type = 'expense' AND transaction_date >= ? AND transaction_date <= ?
	GROUP BY COALESCE(category, 'Uncategorized')
	ORDER BY total DESC`
	rows, err := db.Query(query, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := []CategorySpending{}
	for rows.Next() {
		var cs CategorySpending
		if err := rows.Scan(&cs.Category, &cs.Total, &cs.Count); err != nil {
			return nil, err
		}
		summary = append(summary, cs)
	}
	return summary, rows.Err()
}

const selectTransaction = `
	SELECT t.id, t.statement_id, t.account_id, t.transaction_date, t.post_date, t.amount,
	       t.transaction_type, t.merchant_original, t.merchant_cleaned, t.description,
	       t.category, t.confidence_score, t.flagged_for_review, t.notes, t.created_at, t.updated_at
	FROM transactions t`

func queryTransactions(db *sql.DB, query string, limit int) ([]Transaction, error) {
	if limit > 0 {
		query += ` LIMIT ?`
		rows, err := db.Query(query, limit)
		if err != nil {
			return nil, err
		}
		return collectTransactions(rows)
	}
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]Transaction, error) {
	defer rows.Close()
	transactions := []Transaction{}
	for rows.Next() {
		t, err := scanTransactionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

func scanTransactionRow(scan func(...interface{}) error) (*Transaction, error) {
	var t Transaction
	var statementID sql.NullInt64
	var postDate, merchantCleaned, description, category, notes sql.NullString
	var confidence sql.NullFloat64

	err := scan(&t.ID, &statementID, &t.AccountID, &t.TransactionDate, &postDate, &t.Amount,
		&t.TransactionType, &t.MerchantOriginal, &merchantCleaned, &description,
		&category, &confidence, &t.FlaggedForReview, &notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if statementID.Valid {
		t.StatementID = &statementID.Int64
	}
	t.PostDate = postDate.String
	t.MerchantCleaned = merchantCleaned.String
	t.Description = description.String
	t.Category = category.String
	if confidence.Valid {
		t.ConfidenceScore = &confidence.Float64
	}
	t.Notes = notes.String
	return &t, nil
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
