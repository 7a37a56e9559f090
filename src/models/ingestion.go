package models

import (
	"database/sql"
	"errors"

	"github.com/username/lavenderledger/src/database"
)

// Ingestion log states.
const (
	LogStatusRunning   = "running"
	LogStatusCompleted = "completed"
	LogStatusFailed    = "failed"
)

// Batch and file states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// IngestionLog records one invocation of the ingestion pipeline.
type IngestionLog struct {
	ID                int64  `json:"id"`
	StartedAt         string `json:"started_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
	Status            string `json:"status"`
	FilesProcessed    int    `json:"files_processed"`
	TransactionsAdded int    `json:"transactions_added"`
	Errors            string `json:"errors,omitempty"`
	Summary           string `json:"summary,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// IngestionBatch is a chunk of files processed together within a log.
type IngestionBatch struct {
	ID             int64  `json:"id"`
	IngestionLogID int64  `json:"ingestion_log_id"`
	BatchNumber    int    `json:"batch_number"`
	StartedAt      string `json:"started_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
	Status         string `json:"status"`
	TotalFiles     int    `json:"total_files"`
	FilesProcessed int    `json:"files_processed"`
	FilesFailed    int    `json:"files_failed"`
	Summary        string `json:"summary,omitempty"`
}

// IngestionFileStatus is the per-file processing record. Results are
// persisted as they occur so a crash loses at most the in-flight file.
type IngestionFileStatus struct {
	ID                   int64  `json:"id"`
	IngestionLogID       int64  `json:"ingestion_log_id"`
	BatchID              *int64 `json:"batch_id,omitempty"`
	FileName             string `json:"file_name"`
	FileHash             string `json:"file_hash"`
	FilePath             string `json:"file_path"`
	Status               string `json:"status"`
	StartedAt            string `json:"started_at,omitempty"`
	CompletedAt          string `json:"completed_at,omitempty"`
	ErrorMessage         string `json:"error_message,omitempty"`
	StatementID          *int64 `json:"statement_id,omitempty"`
	TransactionsInserted *int   `json:"transactions_inserted,omitempty"`
}

func CreateIngestionLog(db *sql.DB) (*IngestionLog, error) {
	res, err := db.Exec(`
	INSERT INTO ingestion_log (started_at, status) VALUES (datetime('now'), 'running')`)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return GetIngestionLogByID(db, id)
}

func GetIngestionLogByID(db *sql.DB, id int64) (*IngestionLog, error) {
	row := db.QueryRow(selectIngestionLog+` WHERE id = ?`, id)
	return scanIngestionLog(row.Scan)
}

// FindResumableLog returns the most recent log still marked running, or
// sql.ErrNoRows when every prior run finished.
func FindResumableLog(db *sql.DB) (*IngestionLog, error) {
	row := db.QueryRow(selectIngestionLog + ` WHERE status = 'running' ORDER BY id DESC LIMIT 1`)
	return scanIngestionLog(row.Scan)
}

func ListIngestionLogs(db *sql.DB, limit int) ([]IngestionLog, error) {
	query := selectIngestionLog + ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		rows, err := db.Query(query, limit)
		if err != nil {
			return nil, err
		}
		return collectIngestionLogs(rows)
	}
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	return collectIngestionLogs(rows)
}

// CompleteIngestionLog finalizes a run with its aggregate counts.
func CompleteIngestionLog(db *sql.DB, id int64, filesProcessed, transactionsAdded int, summary string) error {
	res, err := db.Exec(`
	UPDATE ingestion_log
	SET status = 'completed', completed_at = datetime('now'),
	    files_processed = ?, transactions_added = ?, summary = ?
	WHERE id = ?`,
		filesProcessed, transactionsAdded, nullableString(summary), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// FailIngestionLog marks a run failed with its error text. Previously
// committed batch and file rows are left untouched so the run can resume.
func FailIngestionLog(db *sql.DB, id int64, errText string) error {
	res, err := db.Exec(`
	UPDATE ingestion_log
	SET status = 'failed', completed_at = datetime('now'), errors = ?
	WHERE id = ?`,
		nullableString(errText), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func CreateIngestionBatch(db *sql.DB, logID int64, batchNumber, totalFiles int) (*IngestionBatch, error) {
	res, err := db.Exec(`
	INSERT INTO ingestion_batches (ingestion_log_id, batch_number, started_at, status, total_files)
	VALUES (?, ?, datetime('now'), 'pending', ?)`,
		logID, batchNumber, totalFiles)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return GetIngestionBatchByID(db, id)
}

func GetIngestionBatchByID(db *sql.DB, id int64) (*IngestionBatch, error) {
	row := db.QueryRow(selectIngestionBatch+` WHERE id = ?`, id)
	return scanIngestionBatch(row.Scan)
}

func GetBatchByNumber(db *sql.DB, logID int64, batchNumber int) (*IngestionBatch, error) {
	row := db.QueryRow(selectIngestionBatch+`
	WHERE ingestion_log_id = ? AND batch_number = ?`, logID, batchNumber)
	return scanIngestionBatch(row.Scan)
}

func ListBatchesByLog(db *sql.DB, logID int64) ([]IngestionBatch, error) {
	rows, err := db.Query(selectIngestionBatch+` WHERE ingestion_log_id = ? ORDER BY batch_number`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []IngestionBatch{}
	for rows.Next() {
		b, err := scanIngestionBatch(rows.Scan)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

// FindFirstUnfinishedBatch locates the lowest-numbered batch that has not
// reached the completed state, or sql.ErrNoRows when all batches completed.
func FindFirstUnfinishedBatch(db *sql.DB, logID int64) (*IngestionBatch, error) {
	row := db.QueryRow(selectIngestionBatch+`
	WHERE ingestion_log_id = ? AND status != 'completed'
	ORDER BY batch_number LIMIT 1`, logID)
	return scanIngestionBatch(row.Scan)
}

func MarkBatchProcessing(db *sql.DB, id int64) error {
	return execStatusUpdate(db, `
	UPDATE ingestion_batches SET status = 'processing' WHERE id = ?`, id)
}

func MarkBatchCompleted(db *sql.DB, id int64, filesProcessed, filesFailed int, summary string) error {
	res, err := db.Exec(`
	UPDATE ingestion_batches
	SET status = 'completed', completed_at = datetime('now'),
	    files_processed = ?, files_failed = ?, summary = ?
	WHERE id = ?`,
		filesProcessed, filesFailed, nullableString(summary), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func MarkBatchFailed(db *sql.DB, id int64, summary string) error {
	res, err := db.Exec(`
	UPDATE ingestion_batches
	SET status = 'failed', completed_at = datetime('now'), summary = ?
	WHERE id = ?`,
		nullableString(summary), id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func CreateFileStatus(db *sql.DB, logID int64, batchID *int64, fileName, fileHash, filePath string) (*IngestionFileStatus, error) {
	res, err := db.Exec(`
	INSERT INTO ingestion_file_status (ingestion_log_id, batch_id, file_name, file_hash, file_path, status)
	VALUES (?, ?, ?, ?, ?, 'pending')`,
		logID, batchID, fileName, fileHash, filePath)
	if err != nil {
		return nil, database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return GetFileStatusByID(db, id)
}

func GetFileStatusByID(db *sql.DB, id int64) (*IngestionFileStatus, error) {
	row := db.QueryRow(selectFileStatus+` WHERE id = ?`, id)
	return scanFileStatus(row.Scan)
}

func ListFilesByBatch(db *sql.DB, batchID int64) ([]IngestionFileStatus, error) {
	rows, err := db.Query(selectFileStatus+` WHERE batch_id = ? ORDER BY id`, batchID)
	if err != nil {
		return nil, err
	}
	return collectFileStatuses(rows)
}

func ListFilesByLog(db *sql.DB, logID int64) ([]IngestionFileStatus, error) {
	rows, err := db.Query(selectFileStatus+` WHERE ingestion_log_id = ? ORDER BY id`, logID)
	if err != nil {
		return nil, err
	}
	return collectFileStatuses(rows)
}

// ListCompletedFileHashes returns the hashes of every file already processed
// under a log, used to skip re-offered files on resume.
func ListCompletedFileHashes(db *sql.DB, logID int64) ([]string, error) {
	rows, err := db.Query(`
	SELECT file_hash FROM ingestion_file_status
	WHERE ingestion_log_id = ? AND status = 'completed'
	ORDER BY id`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// ListCompletedFilesWithoutStatement finds completed file rows with no linked
// statement, a data-integrity condition surfaced as a warning rather than
// auto-repaired.
func ListCompletedFilesWithoutStatement(db *sql.DB, logID int64) ([]IngestionFileStatus, error) {
	rows, err := db.Query(selectFileStatus+`
	WHERE ingestion_log_id = ? AND status = 'completed' AND statement_id IS NULL
	ORDER BY id`, logID)
	if err != nil {
		return nil, err
	}
	return collectFileStatuses(rows)
}

func MarkFileProcessing(db *sql.DB, id int64) error {
	return execStatusUpdate(db, `
	UPDATE ingestion_file_status
	SET status = 'processing', started_at = datetime('now'), error_message = NULL
	WHERE id = ?`, id)
}

func MarkFileCompleted(db *sql.DB, id, statementID int64, transactionsInserted int) error {
	res, err := db.Exec(`
	UPDATE ingestion_file_status
	SET status = 'completed', completed_at = datetime('now'),
	    statement_id = ?, transactions_inserted = ?, error_message = NULL
	WHERE id = ?`,
		statementID, transactionsInserted, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// MarkFileSkipped records a duplicate statement as completed without a new
// statement row.
func MarkFileSkipped(db *sql.DB, id int64) error {
	return execStatusUpdate(db, `
	UPDATE ingestion_file_status
	SET status = 'completed', completed_at = datetime('now'),
	    transactions_inserted = 0, error_message = NULL
	WHERE id = ?`, id)
}

func MarkFileFailed(db *sql.DB, id int64, errMsg string) error {
	res, err := db.Exec(`
	UPDATE ingestion_file_status
	SET status = 'failed', completed_at = datetime('now'), error_message = ?
	WHERE id = ?`,
		errMsg, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

const selectIngestionLog = `
	SELECT id, started_at, completed_at, status, files_processed, transactions_added,
	       errors, summary, created_at
	FROM ingestion_log`

const selectIngestionBatch = `
	SELECT id, ingestion_log_id, batch_number, started_at, completed_at, status,
	       total_files, files_processed, files_failed, summary
	FROM ingestion_batches`

const selectFileStatus = `
	SELECT id, ingestion_log_id, batch_id, file_name, file_hash, file_path, status,
	       started_at, completed_at, error_message, statement_id, transactions_inserted
	FROM ingestion_file_status`

func scanIngestionLog(scan func(...interface{}) error) (*IngestionLog, error) {
	var l IngestionLog
	var completedAt, errText, summary sql.NullString
	err := scan(&l.ID, &l.StartedAt, &completedAt, &l.Status, &l.FilesProcessed,
		&l.TransactionsAdded, &errText, &summary, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	l.CompletedAt = completedAt.String
	l.Errors = errText.String
	l.Summary = summary.String
	return &l, nil
}

func collectIngestionLogs(rows *sql.Rows) ([]IngestionLog, error) {
	defer rows.Close()
	logs := []IngestionLog{}
	for rows.Next() {
		l, err := scanIngestionLog(rows.Scan)
		if err != nil {
			return nil, err
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func scanIngestionBatch(scan func(...interface{}) error) (*IngestionBatch, error) {
	var b IngestionBatch
	var completedAt, summary sql.NullString
	err := scan(&b.ID, &b.IngestionLogID, &b.BatchNumber, &b.StartedAt, &completedAt,
		&b.Status, &b.TotalFiles, &b.FilesProcessed, &b.FilesFailed, &summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	b.CompletedAt = completedAt.String
	b.Summary = summary.String
	return &b, nil
}

func scanFileStatus(scan func(...interface{}) error) (*IngestionFileStatus, error) {
	var f IngestionFileStatus
	var batchID, statementID sql.NullInt64
	var startedAt, completedAt, errMsg sql.NullString
	var inserted sql.NullInt64
	err := scan(&f.ID, &f.IngestionLogID, &batchID, &f.FileName, &f.FileHash, &f.FilePath,
		&f.Status, &startedAt, &completedAt, &errMsg, &statementID, &inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	if batchID.Valid {
		f.BatchID = &batchID.Int64
	}
	if statementID.Valid {
		f.StatementID = &statementID.Int64
	}
	if inserted.Valid {
		n := int(inserted.Int64)
		f.TransactionsInserted = &n
	}
	f.StartedAt = startedAt.String
	f.CompletedAt = completedAt.String
	f.ErrorMessage = errMsg.String
	return &f, nil
}

func collectFileStatuses(rows *sql.Rows) ([]IngestionFileStatus, error) {
	defer rows.Close()
	files := []IngestionFileStatus{}
	for rows.Next() {
		f, err := scanFileStatus(rows.Scan)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func execStatusUpdate(db *sql.DB, query string, id int64) error {
	res, err := db.Exec(query, id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}
