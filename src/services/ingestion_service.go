package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/username/lavenderledger/src/database"
	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
)

var ErrLogNotFound = errors.New("ingestion log not found")

type ingestionServiceImpl struct {
	db         *sql.DB
	statements StatementService
}

func NewIngestionService(db *sql.DB, statements StatementService) IngestionService {
	return &ingestionServiceImpl{
		db:         db,
		statements: statements,
	}
}

// StartRun opens a new ingestion log in the running state.
func (s *ingestionServiceImpl) StartRun(ctx context.Context) (*models.IngestionLog, error) {
	log, err := models.CreateIngestionLog(s.db)
	if err != nil {
		return nil, fmt.Errorf("creating ingestion log: %w", err)
	}
	logger.FromContext(ctx).Info("ingestion run started", "logID", log.ID)
	return log, nil
}

// ProcessBatch processes one batch of parsed files under a log. Per-file
// outcomes are persisted as they occur, so a crash after N of M files loses
// at most the in-flight file. A failing file marks its own row failed and
// processing continues with its siblings.
func (s *ingestionServiceImpl) ProcessBatch(ctx context.Context, logID int64, batchNumber int, files []IngestionFile) (*BatchResult, error) {
	log := logger.FromContext(ctx)

	if _, err := models.GetIngestionLogByID(s.db, logID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}

	batch, err := s.openBatch(logID, batchNumber, len(files))
	if err != nil {
		return nil, err
	}
	if err := models.MarkBatchProcessing(s.db, batch.ID); err != nil {
		return nil, err
	}

	result := &BatchResult{BatchID: batch.ID, BatchNumber: batchNumber}

	completedHashes, err := models.ListCompletedFileHashes(s.db, logID)
	if err != nil {
		return nil, err
	}
	done := map[string]bool{}
	for _, h := range completedHashes {
		done[h] = true
	}

	for _, file := range files {
		if done[file.Parsed.FileHash] {
			log.Info("file already completed in this run, skipping",
				"logID", logID, "fileName", file.FileName, "fileHash", file.Parsed.FileHash)
			continue
		}

		insertResult, fileErr := s.processFile(ctx, logID, batch.ID, file)
		if fileErr != nil {
			result.FilesFailed++
			log.Warn("file failed",
				"logID", logID, "batchID", batch.ID, "fileName", file.FileName, "error", fileErr.Error())
			continue
		}
		result.FilesProcessed++
		result.TransactionsAdded += insertResult.TransactionsInserted
		done[file.Parsed.FileHash] = true
	}

	summary := fmt.Sprintf("%d processed, %d failed, %d transactions added",
		result.FilesProcessed, result.FilesFailed, result.TransactionsAdded)
	if result.FilesFailed > 0 && result.FilesProcessed == 0 && len(files) > 0 {
		result.Status = models.StatusFailed
		if err := models.MarkBatchFailed(s.db, batch.ID, summary); err != nil {
			return nil, err
		}
	} else {
		result.Status = models.StatusCompleted
		if err := models.MarkBatchCompleted(s.db, batch.ID, result.FilesProcessed, result.FilesFailed, summary); err != nil {
			return nil, err
		}
	}

	log.Info("batch finished",
		"logID", logID, "batchID", batch.ID, "batchNumber", batchNumber,
		"status", result.Status, "summary", summary)
	return result, nil
}

// openBatch creates the batch row, or reuses the existing one when a resumed
// run re-offers the same batch number.
func (s *ingestionServiceImpl) openBatch(logID int64, batchNumber, totalFiles int) (*models.IngestionBatch, error) {
	batch, err := models.CreateIngestionBatch(s.db, logID, batchNumber, totalFiles)
	if err == nil {
		return batch, nil
	}
	if errors.Is(err, database.ErrConstraint) {
		return models.GetBatchByNumber(s.db, logID, batchNumber)
	}
	return nil, fmt.Errorf("creating batch %d: %w", batchNumber, err)
}

// processFile runs one file through its status lifecycle. Expected
// duplicates complete the file with zero insertions; anything else failing
// marks the file failed and returns the error for counting.
func (s *ingestionServiceImpl) processFile(ctx context.Context, logID, batchID int64, file IngestionFile) (*StatementInsertResult, error) {
	fileStatus, err := s.findOrCreateFileStatus(logID, batchID, file)
	if err != nil {
		return nil, err
	}
	if err := models.MarkFileProcessing(s.db, fileStatus.ID); err != nil {
		return nil, err
	}

	insertResult, err := s.statements.InsertStatement(ctx, file.Parsed)
	if err != nil {
		msg := err.Error()
		if markErr := models.MarkFileFailed(s.db, fileStatus.ID, msg); markErr != nil {
			return nil, fmt.Errorf("marking file failed: %v (original error: %w)", markErr, err)
		}
		return nil, err
	}

	if insertResult.DuplicateStatement {
		if err := models.MarkFileSkipped(s.db, fileStatus.ID); err != nil {
			return nil, err
		}
		return insertResult, nil
	}

	if err := models.MarkFileCompleted(s.db, fileStatus.ID, insertResult.StatementID, insertResult.TransactionsInserted); err != nil {
		return nil, err
	}
	return insertResult, nil
}

// findOrCreateFileStatus reuses an existing pending or failed row for the
// same hash under this log (the retry path) instead of creating a second
// record for the same file.
func (s *ingestionServiceImpl) findOrCreateFileStatus(logID, batchID int64, file IngestionFile) (*models.IngestionFileStatus, error) {
	existing, err := models.ListFilesByLog(s.db, logID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		f := &existing[i]
		if f.FileHash == file.Parsed.FileHash && f.Status != models.StatusCompleted {
			return f, nil
		}
	}
	return models.CreateFileStatus(s.db, logID, &batchID, file.FileName, file.Parsed.FileHash, file.Parsed.FilePath)
}

// DetectResumeState inspects a log's batches and files and reports what a
// resumed invocation must redo. With logID zero it looks for the most recent
// log still marked running. Files in pending or failed state form the retry
// set; completed file hashes are returned so re-offered files are skipped.
func (s *ingestionServiceImpl) DetectResumeState(ctx context.Context, logID int64) (*ResumeState, error) {
	log := logger.FromContext(ctx)

	var ingestionLog *models.IngestionLog
	var err error
	if logID == 0 {
		ingestionLog, err = models.FindResumableLog(s.db)
		if errors.Is(err, sql.ErrNoRows) {
			return &ResumeState{
				Resumable:       false,
				PendingFiles:    []models.IngestionFileStatus{},
				FailedFiles:     []models.IngestionFileStatus{},
				CompletedHashes: []string{},
			}, nil
		}
	} else {
		ingestionLog, err = models.GetIngestionLogByID(s.db, logID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogNotFound
		}
	}
	if err != nil {
		return nil, err
	}

	state := &ResumeState{
		LogID:           ingestionLog.ID,
		PendingFiles:    []models.IngestionFileStatus{},
		FailedFiles:     []models.IngestionFileStatus{},
		CompletedHashes: []string{},
	}

	batches, err := models.ListBatchesByLog(s.db, ingestionLog.ID)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		if ingestionLog.Status == models.LogStatusRunning {
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("log %d is running but has no batches", ingestionLog.ID))
		}
		return state, nil
	}

	batch, err := models.FindFirstUnfinishedBatch(s.db, ingestionLog.ID)
	if errors.Is(err, sql.ErrNoRows) {
		// Every batch completed; nothing to resume.
		if ingestionLog.Status == models.LogStatusRunning {
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("log %d has all batches completed but was never finalized", ingestionLog.ID))
		}
		return state, nil
	}
	if err != nil {
		return nil, err
	}

	state.Resumable = true
	state.CurrentBatch = batch

	files, err := models.ListFilesByBatch(s.db, batch.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		switch f.Status {
		case models.StatusPending:
			state.PendingFiles = append(state.PendingFiles, f)
		case models.StatusFailed:
			state.FailedFiles = append(state.FailedFiles, f)
		case models.StatusProcessing:
			// Interrupted mid-file; the insert may or may not have
			// committed. The dedup checks make re-processing safe.
			state.PendingFiles = append(state.PendingFiles, f)
			state.Warnings = append(state.Warnings,
				fmt.Sprintf("file %q was interrupted mid-processing", f.FileName))
		}
	}

	hashes, err := models.ListCompletedFileHashes(s.db, ingestionLog.ID)
	if err != nil {
		return nil, err
	}
	state.CompletedHashes = hashes

	orphaned, err := models.ListCompletedFilesWithoutStatement(s.db, ingestionLog.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range orphaned {
		if f.TransactionsInserted != nil && *f.TransactionsInserted == 0 {
			// Duplicate statements complete without a statement link.
			continue
		}
		state.Warnings = append(state.Warnings,
			fmt.Sprintf("file %q is completed but has no linked statement", f.FileName))
	}

	log.Info("resume state computed",
		"logID", ingestionLog.ID,
		"resumable", state.Resumable,
		"currentBatch", batch.BatchNumber,
		"pending", len(state.PendingFiles),
		"failed", len(state.FailedFiles),
		"completedHashes", len(state.CompletedHashes),
		"warnings", len(state.Warnings))
	return state, nil
}

// RetryFile re-processes one file from the resume set. The file row must be
// pending, failed or interrupted; completed files are refused so a retry can
// never double-insert.
func (s *ingestionServiceImpl) RetryFile(ctx context.Context, fileStatusID int64, parsed ParsedStatement) (*StatementInsertResult, error) {
	fileStatus, err := models.GetFileStatusByID(s.db, fileStatusID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file status %d not found", fileStatusID)
		}
		return nil, err
	}
	if fileStatus.Status == models.StatusCompleted {
		return nil, fmt.Errorf("file %q is already completed", fileStatus.FileName)
	}
	if parsed.FileHash != fileStatus.FileHash {
		return nil, fmt.Errorf("parsed content hash %q does not match recorded hash %q",
			parsed.FileHash, fileStatus.FileHash)
	}

	if err := models.MarkFileProcessing(s.db, fileStatus.ID); err != nil {
		return nil, err
	}

	insertResult, err := s.statements.InsertStatement(ctx, parsed)
	if err != nil {
		if markErr := models.MarkFileFailed(s.db, fileStatus.ID, err.Error()); markErr != nil {
			return nil, fmt.Errorf("marking file failed: %v (original error: %w)", markErr, err)
		}
		return nil, err
	}

	if insertResult.DuplicateStatement {
		if err := models.MarkFileSkipped(s.db, fileStatus.ID); err != nil {
			return nil, err
		}
		return insertResult, nil
	}
	if err := models.MarkFileCompleted(s.db, fileStatus.ID, insertResult.StatementID, insertResult.TransactionsInserted); err != nil {
		return nil, err
	}
	return insertResult, nil
}

// CompleteRun finalizes a log, aggregating counts from its durable file rows
// rather than from anything held in memory.
func (s *ingestionServiceImpl) CompleteRun(ctx context.Context, logID int64) (*models.IngestionLog, error) {
	if _, err := models.GetIngestionLogByID(s.db, logID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}

	files, err := models.ListFilesByLog(s.db, logID)
	if err != nil {
		return nil, err
	}
	filesProcessed := 0
	transactionsAdded := 0
	filesFailed := 0
	for _, f := range files {
		switch f.Status {
		case models.StatusCompleted:
			filesProcessed++
			if f.TransactionsInserted != nil {
				transactionsAdded += *f.TransactionsInserted
			}
		case models.StatusFailed:
			filesFailed++
		}
	}

	summary := fmt.Sprintf("%d files processed, %d failed, %d transactions added",
		filesProcessed, filesFailed, transactionsAdded)
	if err := models.CompleteIngestionLog(s.db, logID, filesProcessed, transactionsAdded, summary); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("ingestion run completed", "logID", logID, "summary", summary)
	return models.GetIngestionLogByID(s.db, logID)
}

// FailRun marks a log failed without touching its committed batch and file
// rows, keeping the run resumable.
func (s *ingestionServiceImpl) FailRun(ctx context.Context, logID int64, reason string) error {
	if err := models.FailIngestionLog(s.db, logID, reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrLogNotFound
		}
		return err
	}
	logger.FromContext(ctx).Warn("ingestion run failed", "logID", logID, "reason", reason)
	return nil
}
