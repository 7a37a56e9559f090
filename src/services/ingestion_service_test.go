package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/username/lavenderledger/src/models"
)

func newIngestionService(db *sql.DB) IngestionService {
	return NewIngestionService(db, NewStatementService(db, nil))
}

func TestProcessBatchHappyPath(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)
	require.Equal(t, models.LogStatusRunning, log.Status)

	files := []IngestionFile{
		{FileName: "jan.json", Parsed: testStatement("Chase Checking", "hash-jan", 2)},
		{FileName: "feb.json", Parsed: testStatement("Chase Checking", "hash-feb", 3)},
	}
	result, err := svc.ProcessBatch(ctx, log.ID, 1, files)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, result.Status)
	require.Equal(t, 2, result.FilesProcessed)
	require.Equal(t, 0, result.FilesFailed)
	require.Equal(t, 5, result.TransactionsAdded)

	finished, err := svc.CompleteRun(ctx, log.ID)
	require.NoError(t, err)
	require.Equal(t, models.LogStatusCompleted, finished.Status)
	require.Equal(t, 2, finished.FilesProcessed)
	require.Equal(t, 5, finished.TransactionsAdded)
	require.NotEmpty(t, finished.CompletedAt)
}

func TestProcessBatchFailingFileDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)

	bad := testStatement("", "hash-bad", 1) // missing account name
	files := []IngestionFile{
		{FileName: "good.json", Parsed: testStatement("Chase Checking", "hash-good", 2)},
		{FileName: "bad.json", Parsed: bad},
	}
	result, err := svc.ProcessBatch(ctx, log.ID, 1, files)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, result.Status)
	require.Equal(t, 1, result.FilesProcessed)
	require.Equal(t, 1, result.FilesFailed)

	statuses, err := models.ListFilesByLog(db, log.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	byName := map[string]models.IngestionFileStatus{}
	for _, f := range statuses {
		byName[f.FileName] = f
	}
	require.Equal(t, models.StatusCompleted, byName["good.json"].Status)
	require.NotNil(t, byName["good.json"].StatementID)
	require.Equal(t, models.StatusFailed, byName["bad.json"].Status)
	require.NotEmpty(t, byName["bad.json"].ErrorMessage)
}

func TestProcessBatchDuplicateStatementCompletesFile(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)

	parsed := testStatement("Chase Checking", "hash-a", 2)
	_, err = svc.ProcessBatch(ctx, log.ID, 1, []IngestionFile{{FileName: "a.json", Parsed: parsed}})
	require.NoError(t, err)

	// Re-offering the same content under a new batch inserts nothing and
	// fails nothing.
	result, err := svc.ProcessBatch(ctx, log.ID, 2, []IngestionFile{{FileName: "a-copy.json", Parsed: parsed}})
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, result.Status)
	require.Equal(t, 0, result.FilesFailed)
	require.Equal(t, 0, result.TransactionsAdded)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count))
	require.Equal(t, 2, count)
}

func TestDetectResumeStateNothingToResume(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	state, err := svc.DetectResumeState(ctx, 0)
	require.NoError(t, err)
	require.False(t, state.Resumable)

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)
	_, err = svc.ProcessBatch(ctx, log.ID, 1, []IngestionFile{
		{FileName: "a.json", Parsed: testStatement("Chase Checking", "hash-a", 1)},
	})
	require.NoError(t, err)
	_, err = svc.CompleteRun(ctx, log.ID)
	require.NoError(t, err)

	state, err = svc.DetectResumeState(ctx, log.ID)
	require.NoError(t, err)
	require.False(t, state.Resumable)
}

func TestDetectResumeStateInterruptedRun(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)

	// Batch 1 completed normally.
	_, err = svc.ProcessBatch(ctx, log.ID, 1, []IngestionFile{
		{FileName: "b1.json", Parsed: testStatement("Chase Checking", "hash-b1", 1)},
	})
	require.NoError(t, err)

	// Batch 2 was interrupted mid-run: file A completed, B failed, C still
	// pending. Built directly against the store to reproduce the crash
	// state.
	batch2, err := models.CreateIngestionBatch(db, log.ID, 2, 3)
	require.NoError(t, err)
	require.NoError(t, models.MarkBatchProcessing(db, batch2.ID))

	stmtSvc := NewStatementService(db, nil)
	insertedA, err := stmtSvc.InsertStatement(ctx, testStatement("Chase Checking", "hash-A", 2))
	require.NoError(t, err)

	fileA, err := models.CreateFileStatus(db, log.ID, &batch2.ID, "A.json", "hash-A", "")
	require.NoError(t, err)
	require.NoError(t, models.MarkFileProcessing(db, fileA.ID))
	require.NoError(t, models.MarkFileCompleted(db, fileA.ID, insertedA.StatementID, insertedA.TransactionsInserted))

	fileB, err := models.CreateFileStatus(db, log.ID, &batch2.ID, "B.json", "hash-B", "")
	require.NoError(t, err)
	require.NoError(t, models.MarkFileProcessing(db, fileB.ID))
	require.NoError(t, models.MarkFileFailed(db, fileB.ID, "parse error"))

	fileC, err := models.CreateFileStatus(db, log.ID, &batch2.ID, "C.json", "hash-C", "")
	require.NoError(t, err)

	// Batch 3 never started.
	_, err = models.CreateIngestionBatch(db, log.ID, 3, 2)
	require.NoError(t, err)

	state, err := svc.DetectResumeState(ctx, 0)
	require.NoError(t, err)
	require.True(t, state.Resumable)
	require.Equal(t, log.ID, state.LogID)
	require.NotNil(t, state.CurrentBatch)
	require.Equal(t, 2, state.CurrentBatch.BatchNumber)

	// A is excluded from the retry set; B and C are in it.
	require.Len(t, state.FailedFiles, 1)
	require.Equal(t, fileB.ID, state.FailedFiles[0].ID)
	require.Len(t, state.PendingFiles, 1)
	require.Equal(t, fileC.ID, state.PendingFiles[0].ID)
	require.Contains(t, state.CompletedHashes, "hash-A")
	require.Contains(t, state.CompletedHashes, "hash-b1")
	require.NotContains(t, state.CompletedHashes, "hash-B")
}

func TestRetryFile(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)
	batch, err := models.CreateIngestionBatch(db, log.ID, 1, 1)
	require.NoError(t, err)

	fileStatus, err := models.CreateFileStatus(db, log.ID, &batch.ID, "a.json", "hash-a", "")
	require.NoError(t, err)
	require.NoError(t, models.MarkFileProcessing(db, fileStatus.ID))
	require.NoError(t, models.MarkFileFailed(db, fileStatus.ID, "transient store error"))

	result, err := svc.RetryFile(ctx, fileStatus.ID, testStatement("Chase Checking", "hash-a", 2))
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 2, result.TransactionsInserted)

	updated, err := models.GetFileStatusByID(db, fileStatus.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, updated.Status)
	require.NotNil(t, updated.StatementID)
	require.Empty(t, updated.ErrorMessage)

	// Completed files are refused; a retry can never double-insert.
	_, err = svc.RetryFile(ctx, fileStatus.ID, testStatement("Chase Checking", "hash-a", 2))
	require.Error(t, err)

	// A mismatched content hash is refused before any work.
	fileOther, err := models.CreateFileStatus(db, log.ID, &batch.ID, "b.json", "hash-b", "")
	require.NoError(t, err)
	_, err = svc.RetryFile(ctx, fileOther.ID, testStatement("Chase Checking", "hash-wrong", 1))
	require.Error(t, err)
}

func TestFailRunLeavesCommittedStateResumable(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t)
	svc := newIngestionService(db)
	ctx := context.Background()

	log, err := svc.StartRun(ctx)
	require.NoError(t, err)
	_, err = svc.ProcessBatch(ctx, log.ID, 1, []IngestionFile{
		{FileName: "a.json", Parsed: testStatement("Chase Checking", "hash-a", 2)},
	})
	require.NoError(t, err)

	require.NoError(t, svc.FailRun(ctx, log.ID, "orchestrator crashed"))

	failed, err := models.GetIngestionLogByID(db, log.ID)
	require.NoError(t, err)
	require.Equal(t, models.LogStatusFailed, failed.Status)
	require.Equal(t, "orchestrator crashed", failed.Errors)

	// Committed file rows survive the failure mark.
	state, err := svc.DetectResumeState(ctx, log.ID)
	require.NoError(t, err)
	require.Contains(t, state.CompletedHashes, "hash-a")
}
