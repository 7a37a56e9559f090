package services

import (
	"context"

	"github.com/username/lavenderledger/src/models"
)

// ParsedAccountInfo is the account descriptor produced by the external
// statement parser.
type ParsedAccountInfo struct {
	BankName      string `json:"bank_name"`
	AccountType   string `json:"account_type"`
	AccountName   string `json:"account_name"`
	LastFour      string `json:"last_four,omitempty"`
	StatementDate string `json:"statement_date,omitempty"`
	PeriodStart   string `json:"period_start,omitempty"`
	PeriodEnd     string `json:"period_end,omitempty"`
}

// ParsedTransaction is one transaction row from the external parser.
type ParsedTransaction struct {
	TransactionDate  string  `json:"transaction_date"`
	PostDate         string  `json:"post_date,omitempty"`
	Amount           float64 `json:"amount"`
	TransactionType  string  `json:"transaction_type"`
	MerchantOriginal string  `json:"merchant_original"`
	MerchantCleaned  string  `json:"merchant_cleaned,omitempty"`
	Description      string  `json:"description,omitempty"`
}

// ParsedStatement is the full parser output for one source document, plus
// the externally computed content hash of that document.
type ParsedStatement struct {
	AccountInfo  ParsedAccountInfo   `json:"account_info"`
	Transactions []ParsedTransaction `json:"transactions"`
	FileHash     string              `json:"file_hash"`
	FilePath     string              `json:"file_path,omitempty"`
}

// StatementInsertResult reports the outcome of one statement insertion.
// DuplicateStatement distinguishes "already processed" from failure.
type StatementInsertResult struct {
	Success               bool   `json:"success"`
	Message               string `json:"message,omitempty"`
	AccountID             int64  `json:"account_id"`
	AccountCreated        bool   `json:"account_created"`
	StatementID           int64  `json:"statement_id,omitempty"`
	DuplicateStatement    bool   `json:"duplicate_statement"`
	TransactionsInserted  int    `json:"transactions_inserted"`
	TransactionsDuplicate int    `json:"transactions_duplicate"`
	TransactionsFailed    int    `json:"transactions_failed"`
}

// Categorization is one entry of an external categorization result.
type Categorization struct {
	TransactionID int64   `json:"transaction_id"`
	Category      string  `json:"category"`
	Confidence    float64 `json:"confidence"`
	RulePattern   string  `json:"rule_pattern,omitempty"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

// CategorizationResult is the full external categorizer output.
type CategorizationResult struct {
	Categorizations []Categorization `json:"categorizations"`
}

// ApplyCategorizationsResult reports how a batch of categorizations landed.
type ApplyCategorizationsResult struct {
	Success      bool     `json:"success"`
	Updated      int      `json:"updated"`
	Flagged      int      `json:"flagged"`
	Errored      int      `json:"errored"`
	RulesCreated int      `json:"rules_created"`
	Errors       []string `json:"errors,omitempty"`
}

// RuleMatchRunResult reports a pass of the stored rule set over
// uncategorized transactions.
type RuleMatchRunResult struct {
	Examined    int `json:"examined"`
	Categorized int `json:"categorized"`
	Flagged     int `json:"flagged"`
}

// IngestionFile is one file offered to the batch controller, carrying its
// already-parsed content.
type IngestionFile struct {
	FileName string          `json:"file_name"`
	Parsed   ParsedStatement `json:"parsed"`
}

// BatchResult reports one processed batch.
type BatchResult struct {
	BatchID           int64  `json:"batch_id"`
	BatchNumber       int    `json:"batch_number"`
	Status            string `json:"status"`
	FilesProcessed    int    `json:"files_processed"`
	FilesFailed       int    `json:"files_failed"`
	TransactionsAdded int    `json:"transactions_added"`
}

// ResumeState answers the resume-state query: whether a prior run can be
// resumed, which batch is current, which files still need work, and which
// file hashes are already safely processed.
type ResumeState struct {
	Resumable       bool                         `json:"resumable"`
	LogID           int64                        `json:"log_id,omitempty"`
	CurrentBatch    *models.IngestionBatch       `json:"current_batch,omitempty"`
	PendingFiles    []models.IngestionFileStatus `json:"pending_files"`
	FailedFiles     []models.IngestionFileStatus `json:"failed_files"`
	CompletedHashes []string                     `json:"completed_hashes"`
	Warnings        []string                     `json:"warnings,omitempty"`
}

// ReviewDecision names the four ways a flagged transaction can be resolved.
type ReviewDecision string

const (
	DecisionAccept         ReviewDecision = "accept"
	DecisionChangeCategory ReviewDecision = "change_category"
	DecisionAcceptWithRule ReviewDecision = "accept_with_rule"
	DecisionSkip           ReviewDecision = "skip"
)

// RuleRequest describes the rule a reviewer wants created alongside an
// acceptance. Amount bounds are optional; DeferredNote records a followup on
// the transaction instead of constraining the rule.
type RuleRequest struct {
	Pattern      string   `json:"pattern"`
	MinAmount    *float64 `json:"min_amount,omitempty"`
	MaxAmount    *float64 `json:"max_amount,omitempty"`
	DeferredNote string   `json:"deferred_note,omitempty"`
}

// ReviewRequest is one review decision applied to one flagged transaction.
type ReviewRequest struct {
	TransactionID int64          `json:"transaction_id"`
	Decision      ReviewDecision `json:"decision"`
	NewCategory   string         `json:"new_category,omitempty"`
	Rule          *RuleRequest   `json:"rule,omitempty"`
}

// ReviewResult reports one resolved review.
type ReviewResult struct {
	Success       bool           `json:"success"`
	Message       string         `json:"message,omitempty"`
	TransactionID int64          `json:"transaction_id"`
	Decision      ReviewDecision `json:"decision"`
	Category      string         `json:"category,omitempty"`
	RuleCreated   bool           `json:"rule_created"`
}

// StatementService ingests parsed statements with statement and transaction
// level deduplication.
type StatementService interface {
	InsertStatement(ctx context.Context, parsed ParsedStatement) (*StatementInsertResult, error)
}

// CategorizationService applies external categorization results and runs the
// stored rule set over uncategorized transactions.
type CategorizationService interface {
	ApplyCategorizations(ctx context.Context, result CategorizationResult) (*ApplyCategorizationsResult, error)
	ApplyRuleMatches(ctx context.Context) (*RuleMatchRunResult, error)
}

// IngestionService is the durable batch state machine.
type IngestionService interface {
	StartRun(ctx context.Context) (*models.IngestionLog, error)
	ProcessBatch(ctx context.Context, logID int64, batchNumber int, files []IngestionFile) (*BatchResult, error)
	DetectResumeState(ctx context.Context, logID int64) (*ResumeState, error)
	RetryFile(ctx context.Context, fileStatusID int64, parsed ParsedStatement) (*StatementInsertResult, error)
	CompleteRun(ctx context.Context, logID int64) (*models.IngestionLog, error)
	FailRun(ctx context.Context, logID int64, reason string) error
}

// ReviewService resolves flagged transactions and feeds the outcome back
// into rule accuracy.
type ReviewService interface {
	Resolve(ctx context.Context, req ReviewRequest) (*ReviewResult, error)
}

// SummaryService serves read-side ledger aggregates.
type SummaryService interface {
	SpendingByCategory(ctx context.Context, startDate, endDate string) ([]models.CategorySpending, error)
	Accounts(ctx context.Context) ([]models.Account, error)
	Categories(ctx context.Context) ([]models.Category, error)
	InvalidateCaches()
}
