package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/username/lavenderledger/src/database"
	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
	"github.com/username/lavenderledger/src/security/validation"
)

const (
	ckSpendingSummary = "agg_spending_%s_%s"
	ckAccountList     = "res_account_list"
	ckCategoryList    = "res_category_list"
)

type statementServiceImpl struct {
	db          *sql.DB
	reportCache *cache.Cache
}

func NewStatementService(db *sql.DB, reportCache *cache.Cache) StatementService {
	return &statementServiceImpl{
		db:          db,
		reportCache: reportCache,
	}
}

// InsertStatement ingests one parsed statement. The account is resolved by
// exact name, the statement is dedup-checked on (file_hash, account_id), and
// each transaction row is then independently validated, dedup-checked and
// inserted. A failing row is counted and skipped, never rolled back together
// with its siblings.
func (s *statementServiceImpl) InsertStatement(ctx context.Context, parsed ParsedStatement) (*StatementInsertResult, error) {
	log := logger.FromContext(ctx)

	if err := validateParsedStatement(parsed); err != nil {
		return &StatementInsertResult{Success: false, Message: err.Error()}, err
	}

	account, created, err := s.resolveAccount(parsed.AccountInfo)
	if err != nil {
		return nil, fmt.Errorf("resolving account %q: %w", parsed.AccountInfo.AccountName, err)
	}
	if created {
		log.Info("created account from statement descriptor",
			"accountID", account.ID, "accountName", account.AccountName)
	}

	result := &StatementInsertResult{
		AccountID:      account.ID,
		AccountCreated: created,
	}

	exists, err := models.StatementExists(s.db, parsed.FileHash, account.ID)
	if err != nil {
		return nil, fmt.Errorf("checking statement hash: %w", err)
	}
	if exists {
		log.Info("duplicate statement skipped",
			"accountID", account.ID, "fileHash", parsed.FileHash)
		result.Success = true
		result.DuplicateStatement = true
		result.Message = "statement already ingested for this account"
		return result, nil
	}

	stmt := &models.Statement{
		AccountID:         account.ID,
		StatementDate:     parsed.AccountInfo.StatementDate,
		PeriodStart:       parsed.AccountInfo.PeriodStart,
		PeriodEnd:         parsed.AccountInfo.PeriodEnd,
		FilePath:          parsed.FilePath,
		FileHash:          parsed.FileHash,
		TotalTransactions: len(parsed.Transactions),
	}
	if err := stmt.Create(s.db); err != nil {
		if errors.Is(err, database.ErrConstraint) {
			// Lost a race on the hash check. Treat it the same as the
			// explicit duplicate path.
			result.Success = true
			result.DuplicateStatement = true
			result.Message = "statement already ingested for this account"
			return result, nil
		}
		return nil, fmt.Errorf("creating statement: %w", err)
	}
	result.StatementID = stmt.ID

	for i, row := range parsed.Transactions {
		inserted, dup, rowErr := s.insertTransactionRow(stmt, account, row)
		if rowErr != nil {
			log.Warn("transaction row rejected",
				"statementID", stmt.ID, "row", i, "error", rowErr.Error())
			result.TransactionsFailed++
			continue
		}
		if dup {
			result.TransactionsDuplicate++
			continue
		}
		if inserted {
			result.TransactionsInserted++
		}
	}

	s.invalidateReportCaches()

	result.Success = true
	result.Message = fmt.Sprintf("inserted %d transactions (%d duplicates, %d failed)",
		result.TransactionsInserted, result.TransactionsDuplicate, result.TransactionsFailed)
	log.Info("statement ingested",
		"statementID", stmt.ID,
		"accountID", account.ID,
		"inserted", result.TransactionsInserted,
		"duplicates", result.TransactionsDuplicate,
		"failed", result.TransactionsFailed)
	return result, nil
}

// resolveAccount maps the external descriptor to an internal account by
// exact name, creating one if absent. An existing account is returned
// unchanged; descriptor fields never overwrite stored attributes.
func (s *statementServiceImpl) resolveAccount(info ParsedAccountInfo) (*models.Account, bool, error) {
	account, err := models.GetAccountByName(s.db, info.AccountName)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	account = &models.Account{
		AccountName: info.AccountName,
		AccountType: info.AccountType,
		BankName:    info.BankName,
		LastFour:    info.LastFour,
	}
	if err := account.Create(s.db); err != nil {
		if errors.Is(err, database.ErrConstraint) {
			// Created concurrently; fetch the winner.
			existing, lookupErr := models.GetAccountByName(s.db, info.AccountName)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return account, true, nil
}

func (s *statementServiceImpl) insertTransactionRow(stmt *models.Statement, account *models.Account, row ParsedTransaction) (inserted, duplicate bool, err error) {
	if err := validateParsedTransaction(row); err != nil {
		return false, false, err
	}

	// Sanitize before the dedup check so the natural key compares against
	// what is actually stored.
	merchantOriginal := validation.CleanText(row.MerchantOriginal)

	exists, err := models.TransactionExists(s.db, account.ID, row.TransactionDate, row.Amount, merchantOriginal)
	if err != nil {
		return false, false, err
	}
	if exists {
		return false, true, nil
	}

	tx := &models.Transaction{
		StatementID:      &stmt.ID,
		AccountID:        account.ID,
		TransactionDate:  row.TransactionDate,
		PostDate:         row.PostDate,
		Amount:           row.Amount,
		TransactionType:  row.TransactionType,
		MerchantOriginal: merchantOriginal,
		MerchantCleaned:  validation.CleanText(row.MerchantCleaned),
		Description:      validation.CleanText(row.Description),
	}
	if err := tx.Create(s.db); err != nil {
		if database.IsUniqueViolation(err) {
			return false, true, nil
		}
		return false, false, err
	}
	return true, false, nil
}

func (s *statementServiceImpl) invalidateReportCaches() {
	if s.reportCache == nil {
		return
	}
	s.reportCache.Flush()
}

func validateParsedStatement(parsed ParsedStatement) error {
	if err := validation.ValidateStringNotEmpty(parsed.AccountInfo.AccountName, "account_name"); err != nil {
		return err
	}
	if err := validation.ValidateStringNotEmpty(parsed.AccountInfo.AccountType, "account_type"); err != nil {
		return err
	}
	if err := validation.ValidateStringNotEmpty(parsed.AccountInfo.BankName, "bank_name"); err != nil {
		return err
	}
	if err := validation.ValidateLastFour(parsed.AccountInfo.LastFour); err != nil {
		return err
	}
	if err := validation.ValidateStringNotEmpty(parsed.FileHash, "file_hash"); err != nil {
		return err
	}
	if err := validation.ValidateOptionalDate(parsed.AccountInfo.StatementDate, "statement_date"); err != nil {
		return err
	}
	if err := validation.ValidateOptionalDate(parsed.AccountInfo.PeriodStart, "period_start"); err != nil {
		return err
	}
	return validation.ValidateOptionalDate(parsed.AccountInfo.PeriodEnd, "period_end")
}

func validateParsedTransaction(row ParsedTransaction) error {
	if err := validation.ValidateDate(row.TransactionDate, "transaction_date"); err != nil {
		return err
	}
	if err := validation.ValidateOptionalDate(row.PostDate, "post_date"); err != nil {
		return err
	}
	if err := validation.ValidateTransactionType(row.TransactionType); err != nil {
		return err
	}
	if err := validation.ValidateStringNotEmpty(row.MerchantOriginal, "merchant_original"); err != nil {
		return err
	}
	if err := validation.ValidateStringMaxLength(row.MerchantOriginal, validation.MaxMerchantLength, "merchant_original"); err != nil {
		return err
	}
	return validation.ValidateStringMaxLength(row.Description, validation.MaxDescriptionLength, "description")
}
