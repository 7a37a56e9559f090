package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/patrickmn/go-cache"

	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/models"
)

type summaryServiceImpl struct {
	db          *sql.DB
	reportCache *cache.Cache
}

func NewSummaryService(db *sql.DB, reportCache *cache.Cache) SummaryService {
	return &summaryServiceImpl{
		db:          db,
		reportCache: reportCache,
	}
}

// SpendingByCategory returns per-category spend over an inclusive date
// range, cached until the next statement ingestion invalidates it.
func (s *summaryServiceImpl) SpendingByCategory(ctx context.Context, startDate, endDate string) ([]models.CategorySpending, error) {
	cacheKey := fmt.Sprintf(ckSpendingSummary, startDate, endDate)
	if s.reportCache != nil {
		if cached, found := s.reportCache.Get(cacheKey); found {
			return cached.([]models.CategorySpending), nil
		}
	}

	summary, err := models.SpendingByCategory(s.db, startDate, endDate)
	if err != nil {
		return nil, err
	}

	if s.reportCache != nil {
		s.reportCache.Set(cacheKey, summary, cache.DefaultExpiration)
	}
	logger.FromContext(ctx).Debug("spending summary computed",
		"startDate", startDate, "endDate", endDate, "categories", len(summary))
	return summary, nil
}

// Accounts returns all accounts, cached.
func (s *summaryServiceImpl) Accounts(ctx context.Context) ([]models.Account, error) {
	if s.reportCache != nil {
		if cached, found := s.reportCache.Get(ckAccountList); found {
			return cached.([]models.Account), nil
		}
	}
	accounts, err := models.ListAccounts(s.db)
	if err != nil {
		return nil, err
	}
	if s.reportCache != nil {
		s.reportCache.Set(ckAccountList, accounts, cache.DefaultExpiration)
	}
	return accounts, nil
}

// Categories returns the active taxonomy, cached.
func (s *summaryServiceImpl) Categories(ctx context.Context) ([]models.Category, error) {
	if s.reportCache != nil {
		if cached, found := s.reportCache.Get(ckCategoryList); found {
			return cached.([]models.Category), nil
		}
	}
	categories, err := models.ListCategories(s.db, true)
	if err != nil {
		return nil, err
	}
	if s.reportCache != nil {
		s.reportCache.Set(ckCategoryList, categories, cache.DefaultExpiration)
	}
	return categories, nil
}

func (s *summaryServiceImpl) InvalidateCaches() {
	if s.reportCache != nil {
		s.reportCache.Flush()
	}
}
