package main

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/username/lavenderledger/src/config"
	"github.com/username/lavenderledger/src/database"
	"github.com/username/lavenderledger/src/handlers"
	"github.com/username/lavenderledger/src/logger"
	"github.com/username/lavenderledger/src/rules"
	"github.com/username/lavenderledger/src/services"
)

const cacheCleanupInterval = 30 * time.Minute

func main() {
	cfg := config.LoadConfig()
	logger.InitLogger(cfg.LogLevel)

	logger.L.Info("LavenderLedger server starting...")

	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		logger.L.Error("Failed to create data directory", "path", cfg.DataDirectory, "error", err)
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", cfg.DatabasePath)
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.L.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(db, cfg.DatabasePath, cfg.MigrationsPath); err != nil {
		logger.L.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	reportCache := cache.New(cfg.CacheExpiration, cacheCleanupInterval)
	engine := rules.NewEngine(db)
	lessons := services.NewLessonsWriter(cfg.LessonsPath)

	statementService := services.NewStatementService(db, reportCache)
	categorizationService := services.NewCategorizationService(db, cfg)
	ingestionService := services.NewIngestionService(db, statementService)
	reviewService := services.NewReviewService(db, engine, lessons)
	summaryService := services.NewSummaryService(db, reportCache)

	statementHandler := handlers.NewStatementHandler(statementService)
	categorizationHandler := handlers.NewCategorizationHandler(categorizationService)
	ingestionHandler := handlers.NewIngestionHandler(ingestionService)
	reviewHandler := handlers.NewReviewHandler(reviewService, db)
	ledgerHandler := handlers.NewLedgerHandler(summaryService, db)

	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(handlers.RateLimitMiddleware(limiter))
	r.Use(handlers.MaxBytesMiddleware(cfg.MaxRequestBytes))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"lavenderledger"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/statements", statementHandler.HandleInsertStatement)

		r.Post("/categorizations", categorizationHandler.HandleApplyCategorizations)
		r.Post("/categorizations/rule-pass", categorizationHandler.HandleApplyRuleMatches)

		r.Get("/review/flagged", reviewHandler.HandleListFlagged)
		r.Post("/review/resolve", reviewHandler.HandleResolve)

		r.Route("/ingestion", func(r chi.Router) {
			r.Post("/runs", ingestionHandler.HandleStartRun)
			r.Get("/resume", ingestionHandler.HandleResumeState)
			r.Get("/runs", ledgerHandler.HandleListIngestionLogs)
			r.Post("/runs/{logID}/batches", ingestionHandler.HandleProcessBatch)
			r.Post("/runs/{logID}/complete", ingestionHandler.HandleCompleteRun)
			r.Post("/runs/{logID}/fail", ingestionHandler.HandleFailRun)
			r.Post("/files/{fileStatusID}/retry", ingestionHandler.HandleRetryFile)
		})

		r.Get("/accounts", ledgerHandler.HandleListAccounts)
		r.Get("/accounts/{accountID}/transactions", ledgerHandler.HandleListAccountTransactions)
		r.Get("/categories", ledgerHandler.HandleListCategories)
		r.Get("/transactions/uncategorized", ledgerHandler.HandleListUncategorized)
		r.Get("/summary/spending", ledgerHandler.HandleSpendingSummary)
	})

	addr := ":" + cfg.Port
	logger.L.Info("Server listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.L.Error("Server terminated", "error", err)
		os.Exit(1)
	}
}
