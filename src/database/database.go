package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

// ErrConstraint marks a storage constraint violation. Callers that treat
// duplicates as expected (the deduplication checks) test for it with
// errors.Is and translate it into a duplicate result instead of a failure.
var ErrConstraint = errors.New("constraint violation")

// Open opens (or creates) the SQLite database in read-write mode.
// The store supports exactly one writer at a time, so the connection pool
// is capped at a single connection.
func Open(databasePath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", databasePath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", databasePath, err)
	}
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenReadOnly opens the database for concurrent readers (e.g. a dashboard).
// Readers see only committed data and cannot interfere with the writer.
func OpenReadOnly(databasePath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(on)", databasePath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open read-only database at %s: %w", databasePath, err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping read-only database: %w", err)
	}
	return db, nil
}

// RunMigrations applies all up migrations found at migrationsPath.
func RunMigrations(db *sql.DB, databasePath, migrationsPath string) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migration driver: %w", err)
	}

	abs, err := filepath.Abs(migrationsPath)
	if err != nil {
		return fmt.Errorf("resolve migrations path: %w", err)
	}
	sourceURL := fmt.Sprintf("file://%s", filepath.ToSlash(abs))

	m, err := migrate.NewWithDatabaseInstance(sourceURL, databasePath, driver)
	if err != nil {
		return fmt.Errorf("create migration instance (source %s): %w", sourceURL, err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// TranslateError wraps SQLite constraint failures with ErrConstraint so
// callers can distinguish expected duplicates and rejected enum values from
// genuine store errors. Other errors pass through unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if isConstraintMessage(err) {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

// IsUniqueViolation reports whether err stems from a UNIQUE constraint,
// i.e. a natural-key duplicate.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// IsCheckViolation reports whether err stems from a CHECK constraint,
// i.e. a value outside a closed enum set.
func IsCheckViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "check constraint failed")
}

func isConstraintMessage(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint failed") || strings.Contains(msg, "constraint violation")
}
