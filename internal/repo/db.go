// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file opens the database (SQLite for local runs,
// Postgres in production) and migrates the schema.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/domain"
)

// sqlitePragmas run on every new SQLite handle.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

type poolSize struct{ open, idle int }

// Open picks the backend by driver name ("sqlite" or "postgres").
func Open(driver, path, dsn string) (*gorm.DB, error) {
	if driver == "postgres" {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(path)
}

// OpenSQLite opens (or creates) the database file at path. The parent
// directory must already exist.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := open(sqlite.Open(path), &gorm.Config{}, poolSize{open: 10, idle: 10})
	if err != nil {
		return nil, err
	}
	for _, p := range sqlitePragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// OpenPostgres connects to the production duel store.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return open(postgres.Open(dsn), &gorm.Config{TranslateError: true}, poolSize{open: 25, idle: 10})
}

func open(d gorm.Dialector, cfg *gorm.Config, pool poolSize) (*gorm.DB, error) {
	db, err := gorm.Open(d, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(pool.open)
	sqlDB.SetMaxIdleConns(pool.idle)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Duel{},
		&domain.Submission{},
		&domain.PendingNotification{},
		&domain.PlayerStats{},
		&domain.StatsLedger{},
		&domain.Idempotency{},
	)
}

// isPostgres reports whether db talks to Postgres. Row and advisory locks
// are skipped on SQLite, which serializes writers on its own.
func isPostgres(db *gorm.DB) bool {
	return db.Dialector != nil && db.Dialector.Name() == "postgres"
}
