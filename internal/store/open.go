package store

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"codejudge/internal/config"
)

// Open opens the backend selected by cfg and returns a ready Store,
// grounded on the teacher's NewDatabase connection-pool setup.
func Open(cfg *config.Config) (*Store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		return openPostgres(cfg)
	case config.BackendSQLite:
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.StoreBackend)
	}
}

func openPostgres(cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db, BackendPostgres), nil
}

func openSQLite(cfg *config.Config) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return New(db, BackendSQLite), nil
}
