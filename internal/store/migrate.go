package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// MigrationRunner wraps golang-migrate against the jobs table's versioned
// schema, grounded on the teacher's internal/database/migrate.go. Used only
// against the Postgres backend; the SQLite dev backend relies on
// Store.AutoMigrate instead, since golang-migrate's sqlite3 driver requires
// cgo and the dev backend is deliberately pure Go.
type MigrationRunner struct {
	m *migrate.Migrate
}

// NewMigrationRunner opens a migrate.Migrate instance against databaseDSN,
// sourcing versioned .sql files from migrationsPath.
func NewMigrationRunner(databaseDSN, migrationsPath string) (*MigrationRunner, error) {
	db, err := sql.Open("postgres", databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("migrate: open db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate: postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate: new instance: %w", err)
	}

	return &MigrationRunner{m: m}, nil
}

// Up applies every pending migration.
func (r *MigrationRunner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: up: %w", err)
	}
	return nil
}

// Down rolls back a single migration step.
func (r *MigrationRunner) Down() error {
	if err := r.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: down: %w", err)
	}
	return nil
}

// Version reports the current schema version and dirty state.
func (r *MigrationRunner) Version() (uint, bool, error) {
	version, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate: version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the schema version without running any migration, used to clear
// a dirty state left by a migration that failed partway through.
func (r *MigrationRunner) Force(version int) error {
	if err := r.m.Force(version); err != nil {
		return fmt.Errorf("migrate: force: %w", err)
	}
	return nil
}

// Close releases the underlying database handles.
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.m.Close()
	if srcErr != nil {
		return fmt.Errorf("migrate: close source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migrate: close db: %w", dbErr)
	}
	return nil
}
