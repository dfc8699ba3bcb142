// Package store implements the Job Store: durable job records and the
// queue semantics workers claim from, grounded on the teacher's
// internal/db/database.go GORM wiring and the stratum-api worker's
// FOR UPDATE SKIP LOCKED claim pattern from the example pack.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"codejudge/internal/job"
)

// Store persists Job records and mediates claim_one's queue semantics.
type Store struct {
	db      *gorm.DB
	backend Backend
}

// Backend distinguishes which locking strategy ClaimOne uses: Postgres
// supports row-level SKIP LOCKED; the pure-Go SQLite dev backend does not,
// so a transaction that takes SQLite's single write lock up front
// substitutes for it.
type Backend int

const (
	BackendPostgres Backend = iota
	BackendSQLite
)

// New wraps an already-opened *gorm.DB.
func New(db *gorm.DB, backend Backend) *Store {
	return &Store{db: db, backend: backend}
}

// AutoMigrate creates/updates the jobs table schema from the job.Record
// struct tags. Versioned migrations (internal/store/migrate.go) are the
// source of truth in production; AutoMigrate is a convenience for the
// SQLite dev backend and for tests.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&job.Record{})
}

// Create inserts a new record in state pending with created_at = now and
// returns the assigned job_id.
func (s *Store) Create(ctx context.Context, id string, in job.CreateInput) (*job.Record, error) {
	rec := &job.Record{
		ID:         id,
		Language:   in.LanguageID,
		SourceCode: in.SourceCode,
		Stdin:      in.Stdin,
		Overrides:  in.Overrides,
		Status:     job.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("store: create: %w", err)
	}
	return rec, nil
}

// ClaimOne atomically selects the oldest pending record, transitions it to
// running, stamps worker_id and started_at, and returns it. It returns
// (nil, nil) when no pending record exists. Concurrent callers never
// observe the same record returned twice.
func (s *Store) ClaimOne(ctx context.Context, workerID string) (*job.Record, error) {
	switch s.backend {
	case BackendPostgres:
		return s.claimOneSkipLocked(ctx, workerID)
	default:
		return s.claimOneSingleWriter(ctx, workerID)
	}
}

// claimOneSkipLocked uses Postgres's row-level locking: SELECT ... FOR
// UPDATE SKIP LOCKED picks a row no other concurrent transaction is already
// holding, so two workers racing this call never claim the same job.
func (s *Store) claimOneSkipLocked(ctx context.Context, workerID string) (*job.Record, error) {
	var rec job.Record

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", job.StatusPending).
			Order("created_at ASC").
			Limit(1).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errNoPendingJob
		}
		if err != nil {
			return err
		}
		if !job.CanTransition(rec.Status, job.StatusRunning) {
			return fmt.Errorf("store: claim_one: illegal transition %s -> %s for job %s", rec.Status, job.StatusRunning, rec.ID)
		}

		now := time.Now().UTC()
		return tx.Model(&job.Record{}).Where("id = ?", rec.ID).Updates(map[string]any{
			"status":     job.StatusRunning,
			"worker_id":  workerID,
			"started_at": now,
		}).Error
	})

	return finishClaim(&rec, workerID, err)
}

// claimOneSingleWriter is SQLite's substitute for SKIP LOCKED: SQLite has no
// row-level locking, so the transaction takes the database's single write
// lock up front, as BEGIN IMMEDIATE would, making the select-then-update
// atomic against every other writer for the dev backend (where true
// concurrent writers are not expected). gorm has already issued a plain
// BEGIN on the connection, so the lock is taken by a write that matches no
// rows as the transaction's first statement; a claimer that has read
// nothing yet waits on the busy timeout instead of failing a lock upgrade.
func (s *Store) claimOneSingleWriter(ctx context.Context, workerID string) (*job.Record, error) {
	var rec job.Record

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE jobs SET status = status WHERE 1 = 0").Error; err != nil {
			return err
		}

		err := tx.
			Where("status = ?", job.StatusPending).
			Order("created_at ASC").
			Limit(1).
			First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errNoPendingJob
		}
		if err != nil {
			return err
		}
		if !job.CanTransition(rec.Status, job.StatusRunning) {
			return fmt.Errorf("store: claim_one: illegal transition %s -> %s for job %s", rec.Status, job.StatusRunning, rec.ID)
		}

		now := time.Now().UTC()
		return tx.Model(&job.Record{}).Where("id = ?", rec.ID).Updates(map[string]any{
			"status":     job.StatusRunning,
			"worker_id":  workerID,
			"started_at": now,
		}).Error
	})

	return finishClaim(&rec, workerID, err)
}

var errNoPendingJob = errors.New("store: no pending job")

func finishClaim(rec *job.Record, workerID string, err error) (*job.Record, error) {
	if errors.Is(err, errNoPendingJob) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: claim_one: %w", err)
	}
	rec.Status = job.StatusRunning
	rec.WorkerID = workerID
	return rec, nil
}

// Complete transitions a record from running to the given terminal status,
// populates the result fields, and sets completed_at. It rejects the call
// if the record is not currently running.
func (s *Store) Complete(ctx context.Context, id string, terminal job.Status, result job.Result) error {
	if !job.CanTransition(job.StatusRunning, terminal) {
		return fmt.Errorf("store: complete: %s -> %s is not a legal transition", job.StatusRunning, terminal)
	}

	now := time.Now().UTC()
	tx := s.db.WithContext(ctx).Model(&job.Record{}).
		Where("id = ? AND status = ?", id, job.StatusRunning).
		Updates(map[string]any{
			"status":            terminal,
			"completed_at":      now,
			"stdout":            result.Stdout,
			"stderr":            result.Stderr,
			"exit_code":         result.ExitCode,
			"execution_time_ms": result.ExecutionTimeMs,
			"memory_usage_kib":  result.MemoryUsageKiB,
			"compile_output":    result.CompileOutput,
			"error_message":     result.ErrorMessage,
		})
	if tx.Error != nil {
		return fmt.Errorf("store: complete: %w", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return job.ErrNotClaimable
	}
	return nil
}

// Fetch returns the full record for id, or job.ErrNotFound.
func (s *Store) Fetch(ctx context.Context, id string) (*job.Record, error) {
	var rec job.Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: fetch: %w", err)
	}
	return &rec, nil
}

// Count returns the current pending/running record counts, used by the
// health endpoint.
func (s *Store) Count(ctx context.Context) (pending int64, running int64, err error) {
	if err := s.db.WithContext(ctx).Model(&job.Record{}).Where("status = ?", job.StatusPending).Count(&pending).Error; err != nil {
		return 0, 0, fmt.Errorf("store: count pending: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&job.Record{}).Where("status = ?", job.StatusRunning).Count(&running).Error; err != nil {
		return 0, 0, fmt.Errorf("store: count running: %w", err)
	}
	return pending, running, nil
}

// SweepStaleClaims reassigns running records whose started_at predates
// now-threshold back to pending with worker_id cleared, optionally
// (recommended but not required): a worker died mid-execution and never
// committed a terminal transition. Grounded on the teacher's
// cleanupOrphanedContainers periodic-sweep pattern, retargeted from
// container cleanup to row cleanup.
func (s *Store) SweepStaleClaims(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	tx := s.db.WithContext(ctx).Model(&job.Record{}).
		Where("status = ? AND started_at < ?", job.StatusRunning, cutoff).
		Updates(map[string]any{
			"status":     job.StatusPending,
			"worker_id":  "",
			"started_at": nil,
		})
	if tx.Error != nil {
		return 0, fmt.Errorf("store: sweep stale claims: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}
