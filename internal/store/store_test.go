package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"codejudge/internal/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s := New(db, BackendSQLite)
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return s
}

func TestCreateAndFetch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, err := s.Create(ctx, "job-1", job.CreateInput{LanguageID: "python3", SourceCode: []byte("print(1)")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != job.StatusPending {
		t.Fatalf("Status = %v, want pending", rec.Status)
	}

	got, err := s.Fetch(ctx, "job-1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got.SourceCode) != "print(1)" {
		t.Fatalf("SourceCode = %q", got.SourceCode)
	}
}

func TestFetchNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Fetch(context.Background(), "missing")
	if err != job.ErrNotFound {
		t.Fatalf("err = %v, want job.ErrNotFound", err)
	}
}

func TestClaimOneReturnsOldestPending(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, _ := s.Create(ctx, "job-a", job.CreateInput{LanguageID: "python3"})
	time.Sleep(2 * time.Millisecond)
	_, _ = s.Create(ctx, "job-b", job.CreateInput{LanguageID: "python3"})

	claimed, err := s.ClaimOne(ctx, "worker-1")
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claimed record, got nil")
	}
	if claimed.ID != first.ID {
		t.Fatalf("claimed %q, want oldest %q", claimed.ID, first.ID)
	}
	if claimed.Status != job.StatusRunning || claimed.WorkerID != "worker-1" {
		t.Fatalf("claimed record not marked running/assigned: %+v", claimed)
	}
}

func TestClaimOneNoneAvailable(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.ClaimOne(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestClaimOneIsExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := s.Create(ctx, fmt.Sprintf("job-%d", i), job.CreateInput{LanguageID: "python3"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	var wg sync.WaitGroup
	claimedIDs := make(chan string, n*2)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				rec, err := s.ClaimOne(ctx, workerID)
				if err != nil {
					t.Errorf("ClaimOne: %v", err)
					return
				}
				if rec == nil {
					return
				}
				claimedIDs <- rec.ID
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()
	close(claimedIDs)

	seen := make(map[string]bool)
	count := 0
	for id := range claimedIDs {
		if seen[id] {
			t.Fatalf("job %q claimed more than once", id)
		}
		seen[id] = true
		count++
	}
	if count != n {
		t.Fatalf("claimed %d jobs, want %d", count, n)
	}
}

func TestCompleteTransitionsAndRejectsNonRunning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Create(ctx, "job-1", job.CreateInput{LanguageID: "python3"})

	if err := s.Complete(ctx, rec.ID, job.StatusCompleted, job.Result{Stdout: "ok"}); err != job.ErrNotClaimable {
		t.Fatalf("Complete on pending record: err = %v, want ErrNotClaimable", err)
	}

	if _, err := s.ClaimOne(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	if err := s.Complete(ctx, rec.ID, job.StatusCompleted, job.Result{Stdout: "ok"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, err := s.Fetch(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != job.StatusCompleted || got.Stdout != "ok" {
		t.Fatalf("got = %+v", got)
	}

	if err := s.Complete(ctx, rec.ID, job.StatusCompleted, job.Result{}); err != job.ErrNotClaimable {
		t.Fatalf("Complete on terminal record: err = %v, want ErrNotClaimable", err)
	}
}

func TestCompleteRejectsNonTerminalTarget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Create(ctx, "job-1", job.CreateInput{LanguageID: "python3"})
	if _, err := s.ClaimOne(ctx, "worker-1"); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	err := s.Complete(ctx, rec.ID, job.StatusRunning, job.Result{})
	if err == nil {
		t.Fatal("expected an error completing into a non-terminal status")
	}
}

func TestSweepStaleClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec, _ := s.Create(ctx, "job-1", job.CreateInput{LanguageID: "python3"})
	if _, err := s.ClaimOne(ctx, "worker-dead"); err != nil {
		t.Fatalf("ClaimOne: %v", err)
	}

	swept, err := s.SweepStaleClaims(ctx, 0)
	if err != nil {
		t.Fatalf("SweepStaleClaims: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}

	got, err := s.Fetch(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got.Status != job.StatusPending || got.WorkerID != "" {
		t.Fatalf("got = %+v, want pending with no worker", got)
	}
}
