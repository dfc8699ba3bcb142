// Package worker implements the Worker Pool: a fixed number of concurrent
// workers that repeatedly claim a pending job, invoke the Container Driver
// once for compile (if applicable) and once for run, and write the outcome
// back to the Job Store — grounded on the teacher's container_sandbox.go
// execution lifecycle, retargeted from a single Execute call to the
// claim/compile/run/commit protocol.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"codejudge/internal/container"
	"codejudge/internal/job"
	"codejudge/internal/logging"
	"codejudge/internal/metrics"
	"codejudge/internal/registry"
)

// Store is the subset of the Job Store the pool depends on.
type Store interface {
	ClaimOne(ctx context.Context, workerID string) (*job.Record, error)
	Complete(ctx context.Context, id string, terminal job.Status, result job.Result) error
}

// Driver is the subset of the Container Driver the pool depends on.
type Driver interface {
	Execute(ctx context.Context, image string, commandTokens []string, workdirHostPath string, stdinBytes []byte, timeoutMs int64, memoryLimitMiB int64, cpuQuota float64) container.Outcome
}

// Registry is the subset of the Language Registry the pool depends on.
type Registry interface {
	Lookup(languageID string) (registry.Recipe, error)
}

// Pool runs W independent worker loops sharing the Job Store, the Language
// Registry, and the Container Driver.
type Pool struct {
	store    Store
	reg      Registry
	driver   Driver
	workerN  int
	baseDir  string
	pollIdle time.Duration
}

// Config configures a Pool.
type Config struct {
	WorkerCount int
	BaseWorkDir string // parent directory for per-job working directories

	// PollIdle is how long a worker sleeps after finding no pending job,
	// before polling the store again.
	PollIdle time.Duration
}

// New builds a Pool of cfg.WorkerCount workers.
func New(cfg Config, store Store, reg Registry, driver Driver) *Pool {
	idle := cfg.PollIdle
	if idle <= 0 {
		idle = 250 * time.Millisecond
	}
	return &Pool{
		store:    store,
		reg:      reg,
		driver:   driver,
		workerN:  cfg.WorkerCount,
		baseDir:  cfg.BaseWorkDir,
		pollIdle: idle,
	}
}

// Start launches the W worker goroutines. It returns immediately; workers
// run until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workerN; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		go p.loop(ctx, workerID)
	}
}

// loop is one worker's independent claim/execute/commit cycle. Workers
// share no per-job state; each iteration is fully self-contained.
func (p *Pool) loop(ctx context.Context, workerID string) {
	logging.S().Infow("worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			logging.S().Infow("worker stopping", "worker_id", workerID)
			return
		default:
		}

		rec, err := p.store.ClaimOne(ctx, workerID)
		if err != nil {
			logging.S().Errorw("claim_one failed", "worker_id", workerID, "err", err)
			time.Sleep(p.pollIdle)
			continue
		}
		if rec == nil {
			time.Sleep(p.pollIdle)
			continue
		}

		p.runJob(ctx, workerID, rec)
	}
}

// runJob executes the per-job protocol end to end and commits the terminal
// transition. A panic anywhere in execution is recovered and committed as
// internal_error so one bad job never takes down a worker goroutine —
// grounded on the teacher's middleware.Recovery() panic boundary, adapted
// from an HTTP middleware to a worker-loop guard.
func (p *Pool) runJob(ctx context.Context, workerID string, rec *job.Record) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.S().Errorw("panic during job execution, committing internal_error",
				"job_id", rec.ID, "worker_id", workerID, "recovered", r)
			_ = p.store.Complete(ctx, rec.ID, job.StatusInternalErr, job.Result{
				ErrorMessage: fmt.Sprintf("internal error: %v", r),
			})
			metrics.Get().RecordExecution(rec.Language, string(job.StatusInternalErr), time.Since(start))
		}
	}()

	recipe, err := p.reg.Lookup(rec.Language)
	if err != nil {
		p.commit(ctx, rec, job.StatusInternalErr, job.Result{ErrorMessage: err.Error()}, start)
		return
	}

	workdir, err := os.MkdirTemp(p.baseDir, fmt.Sprintf("job-%s-", uuid.New().String()[:8]))
	if err != nil {
		p.commit(ctx, rec, job.StatusInternalErr, job.Result{ErrorMessage: fmt.Sprintf("failed to create working directory: %v", err)}, start)
		return
	}
	defer os.RemoveAll(workdir)

	sourcePath := filepath.Join(workdir, recipe.SourceFilename)
	if err := os.WriteFile(sourcePath, rec.SourceCode, 0o644); err != nil {
		p.commit(ctx, rec, job.StatusInternalErr, job.Result{ErrorMessage: fmt.Sprintf("failed to write source: %v", err)}, start)
		return
	}

	runTimeoutMs := firstNonZero(rec.Overrides.TimeoutMs, recipe.DefaultRunTimeoutMs)
	memoryMiB := firstNonZero(rec.Overrides.MemoryLimitMiB, recipe.DefaultMemoryLimitMiB)
	cpuQuota := recipe.DefaultCPUQuota
	if rec.Overrides.CPUQuota != nil {
		cpuQuota = *rec.Overrides.CPUQuota
	}

	metrics.Get().ExecutionsInFlight.Inc()
	defer metrics.Get().ExecutionsInFlight.Dec()

	if len(recipe.CompileCommand) > 0 {
		compileOutcome := p.driver.Execute(ctx, recipe.Image, recipe.CompileCommand, workdir, nil, recipe.DefaultCompileTimeoutMs, memoryMiB, cpuQuota)
		if compileOutcome.SpawnFailed {
			p.commit(ctx, rec, job.StatusInternalErr, job.Result{ErrorMessage: compileOutcome.SpawnError}, start)
			return
		}
		if compileOutcome.TimedOut || compileOutcome.ExitCode != 0 {
			p.commit(ctx, rec, job.StatusCompileError, job.Result{
				CompileOutput: mergeStreams(compileOutcome.Stdout, compileOutcome.Stderr),
			}, start)
			return
		}
	}

	runCommand := recipe.RunCommand
	if recipe.Resolve != nil {
		resolved, err := recipe.Resolve(rec.SourceCode)
		if err != nil {
			p.commit(ctx, rec, job.StatusCompileError, job.Result{
				CompileOutput: err.Error(),
			}, start)
			return
		}
		runCommand = resolved
	}

	runOutcome := p.driver.Execute(ctx, recipe.Image, runCommand, workdir, rec.Stdin, runTimeoutMs, memoryMiB, cpuQuota)

	status, result := mapOutcome(runOutcome, runTimeoutMs)
	p.commit(ctx, rec, status, result, start)
}

func (p *Pool) commit(ctx context.Context, rec *job.Record, status job.Status, result job.Result, start time.Time) {
	result.Status = status
	if err := p.store.Complete(ctx, rec.ID, status, result); err != nil {
		logging.S().Errorw("failed to commit terminal transition", "job_id", rec.ID, "status", status, "err", err)
	}
	metrics.Get().RecordExecution(rec.Language, string(status), time.Since(start))
}

// mapOutcome turns a container.Outcome into the job's terminal status and
// result fields, per the Worker Pool's per-job execution protocol.
func mapOutcome(out container.Outcome, runTimeoutMs int64) (job.Status, job.Result) {
	switch {
	case out.TimedOut:
		exitCode := -1
		return job.StatusTimeout, job.Result{
			Stdout:          string(out.Stdout),
			Stderr:          string(out.Stderr),
			ExitCode:        &exitCode,
			ExecutionTimeMs: runTimeoutMs,
		}
	case out.SpawnFailed:
		return job.StatusInternalErr, job.Result{ErrorMessage: out.SpawnError}
	case out.ExitCode == 0:
		exitCode := 0
		return job.StatusCompleted, job.Result{
			Stdout:          string(out.Stdout),
			Stderr:          string(out.Stderr),
			ExitCode:        &exitCode,
			ExecutionTimeMs: out.DurationMs,
		}
	default:
		exitCode := out.ExitCode
		return job.StatusRuntimeError, job.Result{
			Stdout:          string(out.Stdout),
			Stderr:          string(out.Stderr),
			ExitCode:        &exitCode,
			ExecutionTimeMs: out.DurationMs,
		}
	}
}

func mergeStreams(stdout, stderr []byte) string {
	var buf bytes.Buffer
	buf.Write(stdout)
	buf.Write(stderr)
	return buf.String()
}

func firstNonZero(override *int64, fallback int64) int64 {
	if override != nil && *override > 0 {
		return *override
	}
	return fallback
}
