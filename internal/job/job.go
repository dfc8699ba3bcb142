// Package job defines the submission lifecycle record and its state machine.
package job

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Job. Terminal statuses never transition
// further; see CanTransition.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusCompileError Status = "compile_error"
	StatusRuntimeError Status = "runtime_error"
	StatusTimeout      Status = "timeout"
	StatusInternalErr  Status = "internal_error"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompileError, StatusRuntimeError, StatusTimeout, StatusInternalErr:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from "from" to "to" is a legal edge in
// pending -> running -> {terminal}.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Overrides carries the optional per-job resource overrides a submission may
// request, bounded by the Submission API against documented caps.
type Overrides struct {
	TimeoutMs      *int64   `json:"timeout_ms,omitempty" gorm:"column:override_timeout_ms"`
	MemoryLimitMiB *int64   `json:"memory_limit_mib,omitempty" gorm:"column:override_memory_limit_mib"`
	CPUQuota       *float64 `json:"cpu_quota,omitempty" gorm:"column:override_cpu_quota"`
}

// CreateInput is the immutable-after-creation input to Store.Create.
type CreateInput struct {
	LanguageID string
	SourceCode []byte
	Stdin      []byte
	Overrides  Overrides
}

// Record is the mutable job record and the row shape persisted by the Job
// Store: the jobs table maps one-to-one onto this struct's gorm tags, so no
// separate DB-row type exists.
type Record struct {
	ID       string `json:"job_id" gorm:"column:id;primaryKey"`
	Language string `json:"language" gorm:"column:language;index"`

	SourceCode []byte    `json:"-" gorm:"column:source_code"`
	Stdin      []byte    `json:"-" gorm:"column:stdin"`
	Overrides  Overrides `json:"overrides,omitempty" gorm:"embedded"`

	Status   Status `json:"status" gorm:"column:status;index"`
	WorkerID string `json:"worker_id,omitempty" gorm:"column:worker_id"`

	CreatedAt   time.Time  `json:"created_at" gorm:"column:created_at;index"`
	StartedAt   *time.Time `json:"started_at,omitempty" gorm:"column:started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" gorm:"column:completed_at"`

	Stdout          string `json:"stdout,omitempty" gorm:"column:stdout"`
	Stderr          string `json:"stderr,omitempty" gorm:"column:stderr"`
	ExitCode        *int   `json:"exit_code,omitempty" gorm:"column:exit_code"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty" gorm:"column:execution_time_ms"`
	MemoryUsageKiB  int64  `json:"memory_usage_kib,omitempty" gorm:"column:memory_usage_kib"`
	CompileOutput   string `json:"compile_output,omitempty" gorm:"column:compile_output"`
	ErrorMessage    string `json:"error_message,omitempty" gorm:"column:error_message"`
}

// TableName pins the GORM table name regardless of struct name changes.
func (Record) TableName() string { return "jobs" }

// Result bundles the fields committed on a terminal transition.
type Result struct {
	Status          Status
	Stdout          string
	Stderr          string
	ExitCode        *int
	ExecutionTimeMs int64
	MemoryUsageKiB  int64
	CompileOutput   string
	ErrorMessage    string
}

// ErrNotFound is returned by Store.Fetch when no record matches the id.
var ErrNotFound = fmt.Errorf("job: not found")

// ErrNotClaimable is returned by Store.Complete when the record is not in the
// running state (e.g. a stale sweeper already reclaimed it, or it is already
// terminal).
var ErrNotClaimable = fmt.Errorf("job: record is not in running state")
