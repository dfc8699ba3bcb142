// Package api implements the Submission API: submit, fetch-status, and
// health endpoints over gin, grounded on the teacher's internal/api +
// internal/handlers gin wiring but reduced to the judge's own surface (no
// auth, billing, or AI routes).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codejudge/internal/job"
	"codejudge/internal/metrics"
	"codejudge/internal/middleware"
	"codejudge/internal/registry"
)

// Store is the subset of the Job Store the API depends on. Count returns
// raw (pending, running) counts rather than a store-defined struct type, so
// this interface has no dependency on the store package's exported types.
type Store interface {
	Create(ctx context.Context, id string, in job.CreateInput) (*job.Record, error)
	Fetch(ctx context.Context, id string) (*job.Record, error)
	Count(ctx context.Context) (pending int64, running int64, err error)
}

// Registry is the subset of the Language Registry the API depends on.
type Registry interface {
	Lookup(languageID string) (registry.Recipe, error)
}

// Limits bounds what the Submission API will accept before it ever talks to
// the store, per spec.md §4.5's "validation is total and purely local".
type Limits struct {
	MaxSourceCodeBytes int64
	MaxStdinBytes      int64
	MinTimeoutMs       int64
	MaxTimeoutMs       int64
	MinMemoryLimitMiB  int64
	MaxMemoryLimitMiB  int64
}

// DefaultLimits returns conservative validation bounds for local development.
func DefaultLimits() Limits {
	return Limits{
		MaxSourceCodeBytes: 256 * 1024,
		MaxStdinBytes:      64 * 1024,
		MinTimeoutMs:       100,
		MaxTimeoutMs:       60_000,
		MinMemoryLimitMiB:  16,
		MaxMemoryLimitMiB:  1024,
	}
}

// Server wires the gin engine for the judge's HTTP surface.
type Server struct {
	store        Store
	reg          Registry
	limits       Limits
	workerCount  int
	rateLimiter  *middleware.IPRateLimiter
	engine       *gin.Engine
}

// NewServer builds a Server with every route registered.
func NewServer(store Store, reg Registry, limits Limits, workerCount int, submissionRatePerSec float64, submissionRateBurst int) *Server {
	s := &Server{
		store:       store,
		reg:         reg,
		limits:      limits,
		workerCount: workerCount,
		rateLimiter: middleware.NewIPRateLimiter(submissionRatePerSec, submissionRateBurst),
	}

	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.RequestID(), middleware.RequestLogger(), metrics.PrometheusMiddleware())

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", metrics.PrometheusHandler())
	engine.POST("/submissions", s.rateLimiter.Middleware(), s.handleSubmit)
	engine.GET("/submissions/:id", s.handleGet)

	s.engine = engine
	return s
}

// Engine returns the underlying gin.Engine, for http.Server wiring.
func (s *Server) Engine() *gin.Engine { return s.engine }

type submitRequest struct {
	LanguageID     string `json:"language" binding:"required"`
	SourceCode     string `json:"source_code" binding:"required"`
	Stdin          string `json:"stdin"`
	TimeoutMs      *int64 `json:"timeout_ms"`
	MemoryLimitMiB *int64 `json:"memory_limit_mib"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	if _, err := s.reg.Lookup(req.LanguageID); err != nil {
		writeError(c, http.StatusBadRequest, "unknown_language", err.Error())
		return
	}

	if int64(len(req.SourceCode)) == 0 {
		writeError(c, http.StatusBadRequest, "empty_source_code", "source_code must not be empty")
		return
	}
	if int64(len(req.SourceCode)) > s.limits.MaxSourceCodeBytes {
		writeError(c, http.StatusBadRequest, "source_code_too_large", "source_code exceeds the maximum allowed size")
		return
	}
	if int64(len(req.Stdin)) > s.limits.MaxStdinBytes {
		writeError(c, http.StatusBadRequest, "stdin_too_large", "stdin exceeds the maximum allowed size")
		return
	}
	if req.TimeoutMs != nil && (*req.TimeoutMs < s.limits.MinTimeoutMs || *req.TimeoutMs > s.limits.MaxTimeoutMs) {
		writeError(c, http.StatusBadRequest, "timeout_out_of_bounds", "timeout_ms is outside the documented bounds")
		return
	}
	if req.MemoryLimitMiB != nil && (*req.MemoryLimitMiB < s.limits.MinMemoryLimitMiB || *req.MemoryLimitMiB > s.limits.MaxMemoryLimitMiB) {
		writeError(c, http.StatusBadRequest, "memory_limit_out_of_bounds", "memory_limit_mib is outside the documented bounds")
		return
	}

	id := newJobID()
	rec, err := s.store.Create(c.Request.Context(), id, job.CreateInput{
		LanguageID: req.LanguageID,
		SourceCode: []byte(req.SourceCode),
		Stdin:      []byte(req.Stdin),
		Overrides: job.Overrides{
			TimeoutMs:      req.TimeoutMs,
			MemoryLimitMiB: req.MemoryLimitMiB,
		},
	})
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "failed to persist submission")
		return
	}

	c.JSON(http.StatusCreated, submitResponse{JobID: rec.ID, Status: string(rec.Status)})
}

func (s *Server) handleGet(c *gin.Context) {
	id := c.Param("id")
	rec, err := s.store.Fetch(c.Request.Context(), id)
	if err == job.ErrNotFound {
		writeError(c, http.StatusNotFound, "not_found", "no job with that id")
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal_error", "failed to fetch job")
		return
	}
	c.JSON(http.StatusOK, rec)
}

type healthResponse struct {
	OK      bool  `json:"ok"`
	Workers int   `json:"workers"`
	Pending int64 `json:"pending"`
	Running int64 `json:"running"`
}

func (s *Server) handleHealth(c *gin.Context) {
	pending, running, err := s.store.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, healthResponse{OK: false, Workers: s.workerCount})
		return
	}
	metrics.Get().SetQueueDepth(pending, running)
	c.JSON(http.StatusOK, healthResponse{OK: true, Workers: s.workerCount, Pending: pending, Running: running})
}

type errorBody struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorBody{Error: message, Code: code, Timestamp: time.Now().UTC()})
}
