// Package middleware provides the judge's HTTP ingress concerns: panic
// recovery, request IDs, structured access logging, and per-IP submission
// rate limiting, trimmed from the teacher's middleware.go down to what a
// submission API actually needs (no auth, CORS, or maintenance-mode
// concerns belong in the core).
package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"codejudge/internal/logging"
)

// ErrorResponse is the standardized error body for 4xx/5xx responses.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
}

// RequestLogger logs each request through the structured logger, skipping
// /health and /metrics to keep liveness-probe noise out of the log stream.
func RequestLogger() gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(p gin.LogFormatterParams) string {
			logging.S().Infow("http_request",
				"client_ip", p.ClientIP,
				"method", p.Method,
				"path", p.Path,
				"status", p.StatusCode,
				"latency", p.Latency,
			)
			return ""
		},
		Output:    io.Discard,
		SkipPaths: []string{"/health", "/metrics"},
	})
}

// Recovery recovers a panic from any handler, logs it with a request ID, and
// returns
// a standardized 500 instead of crashing the process — grounded on the
// teacher's Recovery() panic boundary.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		logging.S().Errorw("panic recovered in http handler",
			"request_id", requestID,
			"error", recovered,
			"stack", string(debug.Stack()),
		)

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "internal server error",
			Code:      "internal_error",
			Timestamp: time.Now().UTC(),
			RequestID: requestID,
		})
	})
}

// RequestID assigns (or propagates) a unique request ID on every request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func generateRequestID() string {
	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(randomBytes))
}

// limiterEntry pairs a token bucket with the time it was last used, so the
// cleanup loop can evict limiters for IPs that have gone quiet.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter manages one token bucket per client IP in front of
// POST /submissions, grounded on the teacher's IPRateLimiter.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter builds a limiter allowing ratePerSec sustained requests
// per IP with the given burst, and starts its background cleanup loop.
func NewIPRateLimiter(ratePerSec float64, burst int) *IPRateLimiter {
	l := &IPRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(ratePerSec),
		burst:    burst,
	}
	go l.cleanupLoop()
	return l
}

func (l *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (l *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-time.Hour)
		for ip, entry := range l.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(l.limiters, ip)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware returns a gin handler that rejects requests exceeding the
// per-IP rate with 429, and passes through otherwise.
func (l *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.getLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:     "submission rate limit exceeded",
				Code:      "rate_limit_exceeded",
				Timestamp: time.Now().UTC(),
				RequestID: c.GetHeader("X-Request-ID"),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
