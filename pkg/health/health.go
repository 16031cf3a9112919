// Package health serves liveness and readiness endpoints backed by dependency
// checks.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/utafrali/commerce-core/pkg/httputil"
)

// Checker checks one dependency.
type Checker func(ctx context.Context) error

// Status of a dependency or of the whole service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Report is the readiness body.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is one dependency's outcome.
type CheckResult struct {
	Status    Status `json:"status"`
	Critical  bool   `json:"critical"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type check struct {
	fn       Checker
	critical bool
}

// Handler aggregates dependency checks. A critical dependency that is down
// takes the service out of rotation (503); a non-critical one only marks it
// degraded.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]check
	timeout time.Duration
	now     func() time.Time
}

// NewHandler returns a Handler whose readiness check gives up after 5s.
func NewHandler() *Handler {
	return &Handler{checks: map[string]check{}, timeout: 5 * time.Second, now: time.Now}
}

// RegisterCritical adds a dependency the service cannot serve without,
// such as its database.
func (h *Handler) RegisterCritical(name string, fn Checker) { h.add(name, fn, true) }

// RegisterNonCritical adds a dependency the service can limp along without,
// such as the event broker.
func (h *Handler) RegisterNonCritical(name string, fn Checker) { h.add(name, fn, false) }

func (h *Handler) add(name string, fn Checker, critical bool) {
	h.mu.Lock()
	h.checks[name] = check{fn: fn, critical: critical}
	h.mu.Unlock()
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, Report{Status: StatusUp, Timestamp: h.now().UTC()})
	}
}

// ReadinessHandler runs every check and answers 503 when the service is down.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		report := h.Check(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, status, report)
	}
}

// Check runs all checks concurrently and folds them into one report.
func (h *Handler) Check(ctx context.Context) Report {
	h.mu.RLock()
	checks := make(map[string]check, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
	)
	for name, c := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started := h.now()
			res := CheckResult{Status: StatusUp, Critical: c.critical}
			if err := c.fn(ctx); err != nil {
				res.Status, res.Error = StatusDown, err.Error()
			}
			res.LatencyMS = h.now().Sub(started).Milliseconds()

			mu.Lock()
			results[name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()

	return Report{Status: overall(results), Timestamp: h.now().UTC(), Checks: results}
}

func overall(results map[string]CheckResult) Status {
	status := StatusUp
	for _, res := range results {
		switch {
		case res.Status != StatusDown:
		case res.Critical:
			return StatusDown
		default:
			status = StatusDegraded
		}
	}
	return status
}
