// Package health reports the readiness of a running relay over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// Report is the combined result of all checks
type Report struct {
	Status    Status         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  time.Duration  `json:"duration"`
	Checks    []CheckResult  `json:"checks"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Checker is a single health check
type Checker interface {
	Check(ctx context.Context) CheckResult
	Name() string
}

// Registry runs a set of checkers
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	metadata map[string]any
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		checkers: make(map[string]Checker),
		metadata: make(map[string]any),
	}
}

// Register adds a checker, replacing one with the same name
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[checker.Name()] = checker
}

// Unregister removes a checker
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checkers, name)
}

// SetMetadata attaches a value to every report
func (r *Registry) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metadata[key] = value
}

// Check runs all checkers concurrently. Checks still running when ctx is done
// are reported unhealthy.
func (r *Registry) Check(ctx context.Context) Report {
	start := time.Now()

	r.mu.RLock()
	checkers := make([]Checker, 0, len(r.checkers))
	for _, c := range r.checkers {
		checkers = append(checkers, c)
	}
	metadata := make(map[string]any, len(r.metadata))
	for k, v := range r.metadata {
		metadata[k] = v
	}
	r.mu.RUnlock()

	type named struct {
		name   string
		result CheckResult
	}
	results := make(chan named, len(checkers))
	for _, checker := range checkers {
		go func() {
			results <- named{name: checker.Name(), result: checker.Check(ctx)}
		}()
	}

	byName := make(map[string]CheckResult, len(checkers))
collect:
	for range checkers {
		select {
		case res := <-results:
			byName[res.name] = res.result
		case <-ctx.Done():
			break collect
		}
	}

	report := Report{
		Status:   StatusHealthy,
		Checks:   make([]CheckResult, 0, len(checkers)),
		Metadata: metadata,
	}
	for _, checker := range checkers {
		res, ok := byName[checker.Name()]
		if !ok {
			res = CheckResult{
				Name:      checker.Name(),
				Status:    StatusUnhealthy,
				Message:   "check timed out",
				Duration:  time.Since(start),
				Timestamp: time.Now(),
				Error:     context.Cause(ctx).Error(),
			}
		}
		report.Checks = append(report.Checks, res)
		report.Status = worse(report.Status, res.Status)
	}
	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Name < report.Checks[j].Name
	})

	report.Timestamp = time.Now()
	report.Duration = time.Since(start)
	return report
}

func worse(a, b Status) Status {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Handler serves the full report as JSON
type Handler struct {
	registry *Registry
	timeout  time.Duration
}

// NewHandler creates a new health check HTTP handler
func NewHandler(registry *Registry, timeout time.Duration) *Handler {
	return &Handler{registry: registry, timeout: timeout}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.registry.Check(ctx)

	statusCode := http.StatusOK
	if report.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(report)
}

// NewMux serves the report on /healthz, a plain readiness probe on /readyz
// and a liveness probe on /livez
func NewMux(registry *Registry, timeout time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", NewHandler(registry, timeout))
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if registry.Check(ctx).Status == StatusUnhealthy {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("alive"))
	})
	return mux
}
