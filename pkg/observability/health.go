package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name      string
	CheckFunc func(context.Context) error
	Timeout   time.Duration
	Critical  bool
}

// HealthChecker manages health checks
type HealthChecker struct {
	checks map[string]*HealthCheck
	mu     sync.RWMutex
}

// CheckStatus represents the status of a health check
type CheckStatus struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// NewHealthChecker creates an empty health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]*HealthCheck)}
}

// RegisterCheck registers a new health check
func (hc *HealthChecker) RegisterCheck(check *HealthCheck) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name] = check
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) HealthResponse {
	hc.mu.RLock()
	checks := make(map[string]*HealthCheck, len(hc.checks))
	for k, v := range hc.checks {
		checks[k] = v
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckStatus)
	overall := HealthStatusHealthy

	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.CheckFunc(checkCtx)
		cancel()

		status := CheckStatus{Status: HealthStatusHealthy, Message: "OK"}
		if err != nil {
			status = CheckStatus{Status: HealthStatusUnhealthy, Message: err.Error()}
			if check.Critical {
				overall = HealthStatusUnhealthy
			}
		}
		results[name] = status
	}

	return HealthResponse{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// HealthHandler returns an HTTP handler reporting all checks.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := hc.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if response.Status == HealthStatusHealthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// StorageCheck creates a health check over the storage backend's ping
// function (Redis and Firestore backends expose one; the file backend is
// always reachable).
func StorageCheck(pingFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "storage",
		CheckFunc: pingFunc,
		Timeout:   5 * time.Second,
		Critical:  true,
	}
}

// ShareSinkCheck creates a non-critical health check against the share sink.
func ShareSinkCheck(checkFunc func(context.Context) error) *HealthCheck {
	return &HealthCheck{
		Name:      "share-sink",
		CheckFunc: checkFunc,
		Timeout:   10 * time.Second,
		Critical:  false,
	}
}
