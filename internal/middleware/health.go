package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// HealthChecker defines interface for health checking
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// DatabaseHealthChecker checks database health
type DatabaseHealthChecker struct {
	DB *sql.DB
}

func (d *DatabaseHealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.DB.PingContext(ctx)
}

// WorkspaceRoot is the part of the workspace manager health needs.
type WorkspaceRoot interface {
	Fatal() error
	CheckWritable() error
}

// WorkspaceHealthChecker fails once the root stopped accepting writes.
type WorkspaceHealthChecker struct {
	Root WorkspaceRoot
}

func (c *WorkspaceHealthChecker) Check(context.Context) error {
	if err := c.Root.Fatal(); err != nil {
		return err
	}
	return c.Root.CheckWritable()
}

// ToolHealthChecker fails when a tool's executable cannot be found.
type ToolHealthChecker struct {
	Runner domain.Runner
	Spec   domain.ToolSpec
}

func (c *ToolHealthChecker) Check(context.Context) error {
	return c.Runner.Resolve(c.Spec)
}

// HealthStatus represents the health status
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

// CheckStatus represents individual check status
type CheckStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthHandler creates a health check handler
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now(),
			Checks:    make(map[string]CheckStatus),
		}

		for name, checker := range checkers {
			if err := checker.Check(ctx); err != nil {
				health.Status = "unhealthy"
				health.Checks[name] = CheckStatus{
					Status:  "unhealthy",
					Message: err.Error(),
				}
			} else {
				health.Checks[name] = CheckStatus{
					Status: "healthy",
				}
			}
		}

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}

// ReadinessHandler reports ready unless the workspace root is gone.
func ReadinessHandler(root WorkspaceRoot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ready", http.StatusOK
		if root != nil && root.Fatal() != nil {
			status, code = "not ready", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
		})
	}
}

// LivenessHandler creates a liveness check handler (simplest check)
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
