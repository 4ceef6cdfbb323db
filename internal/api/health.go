package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// HealthChecker is one dependency checked by /health/ready.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

type HealthCheckConfig struct {
	Checkers []HealthChecker
	// Timeout bounds the whole readiness probe. Zero means 5s.
	Timeout time.Duration
}

type HealthStatus struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
	Version string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CheckerFunc adapts a check function to HealthChecker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckerName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// NewRedisHealthChecker pings the Redis instance backing the response cache.
func NewRedisHealthChecker(client *redis.Client) HealthChecker {
	return CheckerFunc{
		CheckerName: "redis",
		Fn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// NewModelListChecker reports ready once list succeeds, e.g. the Ollama
// daemon answering /api/tags.
func NewModelListChecker(name string, list func(ctx context.Context) ([]string, error)) HealthChecker {
	return CheckerFunc{
		CheckerName: name,
		Fn: func(ctx context.Context) error {
			_, err := list(ctx)
			return err
		},
	}
}

func runHealthChecks(ctx context.Context, checkers []HealthChecker) map[string]CheckResult {
	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var g errgroup.Group

	for _, checker := range checkers {
		g.Go(func() error {
			start := time.Now()
			err := checker.Check(ctx)

			result := CheckResult{Status: "ok", Duration: time.Since(start).String()}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}

			mu.Lock()
			results[checker.Name()] = result
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}

func handleHealthReadyWithCheckers(checkers []HealthChecker, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		status := HealthStatus{
			Status:  "ready",
			Checks:  runHealthChecks(ctx, checkers),
			Version: Version,
		}

		httpStatus := http.StatusOK
		for _, result := range status.Checks {
			if result.Status != "ok" {
				status.Status = "not_ready"
				httpStatus = http.StatusServiceUnavailable
				break
			}
		}

		writeJSON(w, httpStatus, status)
	}
}
