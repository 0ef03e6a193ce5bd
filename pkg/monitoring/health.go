package monitoring

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthCheck probes one dependency.
type HealthCheck func() CheckResult

// HealthChecker runs the registered checks concurrently and folds them into
// one status: any unhealthy check makes the service unhealthy, any degraded
// check makes it degraded.
type HealthChecker struct {
	service string
	version string

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck registers check under name, replacing any previous one.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	hc.checks[name] = check
	hc.mu.Unlock()
}

func (hc *HealthChecker) CheckHealth() HealthStatus {
	hc.mu.RLock()
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			r := check()
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	for _, r := range results {
		switch r.Status {
		case StatusHealthy:
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		default:
			overall = StatusUnhealthy
		}
	}

	return HealthStatus{
		Status:    overall,
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    results,
	}
}

// Handler answers 503 while unhealthy and 200 otherwise, degraded included.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// Pinger is anything that can be pinged: *sql.DB wrappers, redis clients,
// kafka producers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// PingHealthCheck pings a dependency. Failures of optional dependencies
// report degraded instead of unhealthy.
func PingHealthCheck(name string, p Pinger, optional bool) HealthCheck {
	failed := StatusUnhealthy
	if optional {
		failed = StatusDegraded
	}
	return func() CheckResult {
		start := time.Now()
		if p == nil {
			return CheckResult{Status: failed, Message: name + " is not configured"}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := p.Ping(ctx)
		duration := time.Since(start)
		if err != nil {
			return CheckResult{
				Status:  failed,
				Message: fmt.Sprintf("%s ping failed: %v", name, err),
				Latency: duration.String(),
			}
		}
		return CheckResult{
			Status:  StatusHealthy,
			Message: name + " reachable",
			Latency: duration.String(),
		}
	}
}

// DatabaseHealthCheck pings the PostgreSQL pool; an unreachable database makes the service unhealthy.
func DatabaseHealthCheck(db *sql.DB) HealthCheck {
	if db == nil {
		return PingHealthCheck("database", nil, false)
	}
	return PingHealthCheck("database", PingerFunc(db.PingContext), false)
}

// HTTPServiceHealthCheck probes an HTTP dependency. Dependencies that only
// degrade the service when down pass optional=true.
func HTTPServiceHealthCheck(serviceName, url string, optional bool) HealthCheck {
	client := &http.Client{Timeout: 5 * time.Second}
	return PingHealthCheck(serviceName, PingerFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("returned %d", resp.StatusCode)
		}
		return nil
	}), optional)
}

// ConfigurationHealthCheck is unhealthy while any of the named settings is empty.
func ConfigurationHealthCheck(settings map[string]string) HealthCheck {
	return func() CheckResult {
		var missing []string
		for key, value := range settings {
			if value == "" {
				missing = append(missing, key)
			}
		}
		if len(missing) == 0 {
			return CheckResult{Status: StatusHealthy}
		}
		sort.Strings(missing)
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "missing configuration: " + strings.Join(missing, ", "),
		}
	}
}
