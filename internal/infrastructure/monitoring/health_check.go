package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc reports whether a dependency is usable. A false result with a
// nil error is reported as "check failed".
type CheckFunc func(ctx context.Context) (bool, error)

type healthCheck struct {
	name     string
	check    CheckFunc
	timeout  time.Duration
	critical bool
}

// HealthChecker runs the registered checks concurrently. A failing critical
// check makes the service unhealthy; a failing optional one only degrades it.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a critical check. timeout <= 0 means no deadline
// beyond the caller's.
func (h *HealthChecker) AddCheck(name string, check CheckFunc, timeout time.Duration) {
	h.add(healthCheck{name: name, check: check, timeout: timeout, critical: true})
}

// AddOptionalCheck registers a check whose failure the service survives.
func (h *HealthChecker) AddOptionalCheck(name string, check CheckFunc, timeout time.Duration) {
	h.add(healthCheck{name: name, check: check, timeout: timeout})
}

func (h *HealthChecker) add(c healthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, c)
	h.mu.Unlock()
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]healthCheck(nil), h.checks...)
	h.mu.RUnlock()

	type result struct {
		detail string
		ok     bool
	}
	results := make([]result, len(checks))

	var wg sync.WaitGroup
	for i, c := range checks {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.run(ctx)
			switch {
			case err != nil:
				results[i] = result{detail: err.Error()}
			case !ok:
				results[i] = result{detail: "check failed"}
			default:
				results[i] = result{detail: StatusHealthy, ok: true}
			}
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}
	for i, c := range checks {
		status.Checks[c.name] = results[i].detail
		if results[i].ok {
			continue
		}
		if c.critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}
	return status
}

func (c healthCheck) run(ctx context.Context) (bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.check(ctx)
}
