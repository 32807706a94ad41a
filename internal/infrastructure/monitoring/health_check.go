package monitoring

import (
	"context"
	"sync"
	"time"
)

type HealthChecker struct {
	checks []HealthCheck
	info   map[string]func() interface{}
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
	// Critical checks decide readiness. Non-critical ones are reported only.
	Critical bool
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]string      `json:"checks"`
	Info      map[string]interface{} `json:"info,omitempty"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{info: make(map[string]func() interface{})}
}

// AddInfo attaches a value sampled on every CheckAll, such as session
// counts. It never affects the status.
func (h *HealthChecker) AddInfo(name string, fn func() interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[name] = fn
}

func (h *HealthChecker) AddCheck(name string, critical bool, timeout time.Duration, check func(ctx context.Context) error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check, Timeout: timeout, Critical: critical})
}

// Pinger is satisfied by redis clients, mongo wrappers and the repository
// factory.
type Pinger interface {
	Ping(ctx context.Context) error
}

func (h *HealthChecker) AddPingCheck(name string, critical bool, timeout time.Duration, p Pinger) {
	h.AddCheck(name, critical, timeout, p.Ping)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	var info map[string]interface{}
	if len(h.info) > 0 {
		info = make(map[string]interface{}, len(h.info))
		for name, fn := range h.info {
			info[name] = fn()
		}
	}
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(checks)),
		Info:      info,
	}

	for _, check := range checks {
		err := runCheck(ctx, check)
		if err == nil {
			status.Checks[check.Name] = StatusHealthy
			continue
		}
		status.Checks[check.Name] = err.Error()
		if check.Critical {
			status.Status = StatusUnhealthy
		} else if status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func runCheck(ctx context.Context, check HealthCheck) error {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()
	return check.Check(checkCtx)
}

// IsReady reports whether every critical check passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}
