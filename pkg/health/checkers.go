package health

import (
	"context"
	"time"
)

// Checkable is implemented by the store, cache, blob and queue adapters.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker checks a Checkable within a timeout.
type AdapterChecker struct {
	name     string
	adapter  Checkable
	timeout  time.Duration
	optional bool
}

// NewAdapterChecker creates a checker; a zero timeout means 5s.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

// NewOptionalChecker reports a failing adapter as degraded instead of unhealthy. Used for
// dependencies the feed can run without, such as blob storage or the cascade claims.
func NewOptionalChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	c := NewAdapterChecker(name, adapter, timeout)
	c.optional = true
	return c
}

// Check performs the health check on the adapter
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		status := StatusUnhealthy
		if c.optional {
			status = StatusDegraded
		}
		return CheckResult{Name: c.name, Status: status, Error: err.Error(), Duration: time.Since(start)}
	}
	return CheckResult{Name: c.name, Status: StatusHealthy, Message: "OK", Duration: time.Since(start)}
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// CheckFunc adapts a function to Checkable.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }
