package health

import (
	"context"
	"fmt"
	"time"
)

// Pinger is a dependency that can report reachability, such as a store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a Pinger as healthy when Ping succeeds within the
// timeout.
type PingChecker struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// NewPingChecker creates a PingChecker. A non-positive timeout defaults to
// two seconds.
func NewPingChecker(name string, p Pinger, timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingChecker{name: name, pinger: p, timeout: timeout}
}

// Name returns the name of this checker.
func (c *PingChecker) Name() string {
	return c.name
}

// Check pings the dependency.
func (c *PingChecker) Check(ctx context.Context) Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.pinger.Ping(ctx)
	elapsed := time.Since(start)
	if err != nil {
		return Unhealthy(fmt.Sprintf("%s unreachable", c.name), fmt.Errorf("%w: %w", ErrUnreachable, err)).
			WithDuration(elapsed)
	}
	return Healthy(fmt.Sprintf("%s reachable", c.name)).
		WithDetails(map[string]any{"latency_ms": elapsed.Milliseconds()}).
		WithDuration(elapsed)
}
