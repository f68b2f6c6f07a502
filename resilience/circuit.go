package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means sends flow normally.
	StateClosed State = iota
	// StateOpen means sends are rejected until the next probe time.
	StateOpen
	// StateHalfOpen means a probe send is in flight.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half-open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("resilience: unknown circuit state %q", text)
	}
	return nil
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a probe is allowed.
	// Default: 60 seconds
	Cooldown time.Duration

	// MaxCooldown caps the cooldown after repeated failed probes.
	// Default: 10 minutes
	MaxCooldown time.Duration

	// CooldownMultiplier grows the cooldown after each failed probe.
	// Values below 1 are treated as 1 (fixed cooldown).
	// Default: 2.0
	CooldownMultiplier float64

	// HalfOpenMaxProbes is how many calls may pass while half-open.
	// Default: 1
	HalfOpenMaxProbes int

	// OnStateChange is called when the circuit state changes. It runs with the
	// breaker lock held and must not call back into the breaker.
	OnStateChange func(from, to State)

	// Now overrides the clock. Default: time.Now
	Now func() time.Time
}

// CircuitBreaker is a process-wide health gate over a downstream dependency.
//
// Contract:
// - Concurrency: safe for concurrent use; exactly one caller wins the
//   Open -> HalfOpen transition.
// - Transitions are evaluated lazily in IsOpen; there is no background timer.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	nextProbeAt time.Time
	cooldown    time.Duration
	probes      int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}
	if config.MaxCooldown <= 0 {
		config.MaxCooldown = 10 * time.Minute
	}
	if config.MaxCooldown < config.Cooldown {
		config.MaxCooldown = config.Cooldown
	}
	if config.CooldownMultiplier <= 0 {
		config.CooldownMultiplier = 2.0
	}
	if config.CooldownMultiplier < 1 {
		config.CooldownMultiplier = 1
	}
	if config.HalfOpenMaxProbes <= 0 {
		config.HalfOpenMaxProbes = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config:   config,
		state:    StateClosed,
		cooldown: config.Cooldown,
	}
}

// IsOpen reports whether calls must be rejected.
//
// When the circuit is open and the probe time has been reached, the calling
// request becomes the probe: the state moves to half-open and IsOpen returns
// false. Further callers are rejected until the probe budget frees up via
// RecordSuccess, RecordFailure or ReleaseProbe.
func (cb *CircuitBreaker) IsOpen() bool {
	_, allowed := cb.Allow()
	return !allowed
}

// Allow is IsOpen with the probe made explicit: probe is true when the
// caller was admitted as a half-open probe and owns one unit of the probe
// budget until it reports an outcome or calls ReleaseProbe.
func (cb *CircuitBreaker) Allow() (probe, allowed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.config.Now().Before(cb.nextProbeAt) {
			return false, false
		}
		cb.setStateLocked(StateHalfOpen)
		cb.probes = 1
		return true, true
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxProbes {
			return false, false
		}
		cb.probes++
		return true, true
	default:
		return false, true
	}
}

// ReleaseProbe returns a probe slot without judging the dependency, for a
// probe that ended before reaching it. The circuit stays half-open and the
// next caller becomes the probe.
func (cb *CircuitBreaker) ReleaseProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.cooldown = cb.config.Cooldown
	cb.probes = 0
	cb.openedAt = time.Time{}
	cb.nextProbeAt = time.Time{}
	cb.setStateLocked(StateClosed)
}

// RecordFailure counts a failure. The circuit opens once the threshold is
// reached from closed, or immediately when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.openLocked()
		}
	case StateHalfOpen:
		next := time.Duration(float64(cb.cooldown) * cb.config.CooldownMultiplier)
		if next > cb.config.MaxCooldown {
			next = cb.config.MaxCooldown
		}
		cb.cooldown = next
		cb.openLocked()
	case StateOpen:
		// Late failures from sends admitted before the circuit opened.
	}
}

// State returns the current state without triggering a probe transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Status returns a read-only snapshot of the breaker.
func (cb *CircuitBreaker) Status() CircuitStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	status := CircuitStatus{
		State:    cb.state,
		Failures: cb.failures,
		Cooldown: cb.cooldown,
	}
	status.CooldownMs = cb.cooldown.Milliseconds()
	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		status.OpenedAt = &openedAt
	}
	if cb.state == StateOpen {
		nextProbeAt := cb.nextProbeAt
		status.NextProbeAt = &nextProbeAt
	}
	return status
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.RecordSuccess()
}

// Execute runs op through the breaker. Any non-nil error counts as a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if cb.IsOpen() {
		return ErrCircuitOpen
	}

	err := op(ctx)
	if err != nil {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

func (cb *CircuitBreaker) openLocked() {
	now := cb.config.Now()
	cb.openedAt = now
	cb.nextProbeAt = now.Add(cb.cooldown)
	cb.probes = 0
	cb.setStateLocked(StateOpen)
}

func (cb *CircuitBreaker) setStateLocked(state State) {
	old := cb.state
	cb.state = state
	if old != state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(old, state)
	}
}

// CircuitStatus is a snapshot of the breaker for observability.
type CircuitStatus struct {
	State       State         `json:"state"`
	Failures    int           `json:"failures"`
	OpenedAt    *time.Time    `json:"openedAt,omitempty"`
	NextProbeAt *time.Time    `json:"nextProbeAt,omitempty"`
	Cooldown    time.Duration `json:"-"`
	CooldownMs  int64         `json:"cooldownMs"`
}
