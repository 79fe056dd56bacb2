// Package breaker implements a per-provider three-state circuit breaker
// (CLOSED / OPEN / HALF_OPEN), the gate the router consults before ever
// attempting an upstream call.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes one breaker instance. Zero values are replaced with
// DefaultConfig's values in New.
type Config struct {
	FailureThreshold int           // consecutive failures in CLOSED before tripping to OPEN
	RecoveryTimeout  time.Duration // how long OPEN waits before allowing a HALF_OPEN probe
	SuccessThreshold int           // consecutive HALF_OPEN successes required to close

	// Disabled keeps the breaker permanently CLOSED: failures are still
	// counted (for observability) but never trip the circuit, and
	// CanExecute always answers true. Wired from the
	// circuit_breaker_enabled configuration flag.
	Disabled bool
}

// DefaultConfig returns the stock thresholds: trip after 5 consecutive
// failures, probe after 60s, close again after 3 probe successes.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
	}
}

// Breaker guards a single provider. All methods are safe for concurrent
// use; CanExecute may itself transition OPEN -> HALF_OPEN as a side
// effect of being asked, which is the only way that transition occurs.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state State

	// failureCount only accumulates while CLOSED and resets to 0 on a
	// success while CLOSED or when HALF_OPEN closes (it keeps its value
	// while OPEN); consecutiveFailures is a separate,
	// always-on counter that also resets on every success but is never
	// reset merely by a state transition.
	failureCount        int
	consecutiveFailures int
	halfOpenSuccesses   int

	openedAt time.Time
}

// New builds a Breaker starting CLOSED.
func New(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	return &Breaker{cfg: cfg, state: StateClosed}
}

// CanExecute is the sole gating query the router calls before attempting
// an upstream request. OPEN transitions to HALF_OPEN here, once the
// recovery timeout has elapsed, rather than on a timer — the breaker is
// otherwise fully passive between calls.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cfg.Disabled {
		return true
	}

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess clears the consecutive-failure counter unconditionally,
// regardless of state, and additionally closes the breaker once enough
// consecutive HALF_OPEN successes accumulate.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure increments the consecutive-failure counter and, depending
// on state, either trips CLOSED -> OPEN past the failure threshold or
// immediately re-opens from HALF_OPEN (restamping openedAt and resetting
// the half-open success count — a single failed probe costs the whole
// recovery window, not just one success).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	if b.cfg.Disabled {
		return
	}

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.halfOpenSuccesses = 0
	}
}

// RecoveryRemaining reports how long until an OPEN breaker will allow a
// HALF_OPEN probe, and zero in any other state.
func (b *Breaker) RecoveryRemaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.cfg.RecoveryTimeout - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// State reports the current state without side effects (unlike
// CanExecute, this never performs the OPEN -> HALF_OPEN transition).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures reports the always-on failure streak, independent
// of the CLOSED-only failureCount used for tripping.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

// ForceOpen is an administrative override, used by the Gateway API's
// circuit-control endpoints.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateOpen
	b.openedAt = time.Now()
}

// ForceClose is an administrative override that fully resets the breaker.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Reset restores CLOSED state with all counters zeroed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.failureCount = 0
	b.consecutiveFailures = 0
	b.halfOpenSuccesses = 0
	b.openedAt = time.Time{}
}

// Snapshot is a point-in-time, concurrency-safe read of a breaker's
// status, suitable for the dashboard/health endpoints.
type Snapshot struct {
	State               State     `json:"state"`
	FailureCount        int       `json:"failure_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
	// RecoveryRemainingMS is how long until an OPEN breaker allows a
	// probe; zero in any other state.
	RecoveryRemainingMS float64 `json:"recovery_remaining_ms,omitempty"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	var recovery time.Duration
	if b.state == StateOpen {
		if recovery = b.cfg.RecoveryTimeout - time.Since(b.openedAt); recovery < 0 {
			recovery = 0
		}
	}
	return Snapshot{
		State:               b.state,
		FailureCount:        b.failureCount,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		RecoveryRemainingMS: float64(recovery.Microseconds()) / 1000.0,
	}
}

// Registry holds one Breaker per provider, constructed lazily the first
// time a provider name is seen.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry that hands out Breakers built with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for provider, constructing one on first use.
func (r *Registry) Get(providerName string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[providerName]; ok {
		return b
	}
	b := New(r.cfg)
	r.breakers[providerName] = b
	return b
}

// All returns a snapshot of every breaker currently tracked, keyed by
// provider name.
func (r *Registry) All() map[string]Snapshot {
	r.mu.Lock()
	providers := make([]string, 0, len(r.breakers))
	breakers := make([]*Breaker, 0, len(r.breakers))
	for name, b := range r.breakers {
		providers = append(providers, name)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]Snapshot, len(providers))
	for i, name := range providers {
		out[name] = breakers[i].Snapshot()
	}
	return out
}
