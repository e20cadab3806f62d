// Package breaker implements the circuit breaker (spec.md §4.K): a
// CLOSED/OPEN/HALF_OPEN state machine guarding calls to a flaky
// downstream (the relay adapter, a webhook endpoint). No library in the
// retrieval pack shapes this (see DESIGN.md); the state machine is
// hand-rolled on sync.Mutex plus a failure-timestamp window, structurally
// grounded on kleeedolinux-socket.go's distributed.Supervisor
// failure-count-within-a-window restart tracker.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Error is returned by Execute when the breaker is open.
type Error struct {
	Name string
}

func (e *Error) Error() string { return fmt.Sprintf("breaker %q: circuit open", e.Name) }

// Config configures one Breaker's thresholds.
type Config struct {
	FailureThreshold int           // failures within FailureWindow to trip OPEN
	FailureWindow    time.Duration
	ResetTimeout     time.Duration // OPEN -> HALF_OPEN after this elapses
	SuccessThreshold int           // consecutive HALF_OPEN successes to close
	CallTimeout      time.Duration // per-call timeout under Execute
}

// Breaker is one named circuit.
type Breaker struct {
	name string
	cfg  Config

	mu               sync.Mutex
	state            State
	failures         []time.Time
	halfOpenSuccess  int
	openedAt         time.Time
}

// New constructs a Breaker in the CLOSED state.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

// State reports the current state (for /stats).
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()
	return b.state
}

// maybeTransitionToHalfOpen must be called with mu held.
func (b *Breaker) maybeTransitionToHalfOpen() {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = HalfOpen
		b.halfOpenSuccess = 0
	}
}

// Execute runs fn under the breaker. If the breaker is OPEN, it fails
// immediately with *Error. Otherwise fn runs under cfg.CallTimeout;
// success clears failures (CLOSED) or advances HALF_OPEN toward CLOSED;
// failure or timeout records a failure and may trip OPEN.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	b.mu.Lock()
	b.maybeTransitionToHalfOpen()
	if b.state == Open {
		b.mu.Unlock()
		return &Error{Name: b.name}
	}
	b.mu.Unlock()

	callCtx := ctx
	var cancel context.CancelFunc
	if b.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil || callCtx.Err() != nil {
		b.recordFailure()
		if err == nil {
			err = callCtx.Err()
		}
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.failures = append(b.failures, now)
	b.pruneFailures(now)

	switch b.state {
	case HalfOpen:
		b.trip(now)
	case Closed:
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.trip(now)
		}
	}
}

func (b *Breaker) trip(now time.Time) {
	b.state = Open
	b.openedAt = now
	b.halfOpenSuccess = 0
}

func (b *Breaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, f := range b.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.failures = kept
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failures = nil
			b.halfOpenSuccess = 0
		}
	case Closed:
		b.failures = nil
	}
}

// Reset manually forces the breaker back to CLOSED (spec.md §4.K:
// "CLOSED -- manual reset -- CLOSED"; also usable to recover from OPEN).
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = nil
	b.halfOpenSuccess = 0
}

// Manager holds a named map of breakers (spec.md §4.K).
type Manager struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewManager constructs a Manager that lazily creates breakers with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), cfg: cfg}
}

// Get returns the named breaker, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[name]
	if !ok {
		b = New(name, m.cfg)
		m.breakers[name] = b
	}
	return b
}

// Snapshot returns every breaker's current state, for /stats.
func (m *Manager) Snapshot() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.State()
	}
	return out
}
