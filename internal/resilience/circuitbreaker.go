// Package resilience keeps a slow or failing model provider from eating the
// per-utterance latency budget.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) per
// provider. [FallbackGroup] tries a primary and its fallbacks in order, each
// behind its own breaker, and [LLMFallback] / [EmbeddingsFallback] expose a
// group as a regular provider.
//
// A call that ends because the caller cancelled it (the request finished or
// the pipeline stopped waiting) says nothing about the provider's health and
// is neither a success nor a failure for the breaker.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has elapsed since the last failure.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// Breaker defaults.
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks. FallbackGroup sets it
	// to the provider name.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: [DefaultMaxFailures].
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default:
	// [DefaultResetTimeout].
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget of the half-open state and the number
	// of probe successes needed to close. Default: [DefaultHalfOpenMax].
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker unlocked.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now. Tests use it to step over the reset timeout.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int // consecutive failures while closed
	openedAt    time.Time
	probes      int // probe calls admitted while half-open
	probeWins   int
	transitions []transition // pending callbacks, drained outside mu
}

type transition struct{ from, to State }

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn if the breaker admits the call and records the outcome.
// It returns [ErrCircuitOpen] without calling fn while open, or while
// half-open with the probe budget spent.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	switch {
	case isCallerCancel(err):
		if probe {
			cb.probes-- // give the probe slot back
		}
	case err != nil:
		cb.fail(probe)
	default:
		cb.succeed(probe)
	}
	pending := cb.drainLocked()
	cb.mu.Unlock()

	cb.notify(pending)
	return err
}

// admit decides whether a call may run. probe reports that it counts
// against the half-open budget.
func (cb *CircuitBreaker) admit() (probe, ok bool) {
	cb.mu.Lock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.probes, cb.probeWins = 0, 0
		cb.moveLocked(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		ok = false
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMax {
			cb.probes++
			probe, ok = true, true
		}
	default:
		ok = true
	}
	pending := cb.drainLocked()
	cb.mu.Unlock()

	cb.notify(pending)
	return probe, ok
}

// fail records a failed call. Must be called with cb.mu held.
func (cb *CircuitBreaker) fail(probe bool) {
	if probe || cb.state == StateHalfOpen {
		cb.openedAt = cb.cfg.Now()
		cb.moveLocked(StateOpen)
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
		cb.openedAt = cb.cfg.Now()
		cb.moveLocked(StateOpen)
	}
}

// succeed records a successful call. Must be called with cb.mu held.
func (cb *CircuitBreaker) succeed(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	cb.probeWins++
	if cb.state == StateHalfOpen && cb.probeWins >= cb.cfg.HalfOpenMax {
		cb.failures, cb.probes, cb.probeWins = 0, 0, 0
		cb.moveLocked(StateClosed)
	}
}

// moveLocked switches state and queues the callback. Must be called with
// cb.mu held.
func (cb *CircuitBreaker) moveLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.transitions = append(cb.transitions, transition{from, to})

	log := slog.With("provider", cb.cfg.Name, "from", from.String(), "to", to.String())
	if to == StateOpen {
		log.Warn("circuit breaker opened", "consecutive_failures", cb.failures)
	} else {
		log.Info("circuit breaker state changed")
	}
}

func (cb *CircuitBreaker) drainLocked() []transition {
	if len(cb.transitions) == 0 {
		return nil
	}
	out := cb.transitions
	cb.transitions = nil
	return out
}

func (cb *CircuitBreaker) notify(pending []transition) {
	if cb.cfg.OnStateChange == nil {
		return
	}
	for _, t := range pending {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.failures, cb.probes, cb.probeWins = 0, 0, 0
	cb.moveLocked(StateClosed)
	pending := cb.drainLocked()
	cb.mu.Unlock()

	cb.notify(pending)
}

// isCallerCancel reports whether err only says the caller stopped waiting.
// A provider timeout (DeadlineExceeded) still counts as a failure.
func isCallerCancel(err error) bool {
	return errors.Is(err, context.Canceled)
}
