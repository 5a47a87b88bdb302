// Package resilience provides the failure-isolation primitive wrapped around
// the emergency detector: a three-state circuit breaker (closed → open →
// half-open) that converts a persistently failing or slow detector into an
// immediate local decision instead of a per-block timeout spin.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker is open and the
// reset timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards all calls.
	Closed State = iota

	// Open rejects calls with [ErrOpen] until the reset timeout elapses.
	Open

	// HalfOpen lets a single probe call through; success closes the
	// breaker, failure re-opens it.
	HalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the tuning knobs for a [Breaker]. Zero values are
// replaced with defaults.
type BreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the consecutive-failure count that opens the breaker.
	// Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe. Default: 5s.
	ResetTimeout time.Duration
}

// Breaker is a consecutive-failure circuit breaker with a single-probe
// half-open state.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewBreaker creates a [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 5 * time.Second
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
	}
}

// Execute runs fn if the breaker admits it, recording the outcome. While the
// breaker is open (and not yet due for a probe) fn is not called and
// [ErrOpen] is returned.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = HalfOpen
		b.probing = false
		slog.Info("breaker half-open", "name", b.name)
		fallthrough
	case HalfOpen:
		if b.probing {
			// Another goroutine holds the probe slot.
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	wasProbe := b.state == HalfOpen
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if wasProbe {
		b.probing = false
	}

	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if wasProbe || (b.state == Closed && b.failures >= b.maxFailures) {
			if b.state != Open {
				slog.Warn("breaker opened", "name", b.name, "consecutive_failures", b.failures)
			}
			b.state = Open
		}
		return err
	}

	if b.state != Closed {
		slog.Info("breaker closed", "name", b.name)
	}
	b.state = Closed
	b.failures = 0
	return nil
}

// State returns the breaker's current state, reporting [HalfOpen] when an
// open breaker is due for its probe.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.lastFailure) >= b.resetTimeout {
		return HalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [Closed], clearing failure counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probing = false
}
