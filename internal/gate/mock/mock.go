// Package mock provides spy implementations of the gate capabilities for
// tests: call counting, scripted per-call results, and recorded events.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/pkg/anc"
)

// Compile-time interface assertions.
var (
	_ gate.Classifier        = (*Classifier)(nil)
	_ gate.EmergencyDetector = (*Detector)(nil)
	_ gate.EventSink         = (*Sink)(nil)
)

// Classifier is a spy [gate.Classifier] returning a fixed result.
type Classifier struct {
	Label      string
	Confidence float64
	Err        error

	calls atomic.Int64
}

// Classify implements [gate.Classifier].
func (c *Classifier) Classify(_ context.Context, _ []float32) (string, float64, error) {
	c.calls.Add(1)
	return c.Label, c.Confidence, c.Err
}

// Calls returns how many times Classify was invoked.
func (c *Classifier) Calls() int { return int(c.calls.Load()) }

// DetectResult is one scripted answer for [Detector].
type DetectResult struct {
	Category   string
	Confidence float64
	Err        error
}

// Detector is a spy [gate.EmergencyDetector]. If Script is non-empty, calls
// consume it in order (the last entry repeats once exhausted); otherwise
// every call returns the zero result. Fn, when set, overrides everything.
type Detector struct {
	Script []DetectResult
	Fn     func(ctx context.Context, samples []float32) (string, float64, error)

	calls atomic.Int64
}

// Detect implements [gate.EmergencyDetector].
func (d *Detector) Detect(ctx context.Context, samples []float32) (string, float64, error) {
	n := int(d.calls.Add(1)) - 1
	if d.Fn != nil {
		return d.Fn(ctx, samples)
	}
	if len(d.Script) == 0 {
		return "", 0, nil
	}
	if n >= len(d.Script) {
		n = len(d.Script) - 1
	}
	r := d.Script[n]
	return r.Category, r.Confidence, r.Err
}

// Calls returns how many times Detect was invoked.
func (d *Detector) Calls() int { return int(d.calls.Load()) }

// Sink records every delivered event.
type Sink struct {
	Err error

	mu     sync.Mutex
	events []anc.EmergencyEvent
}

// Record implements [gate.EventSink].
func (s *Sink) Record(_ context.Context, ev anc.EmergencyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of all recorded events.
func (s *Sink) Events() []anc.EmergencyEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]anc.EmergencyEvent, len(s.events))
	copy(out, s.events)
	return out
}
