// Package engine assembles the Nullwave core: an explicit [Engine] value
// owning the session registry, the classifier and emergency-detector
// capabilities, the event sink, and the metric instruments. There is no
// package-level mutable state — hosts construct an Engine and pass it where
// it is needed.
package engine

import (
	"context"
	"time"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/internal/observe"
	"github.com/nullwave/nullwave/internal/pipeline"
	"github.com/nullwave/nullwave/internal/resilience"
	"github.com/nullwave/nullwave/pkg/anc"
)

// Config holds engine-wide settings. Zero values get defaults.
type Config struct {
	// MaxSessions caps concurrently live (non-terminated) sessions.
	// Default: [DefaultMaxSessions].
	MaxSessions int

	// QueueCapacity bounds each session's input and output queues.
	// Default: [pipeline.DefaultQueueCapacity].
	QueueCapacity int

	// DetectorBudget is the per-block emergency-detector budget.
	// Default: [gate.DefaultDetectorBudget].
	DetectorBudget time.Duration
}

// Option injects a capability into an [Engine] at construction.
type Option func(*Engine)

// WithClassifier sets the noise classifier. Absent, blocks go unlabelled.
func WithClassifier(c gate.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithDetector sets the emergency detector. Absent, no block is ever treated
// as an emergency.
func WithDetector(d gate.EmergencyDetector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithEventSink sets the emergency-event sink. Absent, events are discarded.
func WithEventSink(s gate.EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithMetrics sets the metric instruments. Absent, telemetry is disabled
// (useful in tests).
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the top-level core value.
type Engine struct {
	classifier gate.Classifier
	detector   gate.EmergencyDetector
	sink       gate.EventSink
	metrics    *observe.Metrics

	mgr *SessionManager
}

// New builds an Engine from cfg and the given capability options.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}

	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = pipeline.DefaultQueueCapacity
	}

	e.mgr = &SessionManager{
		maxSessions:   cfg.MaxSessions,
		queueCapacity: cfg.QueueCapacity,
		gateConfig: gate.Config{
			DetectorBudget: cfg.DetectorBudget,
			Breaker:        resilience.BreakerConfig{Name: "emergency-detector"},
		},
		classifier: e.classifier,
		detector:   e.detector,
		sink:       e.sink,
		metrics:    e.metrics,
		sessions:   make(map[anc.SessionID]*pipeline.Session),
	}
	return e
}

// Sessions returns the session registry; all session API operations live
// there.
func (e *Engine) Sessions() *SessionManager { return e.mgr }

// Shutdown terminates all sessions and waits for their workers, bounded by
// ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.mgr.Shutdown(ctx)
}
