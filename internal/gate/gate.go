// Package gate decides, per block, whether a session applies cancellation,
// passes audio through untouched, or bypasses because an emergency sound was
// detected. It is a stateless-per-call facade over two injected capabilities
// — a noise classifier and an emergency detector — plus an event sink for
// bypass records.
//
// The gate fails safe: when the detector errors, exceeds its per-block
// budget, or its circuit breaker is open, the block is treated as possibly
// emergency and emitted unchanged. Cancellation is never applied while
// detection is broken.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/nullwave/nullwave/internal/resilience"
	"github.com/nullwave/nullwave/pkg/anc"
)

// DefaultDetectorBudget is the per-block wall-clock budget for the emergency
// detector. A detector that has not answered within the budget counts as
// failed for that block.
const DefaultDetectorBudget = 2 * time.Millisecond

// sinkTimeout bounds the fire-and-forget event record.
const sinkTimeout = time.Second

// Mode is the per-block processing decision.
type Mode int

const (
	// ModePassThrough emits the input unchanged (fail-safe or ANC disabled).
	ModePassThrough Mode = iota

	// ModeApplyANC runs the adaptive filter and mixes out the anti-noise.
	ModeApplyANC

	// ModeEmergencyBypass emits the input unchanged and records an
	// [anc.EmergencyEvent].
	ModeEmergencyBypass
)

// String returns the human-readable name of the mode.
func (m Mode) String() string {
	switch m {
	case ModePassThrough:
		return "pass-through"
	case ModeApplyANC:
		return "apply-anc"
	case ModeEmergencyBypass:
		return "emergency-bypass"
	default:
		return "unknown"
	}
}

// Classifier labels the dominant noise type of a block. Implementations may
// be remote models, local inference, or [NullClassifier].
type Classifier interface {
	// Classify returns a noise label ("traffic", "hvac", "unknown", …) and a
	// confidence in [0, 1].
	Classify(ctx context.Context, samples []float32) (label string, confidence float64, err error)
}

// EmergencyDetector scores a block for safety-critical sounds (sirens,
// alarms) that must never be attenuated.
type EmergencyDetector interface {
	// Detect returns the most likely emergency category and its confidence
	// in [0, 1]. A confidence of 0 means no emergency sound.
	Detect(ctx context.Context, samples []float32) (category string, confidence float64, err error)
}

// EventSink receives emergency-bypass records. Delivery is fire-and-forget:
// errors are logged and swallowed, never surfaced into the audio path.
type EventSink interface {
	Record(ctx context.Context, ev anc.EmergencyEvent) error
}

// Params is the slice of session config the gate consults. The worker passes
// a fresh snapshot per block, so a reconfigure takes effect at the next block
// boundary.
type Params struct {
	BypassML           bool
	Intensity          float64
	EmergencyThreshold float64
}

// Decision is the gate's verdict for one block.
type Decision struct {
	Mode Mode

	// Intensity is the mix gain to apply when Mode is ModeApplyANC.
	Intensity float64

	// Category and Confidence carry the detector result when Mode is
	// ModeEmergencyBypass, or the classifier label when Mode is ModeApplyANC
	// and a classifier is configured.
	Category   string
	Confidence float64
}

// Config tunes a [Gate]. Zero values get defaults.
type Config struct {
	// DetectorBudget overrides [DefaultDetectorBudget].
	DetectorBudget time.Duration

	// Breaker configures the detector circuit breaker.
	Breaker resilience.BreakerConfig
}

// Gate is the per-session decision point. Safe for use by the single session
// worker plus concurrent breaker state reads.
type Gate struct {
	classifier Classifier
	detector   EmergencyDetector
	sink       EventSink
	budget     time.Duration
	breaker    *resilience.Breaker
}

// New builds a Gate over the given capabilities. Any of them may be nil:
// a nil classifier skips labeling, a nil detector disables emergency
// detection entirely (every non-bypassed block gets ANC), a nil sink
// discards events.
func New(classifier Classifier, detector EmergencyDetector, sink EventSink, cfg Config) *Gate {
	if cfg.DetectorBudget <= 0 {
		cfg.DetectorBudget = DefaultDetectorBudget
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "emergency-detector"
	}
	return &Gate{
		classifier: classifier,
		detector:   detector,
		sink:       sink,
		budget:     cfg.DetectorBudget,
		breaker:    resilience.NewBreaker(cfg.Breaker),
	}
}

// Decide evaluates one block. Rule order, first match wins:
//
//  1. BypassML → ModeApplyANC without touching either capability.
//  2. Detector confidence ≥ threshold → ModeEmergencyBypass, event recorded.
//  3. Otherwise → ModeApplyANC.
//
// Detector failure (error, budget overrun, open breaker) yields
// ModePassThrough.
func (g *Gate) Decide(ctx context.Context, sessionID anc.SessionID, p Params, block *anc.SampleBlock) Decision {
	if p.BypassML {
		return Decision{Mode: ModeApplyANC, Intensity: p.Intensity}
	}

	if g.detector != nil {
		var category string
		var confidence float64
		err := g.breaker.Execute(func() error {
			c, f, derr := g.detectWithin(ctx, block.Samples)
			category, confidence = c, f
			return derr
		})
		if err != nil {
			// Possibly emergency — never cancel while detection is broken.
			return Decision{Mode: ModePassThrough}
		}
		if confidence >= p.EmergencyThreshold {
			g.record(anc.EmergencyEvent{
				SessionID:  sessionID,
				Sequence:   block.Sequence,
				At:         time.Now(),
				Category:   category,
				Confidence: confidence,
			})
			return Decision{Mode: ModeEmergencyBypass, Category: category, Confidence: confidence}
		}
	}

	d := Decision{Mode: ModeApplyANC, Intensity: p.Intensity}
	if g.classifier != nil {
		// Advisory only: the label feeds telemetry, errors are ignored.
		if label, conf, err := g.classifier.Classify(ctx, block.Samples); err == nil {
			d.Category, d.Confidence = label, conf
		}
	}
	return d
}

// detectWithin runs the detector with the per-block budget. The call runs on
// its own goroutine so that a stuck detector cannot stall the worker beyond
// the budget; the abandoned goroutine sees its context cancelled.
func (g *Gate) detectWithin(ctx context.Context, samples []float32) (string, float64, error) {
	dctx, cancel := context.WithTimeout(ctx, g.budget)
	defer cancel()

	type result struct {
		category   string
		confidence float64
		err        error
	}
	ch := make(chan result, 1)
	go func() {
		c, f, err := g.detector.Detect(dctx, samples)
		ch <- result{c, f, err}
	}()

	select {
	case <-dctx.Done():
		return "", 0, dctx.Err()
	case r := <-ch:
		return r.category, r.confidence, r.err
	}
}

// record delivers ev to the sink fire-and-forget.
func (g *Gate) record(ev anc.EmergencyEvent) {
	if g.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := g.sink.Record(ctx, ev); err != nil {
			slog.Warn("emergency event sink failed",
				"session_id", ev.SessionID,
				"sequence", ev.Sequence,
				"category", ev.Category,
				"err", err,
			)
		}
	}()
}

// BreakerState exposes the detector breaker state for readiness checks.
func (g *Gate) BreakerState() resilience.State {
	return g.breaker.State()
}
