package gate

import (
	"context"

	"github.com/nullwave/nullwave/pkg/anc"
)

// Compile-time interface assertions.
var (
	_ Classifier        = NullClassifier{}
	_ EmergencyDetector = NullDetector{}
	_ EventSink         = NullSink{}
)

// NullClassifier is the no-op classifier: every block is "unknown" with zero
// confidence. Used when no classification model is configured.
type NullClassifier struct{}

// Classify implements [Classifier].
func (NullClassifier) Classify(_ context.Context, _ []float32) (string, float64, error) {
	return "unknown", 0, nil
}

// NullDetector is the no-op emergency detector: nothing is ever an emergency.
type NullDetector struct{}

// Detect implements [EmergencyDetector].
func (NullDetector) Detect(_ context.Context, _ []float32) (string, float64, error) {
	return "", 0, nil
}

// NullSink discards emergency events.
type NullSink struct{}

// Record implements [EventSink].
func (NullSink) Record(_ context.Context, _ anc.EmergencyEvent) error { return nil }
