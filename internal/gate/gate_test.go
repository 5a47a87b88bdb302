package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/internal/gate/mock"
	"github.com/nullwave/nullwave/pkg/anc"
)

func testBlock() *anc.SampleBlock {
	return &anc.SampleBlock{
		Sequence:   7,
		Samples:    []float32{0.1, -0.2, 0.3, -0.4},
		CapturedAt: time.Now(),
	}
}

// waitForEvents polls the spy sink until it holds n events or the deadline
// passes (event delivery is fire-and-forget on a separate goroutine).
func waitForEvents(t *testing.T, sink *mock.Sink, n int) []anc.EmergencyEvent {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if evs := sink.Events(); len(evs) >= n {
			return evs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("sink did not receive %d event(s) in time", n)
	return nil
}

func TestBypassMLSkipsCapabilities(t *testing.T) {
	t.Parallel()

	cls := &mock.Classifier{Label: "traffic", Confidence: 0.9}
	det := &mock.Detector{Script: []mock.DetectResult{{Category: "siren", Confidence: 1.0}}}
	g := gate.New(cls, det, &mock.Sink{}, gate.Config{})

	d := g.Decide(context.Background(), anc.NewSessionID(),
		gate.Params{BypassML: true, Intensity: 0.8, EmergencyThreshold: 0.5}, testBlock())

	if d.Mode != gate.ModeApplyANC {
		t.Fatalf("Mode = %v, want ModeApplyANC", d.Mode)
	}
	if d.Intensity != 0.8 {
		t.Fatalf("Intensity = %g, want 0.8", d.Intensity)
	}
	if cls.Calls() != 0 {
		t.Fatalf("classifier called %d times with bypass_ml", cls.Calls())
	}
	if det.Calls() != 0 {
		t.Fatalf("detector called %d times with bypass_ml", det.Calls())
	}
}

func TestEmergencyBypassRecordsEvent(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Script: []mock.DetectResult{{Category: "alarm", Confidence: 0.9}}}
	sink := &mock.Sink{}
	g := gate.New(nil, det, sink, gate.Config{})
	id := anc.NewSessionID()

	d := g.Decide(context.Background(), id,
		gate.Params{EmergencyThreshold: 0.7}, testBlock())

	if d.Mode != gate.ModeEmergencyBypass {
		t.Fatalf("Mode = %v, want ModeEmergencyBypass", d.Mode)
	}
	if d.Category != "alarm" || d.Confidence != 0.9 {
		t.Fatalf("decision carries %q/%g, want alarm/0.9", d.Category, d.Confidence)
	}

	evs := waitForEvents(t, sink, 1)
	if evs[0].SessionID != id || evs[0].Sequence != 7 || evs[0].Category != "alarm" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
}

func TestBelowThresholdAppliesANC(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Script: []mock.DetectResult{{Category: "alarm", Confidence: 0.4}}}
	g := gate.New(nil, det, &mock.Sink{}, gate.Config{})

	d := g.Decide(context.Background(), anc.NewSessionID(),
		gate.Params{Intensity: 1.0, EmergencyThreshold: 0.7}, testBlock())

	if d.Mode != gate.ModeApplyANC {
		t.Fatalf("Mode = %v, want ModeApplyANC", d.Mode)
	}
}

func TestDetectorErrorFailsSafe(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Script: []mock.DetectResult{{Err: errors.New("model exploded")}}}
	g := gate.New(nil, det, &mock.Sink{}, gate.Config{})

	d := g.Decide(context.Background(), anc.NewSessionID(),
		gate.Params{Intensity: 1.0, EmergencyThreshold: 0.7}, testBlock())

	if d.Mode != gate.ModePassThrough {
		t.Fatalf("Mode = %v, want ModePassThrough on detector error", d.Mode)
	}
}

func TestDetectorTimeoutFailsSafe(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Fn: func(ctx context.Context, _ []float32) (string, float64, error) {
		<-ctx.Done() // never answers within the budget
		return "", 0, ctx.Err()
	}}
	g := gate.New(nil, det, &mock.Sink{}, gate.Config{DetectorBudget: time.Millisecond})

	start := time.Now()
	d := g.Decide(context.Background(), anc.NewSessionID(),
		gate.Params{Intensity: 1.0, EmergencyThreshold: 0.7}, testBlock())

	if d.Mode != gate.ModePassThrough {
		t.Fatalf("Mode = %v, want ModePassThrough on budget overrun", d.Mode)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Decide took %v, budget not enforced", elapsed)
	}
}

func TestBreakerOpensAfterRepeatedDetectorFailures(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Script: []mock.DetectResult{{Err: errors.New("down")}}}
	g := gate.New(nil, det, &mock.Sink{}, gate.Config{})

	p := gate.Params{Intensity: 1.0, EmergencyThreshold: 0.7}
	for i := 0; i < 5; i++ {
		g.Decide(context.Background(), anc.NewSessionID(), p, testBlock())
	}

	before := det.Calls()
	d := g.Decide(context.Background(), anc.NewSessionID(), p, testBlock())
	if d.Mode != gate.ModePassThrough {
		t.Fatalf("Mode = %v, want ModePassThrough with open breaker", d.Mode)
	}
	if det.Calls() != before {
		t.Fatal("detector still invoked while breaker open")
	}
}

func TestNilDetectorAppliesANC(t *testing.T) {
	t.Parallel()

	g := gate.New(nil, nil, nil, gate.Config{})
	d := g.Decide(context.Background(), anc.NewSessionID(),
		gate.Params{Intensity: 0.5, EmergencyThreshold: 0.7}, testBlock())

	if d.Mode != gate.ModeApplyANC || d.Intensity != 0.5 {
		t.Fatalf("got %+v, want ApplyANC at 0.5", d)
	}
}

func TestSinkFailureDoesNotAffectDecision(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Script: []mock.DetectResult{{Category: "siren", Confidence: 1.0}}}
	g := gate.New(nil, det, &mock.Sink{Err: errors.New("db down")}, gate.Config{})

	d := g.Decide(context.Background(), anc.NewSessionID(),
		gate.Params{EmergencyThreshold: 0.5}, testBlock())
	if d.Mode != gate.ModeEmergencyBypass {
		t.Fatalf("Mode = %v, want ModeEmergencyBypass despite sink failure", d.Mode)
	}
}

func TestNullImplementations(t *testing.T) {
	t.Parallel()

	label, conf, err := gate.NullClassifier{}.Classify(context.Background(), nil)
	if label != "unknown" || conf != 0 || err != nil {
		t.Fatalf("NullClassifier = (%q, %g, %v)", label, conf, err)
	}
	cat, conf, err := gate.NullDetector{}.Detect(context.Background(), nil)
	if cat != "" || conf != 0 || err != nil {
		t.Fatalf("NullDetector = (%q, %g, %v)", cat, conf, err)
	}
}
