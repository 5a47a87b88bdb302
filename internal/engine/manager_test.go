package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nullwave/nullwave/internal/engine"
	"github.com/nullwave/nullwave/internal/gate/mock"
	"github.com/nullwave/nullwave/pkg/anc"
)

func validConfig() anc.SessionConfig {
	return anc.SessionConfig{
		SampleRate:         16000,
		BlockSize:          4,
		Algorithm:          anc.AlgorithmNLMS,
		FilterLength:       64,
		StepSize:           0.5,
		Intensity:          0,
		EmergencyThreshold: 0.7,
	}
}

func newEngine(t *testing.T, cfg engine.Config, opts ...engine.Option) *engine.Engine {
	t.Helper()
	e := engine.New(cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

// takeOne polls Take until a block appears or the deadline passes.
func takeOne(t *testing.T, e *engine.Engine, id anc.SessionID) anc.SampleBlock {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, ok, err := e.Sessions().Take(id)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if ok {
			return b
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no block available in time")
	return anc.SampleBlock{}
}

func TestOpenSubmitTakeRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	id, err := e.Sessions().Open(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	in := []float32{0.1, -0.2, 0.3, -0.4}
	err = e.Sessions().Submit(id, anc.SampleBlock{Sequence: 1, Samples: in, CapturedAt: time.Now()})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	got := takeOne(t, e, id)
	if got.Sequence != 1 {
		t.Fatalf("Sequence = %d, want 1", got.Sequence)
	}
	for i := range in {
		if got.Samples[i] != in[i] {
			t.Fatalf("sample %d = %g, want %g (intensity 0 is pass-through)", i, got.Samples[i], in[i])
		}
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})

	cfg := validConfig()
	cfg.BlockSize = 3 // not a power of two
	if _, err := e.Sessions().Open(context.Background(), cfg); !errors.Is(err, anc.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}

	cfg = validConfig()
	cfg.FilterLength = 0
	if _, err := e.Sessions().Open(context.Background(), cfg); !errors.Is(err, anc.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig for zero filter length", err)
	}
}

func TestCapacityExceeded(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{MaxSessions: 3})
	for i := 0; i < 3; i++ {
		if _, err := e.Sessions().Open(context.Background(), validConfig()); err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
	}
	if _, err := e.Sessions().Open(context.Background(), validConfig()); !errors.Is(err, anc.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	id := anc.NewSessionID()

	if err := e.Sessions().Submit(id, anc.SampleBlock{}); !errors.Is(err, anc.ErrNotFound) {
		t.Fatalf("Submit err = %v, want ErrNotFound", err)
	}
	if _, _, err := e.Sessions().Take(id); !errors.Is(err, anc.ErrNotFound) {
		t.Fatalf("Take err = %v, want ErrNotFound", err)
	}
	if err := e.Sessions().Close(context.Background(), id); !errors.Is(err, anc.ErrNotFound) {
		t.Fatalf("Close err = %v, want ErrNotFound", err)
	}
	if _, err := e.Sessions().SnapshotStats(id); !errors.Is(err, anc.ErrNotFound) {
		t.Fatalf("SnapshotStats err = %v, want ErrNotFound", err)
	}
}

func TestSubmitAfterCloseReturnsClosed(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	id, err := e.Sessions().Open(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Sessions().Close(context.Background(), id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err = e.Sessions().Submit(id, anc.SampleBlock{Sequence: 1, Samples: []float32{0, 0, 0, 0}})
	if !errors.Is(err, anc.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestReconfigureRejectsImmutableChanges(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	id, err := e.Sessions().Open(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cfg := validConfig()
	cfg.SampleRate = 48000
	if err := e.Sessions().Reconfigure(context.Background(), id, cfg); !errors.Is(err, anc.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig for sample_rate change", err)
	}

	cfg = validConfig()
	cfg.BlockSize = 8
	if err := e.Sessions().Reconfigure(context.Background(), id, cfg); !errors.Is(err, anc.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig for block_size change", err)
	}
}

func TestReconfigureIntensityTakesEffect(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	cfg := validConfig()
	cfg.Intensity = 0 // exact pass-through
	id, err := e.Sessions().Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	submit := func(seq uint64) anc.SampleBlock {
		t.Helper()
		err := e.Sessions().Submit(id, anc.SampleBlock{
			Sequence: seq,
			Samples:  []float32{0.5, 0.5, 0.5, 0.5},
		})
		if err != nil {
			t.Fatalf("Submit %d: %v", seq, err)
		}
		return takeOne(t, e, id)
	}

	for seq := uint64(1); seq <= 50; seq++ {
		b := submit(seq)
		if b.Samples[0] != 0.5 {
			t.Fatalf("block %d sample = %g, want exact 0.5 at intensity 0", seq, b.Samples[0])
		}
	}

	next := cfg
	next.Intensity = 1.0
	if err := e.Sessions().Reconfigure(context.Background(), id, next); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	// With intensity 1 and 50 blocks of adaptation already behind it, the
	// filter's anti-noise output is non-zero, so the output diverges from
	// the input immediately.
	b := submit(51)
	if b.Samples[0] == 0.5 {
		t.Fatal("output unchanged after raising intensity — new config not applied")
	}
}

func TestEmergencyEventsFlowToSink(t *testing.T) {
	t.Parallel()

	det := &mock.Detector{Script: []mock.DetectResult{{Category: "siren", Confidence: 0.95}}}
	sink := &mock.Sink{}
	e := newEngine(t, engine.Config{DetectorBudget: time.Second},
		engine.WithDetector(det), engine.WithEventSink(sink))

	id, err := e.Sessions().Open(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	err = e.Sessions().Submit(id, anc.SampleBlock{Sequence: 1, Samples: []float32{0.9, 0.9, 0.9, 0.9}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	takeOne(t, e, id)

	deadline := time.Now().Add(time.Second)
	for len(sink.Events()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	evs := sink.Events()
	if len(evs) != 1 || evs[0].SessionID != id || evs[0].Category != "siren" {
		t.Fatalf("events = %+v, want one siren event for the session", evs)
	}

	st, err := e.Sessions().SnapshotStats(id)
	if err != nil {
		t.Fatalf("SnapshotStats: %v", err)
	}
	if st.EmergencyBypasses != 1 {
		t.Fatalf("EmergencyBypasses = %d, want 1", st.EmergencyBypasses)
	}
}

func TestFleetSnapshotAggregates(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	var ids []anc.SessionID
	for i := 0; i < 3; i++ {
		id, err := e.Sessions().Open(context.Background(), validConfig())
		if err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		e.Sessions().Submit(id, anc.SampleBlock{Sequence: 1, Samples: []float32{0.1, 0.1, 0.1, 0.1}})
		takeOne(t, e, id)
	}

	fs := e.Sessions().SnapshotFleet()
	if fs.ActiveSessions != 3 {
		t.Fatalf("ActiveSessions = %d, want 3", fs.ActiveSessions)
	}
	if fs.SessionsOpened != 3 {
		t.Fatalf("SessionsOpened = %d, want 3", fs.SessionsOpened)
	}
	if fs.BlocksIn != 3 || fs.BlocksOut != 3 {
		t.Fatalf("BlocksIn/Out = %d/%d, want 3/3", fs.BlocksIn, fs.BlocksOut)
	}
}

func TestTerminatedSessionStillServesStats(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{})
	id, err := e.Sessions().Open(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e.Sessions().Submit(id, anc.SampleBlock{Sequence: 1, Samples: []float32{0.1, 0.1, 0.1, 0.1}})
	takeOne(t, e, id)

	if err := e.Sessions().Terminate(context.Background(), id); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	st, err := e.Sessions().SnapshotStats(id)
	if err != nil {
		t.Fatalf("SnapshotStats after terminate: %v", err)
	}
	if st.State != anc.StateTerminated {
		t.Fatalf("State = %v, want Terminated", st.State)
	}
	if st.BlocksOut != 1 {
		t.Fatalf("BlocksOut = %d, want 1", st.BlocksOut)
	}

	if err := e.Sessions().Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := e.Sessions().SnapshotStats(id); !errors.Is(err, anc.ErrNotFound) {
		t.Fatalf("err = %v after Remove, want ErrNotFound", err)
	}
}

func TestTerminatedSessionsDoNotCountTowardCap(t *testing.T) {
	t.Parallel()

	e := newEngine(t, engine.Config{MaxSessions: 1})
	id, err := e.Sessions().Open(context.Background(), validConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := e.Sessions().Terminate(context.Background(), id); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	if _, err := e.Sessions().Open(context.Background(), validConfig()); err != nil {
		t.Fatalf("Open after terminate: %v", err)
	}
}
