package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/internal/observe"
	"github.com/nullwave/nullwave/internal/pipeline"
	"github.com/nullwave/nullwave/pkg/anc"
)

// DefaultMaxSessions caps the process-wide live session count.
const DefaultMaxSessions = 256

// SessionManager is the process-wide registry of live sessions. It creates
// and destroys sessions, routes blocks to the right pipeline, enforces the
// global cap, and aggregates fleet statistics.
//
// The registry lock is held only for map access; block submission goes
// through the session's own queue after a brief read-locked lookup. All
// exported methods are safe for concurrent use.
type SessionManager struct {
	maxSessions   int
	queueCapacity int
	gateConfig    gate.Config

	classifier gate.Classifier
	detector   gate.EmergencyDetector
	sink       gate.EventSink
	metrics    *observe.Metrics

	mu       sync.RWMutex
	sessions map[anc.SessionID]*pipeline.Session

	opened atomic.Uint64
}

// Open validates cfg, allocates the session's queues and filter state,
// starts its worker, and returns the new session id. Fails with
// [anc.ErrCapacityExceeded] when the number of non-terminated sessions has
// reached the cap and with [anc.ErrInvalidConfig] on validation failure.
func (sm *SessionManager) Open(ctx context.Context, cfg anc.SessionConfig) (anc.SessionID, error) {
	_, span := observe.StartSpan(ctx, "session.open",
		attribute.String("algorithm", string(cfg.Algorithm)),
		attribute.Int("block_size", cfg.BlockSize),
	)
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return anc.SessionID{}, err
	}

	id := anc.NewSessionID()
	g := gate.New(sm.classifier, sm.detector, sm.sink, sm.gateConfig)
	s, err := pipeline.New(pipeline.Config{
		ID:            id,
		Session:       cfg,
		QueueCapacity: sm.queueCapacity,
		Gate:          g,
		Observer:      newMetricsObserver(sm.metrics),
	})
	if err != nil {
		return anc.SessionID{}, fmt.Errorf("engine: open session: %w", err)
	}

	sm.mu.Lock()
	if sm.liveCountLocked() >= sm.maxSessions {
		sm.mu.Unlock()
		return anc.SessionID{}, anc.ErrCapacityExceeded
	}
	sm.sessions[id] = s
	sm.mu.Unlock()

	s.Start()
	sm.opened.Add(1)
	if sm.metrics != nil {
		sm.metrics.SessionsOpened.Add(context.Background(), 1)
		sm.metrics.ActiveSessions.Add(context.Background(), 1)
		go func() {
			<-s.Done()
			sm.metrics.ActiveSessions.Add(context.Background(), -1)
		}()
	}

	slog.Info("session opened",
		"session_id", id,
		"algorithm", cfg.Algorithm,
		"filter_length", cfg.FilterLength,
		"block_size", cfg.BlockSize,
		"sample_rate", cfg.SampleRate,
	)
	return id, nil
}

// liveCountLocked counts non-terminated sessions. Callers hold sm.mu.
func (sm *SessionManager) liveCountLocked() int {
	n := 0
	for _, s := range sm.sessions {
		if s.State() != anc.StateTerminated {
			n++
		}
	}
	return n
}

// lookup returns the session for id or [anc.ErrNotFound].
func (sm *SessionManager) lookup(id anc.SessionID) (*pipeline.Session, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return nil, anc.ErrNotFound
	}
	return s, nil
}

// Submit routes one block to its session's input queue. Non-blocking; the
// queue's drop-oldest policy absorbs overflow.
func (sm *SessionManager) Submit(id anc.SessionID, b anc.SampleBlock) error {
	s, err := sm.lookup(id)
	if err != nil {
		return err
	}
	return s.Enqueue(b)
}

// Take polls the session's output queue. ok is false when no processed block
// is currently available.
func (sm *SessionManager) Take(id anc.SessionID) (anc.SampleBlock, bool, error) {
	s, err := sm.lookup(id)
	if err != nil {
		return anc.SampleBlock{}, false, err
	}
	b, ok := s.TryDequeue()
	return b, ok, nil
}

// Reconfigure validates cfg against the session's immutable parameters and
// posts it to the config mailbox; the worker installs it at the next block
// boundary. Coefficients survive unless algorithm or filter length changed.
func (sm *SessionManager) Reconfigure(ctx context.Context, id anc.SessionID, cfg anc.SessionConfig) error {
	_, span := observe.StartSpan(ctx, "session.reconfigure",
		attribute.String("session_id", id.String()))
	defer span.End()

	s, err := sm.lookup(id)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.CheckCompatible(cfg); err != nil {
		return err
	}
	s.PostConfig(cfg)
	slog.Info("session reconfigured", "session_id", id, "algorithm", cfg.Algorithm)
	return nil
}

// Close drains the session: no new blocks are accepted, queued blocks are
// processed, and the worker exits once the input queue is empty.
func (sm *SessionManager) Close(ctx context.Context, id anc.SessionID) error {
	_, span := observe.StartSpan(ctx, "session.close",
		attribute.String("session_id", id.String()))
	defer span.End()

	s, err := sm.lookup(id)
	if err != nil {
		return err
	}
	s.Close()
	slog.Info("session draining", "session_id", id)
	return nil
}

// Terminate stops the session immediately, discarding queued blocks. The
// session remains in the registry (serving stats snapshots) until [Remove].
func (sm *SessionManager) Terminate(ctx context.Context, id anc.SessionID) error {
	_, span := observe.StartSpan(ctx, "session.terminate",
		attribute.String("session_id", id.String()))
	defer span.End()

	s, err := sm.lookup(id)
	if err != nil {
		return err
	}
	s.Terminate()
	slog.Info("session terminated", "session_id", id)
	return nil
}

// Remove terminates the session and deletes it from the registry. After
// Remove, the id is unknown to every other method.
func (sm *SessionManager) Remove(id anc.SessionID) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return anc.ErrNotFound
	}
	s.Terminate()
	return nil
}

// SnapshotStats returns the session's counters.
func (sm *SessionManager) SnapshotStats(id anc.SessionID) (anc.SessionStats, error) {
	s, err := sm.lookup(id)
	if err != nil {
		return anc.SessionStats{}, err
	}
	return s.Stats(), nil
}

// SnapshotFleet aggregates counters across all registered sessions.
func (sm *SessionManager) SnapshotFleet() anc.FleetStats {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	fs := anc.FleetStats{SessionsOpened: sm.opened.Load()}
	for _, s := range sm.sessions {
		st := s.Stats()
		if st.State != anc.StateTerminated {
			fs.ActiveSessions++
		}
		fs.BlocksIn += st.BlocksIn
		fs.BlocksOut += st.BlocksOut
		fs.Dropped += st.DroppedIn + st.DroppedOut
		fs.EmergencyBypasses += st.EmergencyBypasses
	}
	return fs
}

// Shutdown terminates every session and waits (bounded by ctx) for the
// workers to exit.
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	all := make([]*pipeline.Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		all = append(all, s)
	}
	sm.sessions = make(map[anc.SessionID]*pipeline.Session)
	sm.mu.Unlock()

	for _, s := range all {
		s.Terminate()
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slog.Info("session manager shut down", "sessions", len(all))
	return nil
}

// metricsObserver bridges the pipeline's per-block telemetry hook to the
// OTel instruments.
type metricsObserver struct {
	m *observe.Metrics
}

func newMetricsObserver(m *observe.Metrics) pipeline.Observer {
	if m == nil {
		return nil
	}
	return &metricsObserver{m: m}
}

func (o *metricsObserver) BlockProcessed(mode gate.Mode) {
	ctx := context.Background()
	o.m.BlocksProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode.String())))
	if mode == gate.ModeEmergencyBypass {
		o.m.EmergencyBypasses.Add(ctx, 1)
	}
}

func (o *metricsObserver) BlockDropped(direction string) {
	o.m.RecordDrop(context.Background(), direction)
}

func (o *metricsObserver) BlockLatency(seconds float64) {
	o.m.BlockLatency.Record(context.Background(), seconds)
}

func (o *metricsObserver) CancellationDB(db float64) {
	o.m.CancellationDB.Record(context.Background(), db)
}
