// Package pipeline implements the per-session streaming path: a bounded
// input queue, one long-lived worker that gates and filters blocks, and a
// bounded output queue the transport polls. Each session owns its filter
// state outright; the control path reaches it only through a config mailbox
// read at block boundaries.
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/internal/ring"
	"github.com/nullwave/nullwave/pkg/anc"
)

const (
	// DefaultQueueCapacity bounds each of the input and output queues.
	// Eight 512-sample blocks at 48 kHz is roughly 85 ms of audio per side.
	DefaultQueueCapacity = 8

	// workerTick is the input-wait timeout after which the worker re-checks
	// its lifecycle state.
	workerTick = 10 * time.Millisecond

	// cancellationEvery is the block interval at which the cancellation
	// estimate is refreshed.
	cancellationEvery = 32

	// cancellationClampDB bounds the reported cancellation estimate. A
	// silent output block would otherwise report +Inf.
	cancellationClampDB = 96.0
)

// Observer receives per-block telemetry from the worker. Implementations
// must be cheap and non-blocking; a nil Observer disables telemetry.
type Observer interface {
	BlockProcessed(mode gate.Mode)
	BlockDropped(direction string) // "in" or "out"
	BlockLatency(seconds float64)
	CancellationDB(db float64)
}

// Config assembles a [Session].
type Config struct {
	ID            anc.SessionID
	Session       anc.SessionConfig // validated by the caller
	QueueCapacity int               // 0 means DefaultQueueCapacity
	Gate          *gate.Gate
	Observer      Observer
}

// Session is one independent processing context. The transport side calls
// Enqueue and TryDequeue (single producer, single consumer); control
// operations may come from any goroutine.
type Session struct {
	id         anc.SessionID
	blockSize  int
	sampleRate int

	in  *ring.Queue[anc.SampleBlock]
	out *ring.Queue[anc.SampleBlock]
	fs  *filterState
	g   *gate.Gate
	obs Observer

	state   atomic.Int32
	stats   counters
	started atomic.Bool

	terminate chan struct{}
	done      chan struct{}
	termOnce  sync.Once

	processed uint64 // worker-private block count for cancellation sampling
}

// New builds a Session in StateActive with its worker not yet running; call
// [Session.Start] to begin processing. The session config must already be
// validated.
func New(cfg Config) (*Session, error) {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	fs, err := newFilterState(cfg.Session)
	if err != nil {
		return nil, err
	}
	g := cfg.Gate
	if g == nil {
		g = gate.New(nil, nil, nil, gate.Config{})
	}
	return &Session{
		id:         cfg.ID,
		blockSize:  cfg.Session.BlockSize,
		sampleRate: cfg.Session.SampleRate,
		in:         ring.New[anc.SampleBlock](capacity),
		out:        ring.New[anc.SampleBlock](capacity),
		fs:         fs,
		g:          g,
		obs:        cfg.Observer,
		terminate:  make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() anc.SessionID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() anc.State { return anc.State(s.state.Load()) }

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (s *Session) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.run()
	}
}

// Enqueue pushes b onto the input queue without blocking. The oldest queued
// block is evicted when the queue is full (counted in DroppedIn). Returns
// [anc.ErrClosed] unless the session is Active and [anc.ErrInvalidBlock]
// when the sample count does not match the session's block size.
func (s *Session) Enqueue(b anc.SampleBlock) error {
	if s.State() != anc.StateActive {
		return anc.ErrClosed
	}
	if len(b.Samples) != s.blockSize {
		return anc.ErrInvalidBlock
	}

	s.stats.blocksIn.Add(1)
	if dropped := s.in.PushDropOldest(b); dropped > 0 {
		s.stats.droppedIn.Add(uint64(dropped))
		if s.obs != nil {
			s.obs.BlockDropped("in")
		}
	}
	return nil
}

// TryDequeue pops the oldest processed block, if any. Non-blocking.
func (s *Session) TryDequeue() (anc.SampleBlock, bool) {
	return s.out.TryPop()
}

// Close transitions Active → Draining: no new blocks are accepted, queued
// blocks are still processed and remain available via TryDequeue. The worker
// exits once the input queue is empty, moving the session to Terminated.
func (s *Session) Close() {
	s.state.CompareAndSwap(int32(anc.StateActive), int32(anc.StateDraining))
}

// Terminate stops the session immediately, discarding queued input without
// processing. Idempotent.
func (s *Session) Terminate() {
	s.termOnce.Do(func() {
		s.state.Store(int32(anc.StateTerminated))
		close(s.terminate)
		if !s.started.Load() {
			// No worker to do it: discard queued input here.
			s.stats.droppedIn.Add(uint64(s.in.Drain()))
			s.out.Drain()
			close(s.done)
		}
	})
}

// Done is closed when the worker has exited (or, for a never-started
// session, when Terminate ran).
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats returns an atomic-read snapshot of the session counters.
func (s *Session) Stats() anc.SessionStats {
	return s.stats.snapshot(s.State())
}

// CheckCompatible verifies next against the session's immutable parameters
// (sample rate and block size are fixed at open).
func (s *Session) CheckCompatible(next anc.SessionConfig) error {
	base := anc.SessionConfig{SampleRate: s.sampleRate, BlockSize: s.blockSize}
	return base.CompatibleWith(next)
}

// PostConfig places cfg in the config mailbox; the worker installs it at the
// next block boundary. Validation and compatibility checks are the caller's
// responsibility.
func (s *Session) PostConfig(cfg anc.SessionConfig) {
	s.fs.post(cfg)
}

// Coefficients returns the current filter taps. Only meaningful when the
// worker is quiescent (tests, post-drain diagnostics).
func (s *Session) Coefficients() []float32 {
	return s.fs.coefficients()
}

// run is the worker loop. One iteration: wait for a block (bounded by
// workerTick), install any pending config, gate, filter, account, emit.
func (s *Session) run() {
	defer close(s.done)

	tick := time.NewTimer(workerTick)
	defer tick.Stop()

	for {
		if !tick.Stop() {
			select {
			case <-tick.C:
			default:
			}
		}
		tick.Reset(workerTick)

		select {
		case <-s.terminate:
			s.stats.droppedIn.Add(uint64(s.in.Drain()))
			s.out.Drain()
			return

		case b := <-s.in.C():
			s.process(b)
			if s.State() == anc.StateDraining && s.in.Len() == 0 {
				s.state.Store(int32(anc.StateTerminated))
				return
			}

		case <-tick.C:
			if s.State() == anc.StateDraining && s.in.Len() == 0 {
				s.state.Store(int32(anc.StateTerminated))
				return
			}
		}
	}
}

// process handles one block: config install, gate decision, filtering in
// place, stats, emission. The block was moved into the session at Enqueue,
// so mutating its sample slice is safe and keeps the hot path allocation-free.
func (s *Session) process(b anc.SampleBlock) {
	if err := s.fs.installPending(); err != nil {
		slog.Warn("config install failed; keeping previous filter",
			"session_id", s.id, "err", err)
	}
	cfg := s.fs.config()

	d := s.g.Decide(context.Background(), s.id, gate.Params{
		BypassML:           cfg.BypassML,
		Intensity:          cfg.Intensity,
		EmergencyThreshold: cfg.EmergencyThreshold,
	}, &b)

	sampleCancellation := d.Mode == gate.ModeApplyANC && s.processed%cancellationEvery == 0
	var inPower float64
	if sampleCancellation {
		inPower = sumSquares(b.Samples)
	}

	switch d.Mode {
	case gate.ModeApplyANC:
		s.fs.processBlock(b.Samples, b.Samples, d.Intensity)
	case gate.ModeEmergencyBypass:
		s.stats.emergencyBypasses.Add(1)
	}
	s.processed++

	if sampleCancellation {
		if db, ok := cancellationDB(inPower, sumSquares(b.Samples)); ok {
			s.stats.setCancellationDB(db)
			if s.obs != nil {
				s.obs.CancellationDB(db)
			}
		}
	}

	if !b.CapturedAt.IsZero() {
		ns := time.Since(b.CapturedAt).Nanoseconds()
		if ns > 0 {
			s.stats.recordLatency(uint64(ns))
			if s.obs != nil {
				s.obs.BlockLatency(float64(ns) / 1e9)
			}
		}
	}

	if s.out.TryPush(b) {
		s.stats.blocksOut.Add(1)
	} else {
		// The worker never blocks on a slow consumer; the freshly processed
		// block is the one discarded.
		s.stats.droppedOut.Add(1)
		if s.obs != nil {
			s.obs.BlockDropped("out")
		}
	}
	if s.obs != nil {
		s.obs.BlockProcessed(d.Mode)
	}
}

func sumSquares(samples []float32) float64 {
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return sum
}

// cancellationDB computes 10·log10(in/out) clamped to ±cancellationClampDB.
// ok is false when the input block is silent (no meaningful estimate).
func cancellationDB(inPower, outPower float64) (float64, bool) {
	if inPower <= 0 {
		return 0, false
	}
	if outPower <= 0 {
		return cancellationClampDB, true
	}
	db := 10 * math.Log10(inPower/outPower)
	if db > cancellationClampDB {
		db = cancellationClampDB
	} else if db < -cancellationClampDB {
		db = -cancellationClampDB
	}
	return db, true
}
