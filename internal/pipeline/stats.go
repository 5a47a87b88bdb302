package pipeline

import (
	"math"
	"sync/atomic"

	"github.com/nullwave/nullwave/pkg/anc"
)

// counters holds the per-session statistics. blocksIn and droppedIn are
// written on the producer side (Enqueue) and by Terminate; every other field
// is written by the worker only. Readers take atomic snapshots. Relaxed
// per-counter atomicity is deliberate — a snapshot may mix values from adjacent blocks but each
// counter is individually monotonic.
type counters struct {
	blocksIn          atomic.Uint64
	blocksOut         atomic.Uint64
	droppedIn         atomic.Uint64
	droppedOut        atomic.Uint64
	emergencyBypasses atomic.Uint64
	sumLatencyNS      atomic.Uint64
	maxLatencyNS      atomic.Uint64

	// lastCancellationDB holds math.Float64bits of the estimate.
	lastCancellationDB atomic.Uint64
}

// recordLatency adds one emitted block's latency, updating the CAS-guarded
// maximum.
func (c *counters) recordLatency(ns uint64) {
	c.sumLatencyNS.Add(ns)
	for {
		cur := c.maxLatencyNS.Load()
		if ns <= cur || c.maxLatencyNS.CompareAndSwap(cur, ns) {
			return
		}
	}
}

func (c *counters) setCancellationDB(db float64) {
	c.lastCancellationDB.Store(math.Float64bits(db))
}

func (c *counters) cancellationDB() float64 {
	return math.Float64frombits(c.lastCancellationDB.Load())
}

// snapshot materialises the counters into an [anc.SessionStats] value.
func (c *counters) snapshot(state anc.State) anc.SessionStats {
	return anc.SessionStats{
		BlocksIn:           c.blocksIn.Load(),
		BlocksOut:          c.blocksOut.Load(),
		DroppedIn:          c.droppedIn.Load(),
		DroppedOut:         c.droppedOut.Load(),
		EmergencyBypasses:  c.emergencyBypasses.Load(),
		SumLatencyNS:       c.sumLatencyNS.Load(),
		MaxLatencyNS:       c.maxLatencyNS.Load(),
		LastCancellationDB: c.cancellationDB(),
		State:              state,
	}
}
