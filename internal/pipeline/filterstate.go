package pipeline

import (
	"sync/atomic"

	"github.com/nullwave/nullwave/pkg/anc"
	"github.com/nullwave/nullwave/pkg/anc/adaptive"
)

// filterState owns the active adaptive filter of one session and mediates
// config swaps between the control path and the worker.
//
// Ownership rule: only the worker goroutine calls processBlock and
// installPending; the control path interacts exclusively through the
// single-slot mailbox. The filter is therefore never observed mid-update and
// every block runs under exactly one config.
type filterState struct {
	cfg    anc.SessionConfig
	filter adaptive.Filter

	// pending is the config mailbox. The writer overwrites an unread config
	// (last write wins); the worker swaps it out only at block boundaries.
	pending atomic.Pointer[anc.SessionConfig]
}

func newFilterState(cfg anc.SessionConfig) (*filterState, error) {
	f, err := adaptive.New(cfg.Algorithm, cfg.FilterLength, cfg.StepSize)
	if err != nil {
		return nil, err
	}
	return &filterState{cfg: cfg, filter: f}, nil
}

// post places cfg in the mailbox. Control path, any goroutine. A previous
// unread config is dropped.
func (fs *filterState) post(cfg anc.SessionConfig) {
	fs.pending.Store(&cfg)
}

// installPending applies a posted config, if any. Worker only, between
// blocks. Coefficients survive when neither the algorithm nor the filter
// length changed; otherwise a fresh filter is built (equivalent to Reset
// with the new shape).
func (fs *filterState) installPending() error {
	next := fs.pending.Swap(nil)
	if next == nil {
		return nil
	}

	if next.Algorithm == fs.cfg.Algorithm && next.FilterLength == fs.cfg.FilterLength {
		if next.StepSize != fs.cfg.StepSize {
			fs.filter.SetStep(next.StepSize)
		}
		fs.cfg = *next
		return nil
	}

	f, err := adaptive.New(next.Algorithm, next.FilterLength, next.StepSize)
	if err != nil {
		// Leave the running filter untouched; the config was validated at
		// Reconfigure so this indicates a programming error upstream.
		return err
	}
	fs.filter = f
	fs.cfg = *next
	return nil
}

// config returns the worker's current view of the session config.
func (fs *filterState) config() anc.SessionConfig { return fs.cfg }

// processBlock runs the filter sample-by-sample in the single-microphone
// feedforward form (reference == desired) and writes in − intensity·anti
// into out, clamped to [−1, 1]. len(out) must equal len(in).
func (fs *filterState) processBlock(in, out []float32, intensity float64) {
	g := float32(intensity)
	for i, s := range in {
		anti, _ := fs.filter.ProcessSample(s, s)
		out[i] = clampSample(s - g*anti)
	}
}

// coefficients exposes the filter taps for tests and diagnostics. Worker
// quiescence is the caller's responsibility.
func (fs *filterState) coefficients() []float32 { return fs.filter.Coefficients() }

func clampSample(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
