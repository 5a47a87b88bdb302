// Package adaptive implements the adaptive FIR filters at the heart of the
// noise-cancellation pipeline: LMS, NLMS, and RLS update rules over a shared
// circular delay line (standard recursions from adaptive-filter theory).
//
// A filter consumes one reference sample and one desired sample per call and
// returns the anti-noise estimate wᵀx together with the error
// e = desired − wᵀx, updating its coefficients as a side effect. Repeated
// application drives the error toward zero on stationary inputs.
//
// Filters are deliberately not safe for concurrent use: in the pipeline each
// instance is owned by exactly one worker goroutine, and the steady-state
// path performs no allocation, no locking, and no I/O.
package adaptive

import (
	"fmt"
	"math"

	"github.com/nullwave/nullwave/pkg/anc"
)

// maxCoefficient is the magnitude bound enforced on every coefficient after
// every update. Together with the non-finite repair in fixup it keeps a
// diverging filter recoverable instead of poisoning the whole stream.
const maxCoefficient = 1e6

// Filter is the per-sample contract shared by all three update rules.
type Filter interface {
	// ProcessSample consumes one reference sample (pushed into the delay
	// line) and one desired sample (the noisy observation). It returns the
	// anti-noise estimate wᵀx and the error desired − wᵀx, and updates the
	// coefficients.
	ProcessSample(reference, desired float32) (antiNoise, err float32)

	// Reset zeros the delay line and coefficients and re-initialises any
	// algorithm-specific state (RLS: P = δ⁻¹·I).
	Reset()

	// SetStep replaces the adaptation constant: µ for LMS/NLMS, the
	// forgetting factor λ for RLS. Coefficients are preserved.
	SetStep(step float64)

	// Coefficients returns a copy of the current coefficient vector.
	Coefficients() []float32
}

// New constructs the filter variant selected by alg with the given tap count
// and adaptation constant. The caller is responsible for range-checking step
// (it is part of [anc.SessionConfig.Validate]); length must be ≥ 1.
func New(alg anc.Algorithm, length int, step float64) (Filter, error) {
	if length < 1 {
		return nil, fmt.Errorf("adaptive: filter length %d must be >= 1", length)
	}
	switch alg {
	case anc.AlgorithmLMS:
		return newLMS(length, step), nil
	case anc.AlgorithmNLMS:
		return newNLMS(length, step), nil
	case anc.AlgorithmRLS:
		return newRLS(length, step), nil
	default:
		return nil, fmt.Errorf("adaptive: unknown algorithm %q", alg)
	}
}

// delayLine is the circular buffer of the most recent L reference samples.
//
// Discipline (identical across algorithms): push writes the new sample at
// head; tap(0) is that newest sample and tap(L−1) the oldest; advance moves
// head forward only after both the dot product and the coefficient update
// have consumed the current x vector.
type delayLine struct {
	x    []float32
	head int
}

func newDelayLine(length int) delayLine {
	return delayLine{x: make([]float32, length)}
}

func (d *delayLine) push(v float32) { d.x[d.head] = v }

func (d *delayLine) tap(j int) float32 {
	i := d.head - j
	if i < 0 {
		i += len(d.x)
	}
	return d.x[i]
}

func (d *delayLine) advance() {
	d.head++
	if d.head == len(d.x) {
		d.head = 0
	}
}

func (d *delayLine) reset() {
	clear(d.x)
	d.head = 0
}

// fixup repairs the coefficient vector in place after an update: non-finite
// values become 0, magnitudes above maxCoefficient are clamped sign-preserved.
func fixup(w []float32) {
	for i, c := range w {
		f := float64(c)
		switch {
		case math.IsNaN(f) || math.IsInf(f, 0):
			w[i] = 0
		case f > maxCoefficient:
			w[i] = maxCoefficient
		case f < -maxCoefficient:
			w[i] = -maxCoefficient
		}
	}
}

func copyCoefficients(w []float32) []float32 {
	out := make([]float32, len(w))
	copy(out, w)
	return out
}
