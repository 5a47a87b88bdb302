// Package classify provides emergency-detector implementations for the gate:
// a dependency-free spectral-energy heuristic here, and an ONNX-runtime
// model in the onnx subpackage.
package classify

import (
	"context"
	"math"

	"github.com/nullwave/nullwave/internal/gate"
)

// Compile-time interface assertion.
var _ gate.EmergencyDetector = (*EnergyDetector)(nil)

// probeFrequencies are the tones the heuristic listens for: common alarm and
// siren fundamentals (EN 54 / T-3 pattern tones, European siren sweep ends,
// smoke-alarm beeps).
var probeFrequencies = []float64{520, 700, 960, 1000, 1400, 2800, 3100}

// minMeanSquare gates detection: blocks quieter than this (≈ −40 dBFS) are
// never emergencies.
const minMeanSquare = 1e-4

// EnergyDetector flags blocks whose energy is concentrated in one of a fixed
// set of alarm tones. It is a cheap model-free stand-in for a trained
// emergency classifier: a pure tone at a probe frequency scores near 1.0,
// broadband noise near 0.
//
// Stateless per call and safe for concurrent use.
type EnergyDetector struct {
	sampleRate float64
}

// NewEnergyDetector creates a detector for streams at the given sample rate.
func NewEnergyDetector(sampleRate int) *EnergyDetector {
	return &EnergyDetector{sampleRate: float64(sampleRate)}
}

// Detect implements [gate.EmergencyDetector]. Confidence is the largest
// probe-tone fraction of total block energy, clamped to [0, 1].
func (d *EnergyDetector) Detect(ctx context.Context, samples []float32) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	if len(samples) == 0 {
		return "", 0, nil
	}

	var total float64
	for _, s := range samples {
		total += float64(s) * float64(s)
	}
	ms := total / float64(len(samples))
	if ms < minMeanSquare {
		return "", 0, nil
	}

	var best float64
	for _, freq := range probeFrequencies {
		if freq >= d.sampleRate/2 {
			continue
		}
		p := d.tonality(samples, freq, ms)
		if p > best {
			best = p
		}
	}
	if best > 1 {
		best = 1
	}
	return "alarm", best, nil
}

// tonality returns the fraction of block energy attributable to a sinusoid
// at freq, via the Goertzel recurrence. 1.0 means the block is that tone.
func (d *EnergyDetector) tonality(samples []float32, freq, meanSquare float64) float64 {
	n := float64(len(samples))
	w := 2 * math.Pi * freq / d.sampleRate
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	// |X(freq)|² from the recurrence state.
	mag2 := s1*s1 + s2*s2 - coeff*s1*s2

	// A unit-amplitude tone yields |X|² = (N/2)² and mean square 1/2, so the
	// normalised ratio below is 1 for a pure probe tone.
	return 2 * mag2 / (n * n * meanSquare)
}
