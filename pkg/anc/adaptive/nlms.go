package adaptive

import "math"

// nlmsEpsilon is the regularisation constant in the NLMS denominator,
// guarding against division by zero on silent input.
const nlmsEpsilon = 1e-6

// NLMS is the normalised LMS filter: w ← w + (µ/(ε+xᵀx))·e·x with ε = 10⁻⁶.
// This matches the classical normalised-LMS recursion exactly; the update is
// contractual down to evaluation order (power accumulated tap-by-tap in
// float64, gain computed once, applied per tap in float32).
type NLMS struct {
	w    []float32
	line delayLine
	mu   float64
}

var _ Filter = (*NLMS)(nil)

func newNLMS(length int, step float64) *NLMS {
	return &NLMS{
		w:    make([]float32, length),
		line: newDelayLine(length),
		mu:   step,
	}
}

// ProcessSample implements [Filter].
func (f *NLMS) ProcessSample(reference, desired float32) (antiNoise, err float32) {
	f.line.push(reference)

	var y, power float64
	for j := range f.w {
		x := float64(f.line.tap(j))
		y += float64(f.w[j]) * x
		power += x * x
	}
	antiNoise = float32(y)
	err = desired - antiNoise

	var g float32
	if math.IsInf(power, 0) || math.IsNaN(power) {
		// Non-finite power (an Inf or NaN sample in the delay line; the
		// float64 sum of finite float32 squares cannot overflow): skip
		// normalisation for this sample and let fixup bound the result.
		g = float32(f.mu * float64(err))
	} else {
		g = float32(f.mu * float64(err) / (nlmsEpsilon + power))
	}
	for j := range f.w {
		f.w[j] += g * f.line.tap(j)
	}
	fixup(f.w)

	f.line.advance()
	return antiNoise, err
}

// Reset implements [Filter].
func (f *NLMS) Reset() {
	clear(f.w)
	f.line.reset()
}

// SetStep implements [Filter].
func (f *NLMS) SetStep(step float64) { f.mu = step }

// Coefficients implements [Filter].
func (f *NLMS) Coefficients() []float32 { return copyCoefficients(f.w) }
