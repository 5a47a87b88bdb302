package adaptive

// LMS is the plain least-mean-squares filter: w ← w + µ·e·x.
//
// Stability requires 0 ≤ µ < 2/(L·Pₓ) where Pₓ is the input power; keeping µ
// inside that bound is the caller's responsibility.
type LMS struct {
	w    []float32
	line delayLine
	mu   float64
}

var _ Filter = (*LMS)(nil)

func newLMS(length int, step float64) *LMS {
	return &LMS{
		w:    make([]float32, length),
		line: newDelayLine(length),
		mu:   step,
	}
}

// ProcessSample implements [Filter].
func (f *LMS) ProcessSample(reference, desired float32) (antiNoise, err float32) {
	f.line.push(reference)

	var y float64
	for j := range f.w {
		y += float64(f.w[j]) * float64(f.line.tap(j))
	}
	antiNoise = float32(y)
	err = desired - antiNoise

	g := float32(f.mu * float64(err))
	for j := range f.w {
		f.w[j] += g * f.line.tap(j)
	}
	fixup(f.w)

	f.line.advance()
	return antiNoise, err
}

// Reset implements [Filter].
func (f *LMS) Reset() {
	clear(f.w)
	f.line.reset()
}

// SetStep implements [Filter].
func (f *LMS) SetStep(step float64) { f.mu = step }

// Coefficients implements [Filter].
func (f *LMS) Coefficients() []float32 { return copyCoefficients(f.w) }
