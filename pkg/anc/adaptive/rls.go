package adaptive

const (
	// rlsDelta is the regularisation constant: Reset initialises the inverse
	// correlation matrix to P = δ⁻¹·I.
	rlsDelta = 0.01

	// rlsDenominatorFloor: when λ + xᵀPx falls below this, the update is
	// skipped for the sample (the prediction is still produced).
	rlsDenominatorFloor = 1e-12

	// rlsSymmetrizeEvery is the sample interval at which P ← (P + Pᵀ)/2 is
	// enforced to counter round-off drift.
	rlsSymmetrizeEvery = 1024
)

// RLS is the recursive-least-squares filter. Per sample:
//
//	k = (P·x) / (λ + xᵀ·P·x)
//	e = desired − wᵀx
//	w ← w + k·e
//	P ← (P − k·xᵀ·P) / λ
//
// P is kept in float64 (row-major L×L); coefficients remain float32 like the
// other variants. Cost is O(L²) per sample, so RLS is reserved for short
// filters where its convergence rate justifies the spend.
type RLS struct {
	w      []float32
	line   delayLine
	lambda float64

	p []float64 // inverse correlation matrix, row-major L×L
	x []float64 // scratch: tap-ordered copy of the delay line
	u []float64 // scratch: P·x
	k []float64 // scratch: gain vector

	sinceSym int
}

var _ Filter = (*RLS)(nil)

func newRLS(length int, step float64) *RLS {
	f := &RLS{
		w:      make([]float32, length),
		line:   newDelayLine(length),
		lambda: step,
		p:      make([]float64, length*length),
		x:      make([]float64, length),
		u:      make([]float64, length),
		k:      make([]float64, length),
	}
	f.initP()
	return f
}

func (f *RLS) initP() {
	clear(f.p)
	l := len(f.w)
	for i := 0; i < l; i++ {
		f.p[i*l+i] = 1 / rlsDelta
	}
}

// ProcessSample implements [Filter].
func (f *RLS) ProcessSample(reference, desired float32) (antiNoise, err float32) {
	f.line.push(reference)
	l := len(f.w)

	var y float64
	for j := 0; j < l; j++ {
		f.x[j] = float64(f.line.tap(j))
		y += float64(f.w[j]) * f.x[j]
	}
	antiNoise = float32(y)
	err = desired - antiNoise

	// u = P·x and denom = λ + xᵀ·P·x. xᵀP equals uᵀ while P stays symmetric,
	// which the periodic symmetrisation maintains.
	var xu float64
	for i := 0; i < l; i++ {
		row := f.p[i*l : i*l+l]
		var s float64
		for j := 0; j < l; j++ {
			s += row[j] * f.x[j]
		}
		f.u[i] = s
		xu += f.x[i] * s
	}
	denom := f.lambda + xu

	if denom >= rlsDenominatorFloor {
		e64 := float64(err)
		for i := 0; i < l; i++ {
			f.k[i] = f.u[i] / denom
			f.w[i] += float32(f.k[i] * e64)
		}
		inv := 1 / f.lambda
		for i := 0; i < l; i++ {
			row := f.p[i*l : i*l+l]
			ki := f.k[i]
			for j := 0; j < l; j++ {
				row[j] = (row[j] - ki*f.u[j]) * inv
			}
		}
	}
	fixup(f.w)

	f.sinceSym++
	if f.sinceSym >= rlsSymmetrizeEvery {
		f.symmetrize()
		f.sinceSym = 0
	}

	f.line.advance()
	return antiNoise, err
}

// symmetrize enforces P ← (P + Pᵀ)/2.
func (f *RLS) symmetrize() {
	l := len(f.w)
	for i := 0; i < l; i++ {
		for j := i + 1; j < l; j++ {
			m := (f.p[i*l+j] + f.p[j*l+i]) / 2
			f.p[i*l+j] = m
			f.p[j*l+i] = m
		}
	}
}

// Reset implements [Filter].
func (f *RLS) Reset() {
	clear(f.w)
	f.line.reset()
	f.initP()
	f.sinceSym = 0
}

// SetStep implements [Filter]. For RLS the step is the forgetting factor λ.
func (f *RLS) SetStep(step float64) { f.lambda = step }

// Coefficients implements [Filter].
func (f *RLS) Coefficients() []float32 { return copyCoefficients(f.w) }
