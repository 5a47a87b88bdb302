package anc

import (
	"errors"
	"fmt"
)

// Algorithm selects the adaptive-filter update rule for a session.
type Algorithm string

const (
	// AlgorithmLMS is the plain least-mean-squares recursion.
	AlgorithmLMS Algorithm = "lms"

	// AlgorithmNLMS is the power-normalised LMS recursion (the default).
	AlgorithmNLMS Algorithm = "nlms"

	// AlgorithmRLS is the recursive-least-squares recursion with an inverse
	// correlation matrix. Converges faster than (N)LMS at O(L²) per sample.
	AlgorithmRLS Algorithm = "rls"
)

// IsValid reports whether a is one of the known algorithms.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmLMS, AlgorithmNLMS, AlgorithmRLS:
		return true
	}
	return false
}

// Limits for [SessionConfig] fields, enforced by [SessionConfig.Validate].
const (
	MinSampleRate = 8000
	MaxSampleRate = 48000

	MinBlockSize = 1
	MaxBlockSize = 2048

	MinFilterLength = 1
	MaxFilterLength = 2048
)

// SessionConfig holds the per-session processing parameters. A config is
// validated once at Open (or Reconfigure) time; past that boundary every
// field is trusted.
//
// SampleRate and BlockSize are immutable after Open — a Reconfigure that
// changes either is rejected. Changing Algorithm or FilterLength resets the
// filter; changing only StepSize, Intensity, BypassML, or EmergencyThreshold
// preserves the adapted coefficients.
type SessionConfig struct {
	// SampleRate in Hz. Informational: used for latency computations and
	// cancellation reporting only.
	SampleRate int `yaml:"sample_rate"`

	// BlockSize is the enforced length of every submitted block. Must be a
	// power of two in [MinBlockSize, MaxBlockSize].
	BlockSize int `yaml:"block_size"`

	// Algorithm selects the adaptive-filter update rule.
	Algorithm Algorithm `yaml:"algorithm"`

	// FilterLength is the FIR tap count (= delay-line length).
	FilterLength int `yaml:"filter_length"`

	// StepSize is µ for LMS/NLMS (0 ≤ µ < 2) or the forgetting factor λ for
	// RLS (0 < λ ≤ 1).
	StepSize float64 `yaml:"step_size"`

	// Intensity is the output-mix gain in [0, 1]: out = in − intensity·anti.
	Intensity float64 `yaml:"intensity"`

	// BypassML skips both the noise classifier and the emergency detector.
	BypassML bool `yaml:"bypass_ml"`

	// EmergencyThreshold is the detector-confidence threshold in [0, 1] at
	// or above which a block bypasses cancellation.
	EmergencyThreshold float64 `yaml:"emergency_threshold"`
}

// Validate checks every field of c against the documented ranges and returns
// a joined error listing all failures found.
func (c SessionConfig) Validate() error {
	var errs []error

	if c.SampleRate < MinSampleRate || c.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("sample_rate %d is out of range [%d, %d]", c.SampleRate, MinSampleRate, MaxSampleRate))
	}
	if c.BlockSize < MinBlockSize || c.BlockSize > MaxBlockSize {
		errs = append(errs, fmt.Errorf("block_size %d is out of range [%d, %d]", c.BlockSize, MinBlockSize, MaxBlockSize))
	} else if c.BlockSize&(c.BlockSize-1) != 0 {
		errs = append(errs, fmt.Errorf("block_size %d is not a power of two", c.BlockSize))
	}
	if !c.Algorithm.IsValid() {
		errs = append(errs, fmt.Errorf("algorithm %q is invalid; valid values: lms, nlms, rls", c.Algorithm))
	}
	if c.FilterLength < MinFilterLength || c.FilterLength > MaxFilterLength {
		errs = append(errs, fmt.Errorf("filter_length %d is out of range [%d, %d]", c.FilterLength, MinFilterLength, MaxFilterLength))
	}
	switch c.Algorithm {
	case AlgorithmRLS:
		if c.StepSize <= 0 || c.StepSize > 1 {
			errs = append(errs, fmt.Errorf("step_size %g is out of range (0, 1] for rls (forgetting factor)", c.StepSize))
		}
	default:
		if c.StepSize < 0 || c.StepSize >= 2 {
			errs = append(errs, fmt.Errorf("step_size %g is out of range [0, 2) for %s", c.StepSize, c.Algorithm))
		}
	}
	if c.Intensity < 0 || c.Intensity > 1 {
		errs = append(errs, fmt.Errorf("intensity %g is out of range [0, 1]", c.Intensity))
	}
	if c.EmergencyThreshold < 0 || c.EmergencyThreshold > 1 {
		errs = append(errs, fmt.Errorf("emergency_threshold %g is out of range [0, 1]", c.EmergencyThreshold))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// CompatibleWith reports whether next may replace c on a live session.
// SampleRate and BlockSize are fixed at Open; everything else may change.
func (c SessionConfig) CompatibleWith(next SessionConfig) error {
	var errs []error
	if next.SampleRate != c.SampleRate {
		errs = append(errs, fmt.Errorf("sample_rate is immutable after open (have %d, got %d)", c.SampleRate, next.SampleRate))
	}
	if next.BlockSize != c.BlockSize {
		errs = append(errs, fmt.Errorf("block_size is immutable after open (have %d, got %d)", c.BlockSize, next.BlockSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
