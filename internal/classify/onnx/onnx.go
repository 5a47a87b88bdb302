// Package onnx implements the emergency detector on top of an ONNX model
// executed via ONNX Runtime. The model contract: one float32 input tensor of
// shape [1, windowSize] holding normalised PCM in [-1, 1], one float32
// output of shape [1, numCategories] holding class logits.
package onnx

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nullwave/nullwave/internal/gate"
)

// Compile-time interface assertion.
var _ gate.EmergencyDetector = (*Detector)(nil)

// DefaultWindowSize is the inference window in samples when the config does
// not override it.
const DefaultWindowSize = 512

// ortInitOnce ensures the ONNX Runtime environment is initialised exactly
// once. ortInitErr is kept at package scope so later constructor calls
// surface the failure instead of proceeding with a dead environment.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// Config assembles a [Detector].
type Config struct {
	// ModelPath is the ONNX model file.
	ModelPath string

	// Categories names the model's output classes in tensor order. A class
	// named "background" maps to confidence 0 (not an emergency).
	Categories []string

	// WindowSize is the model's input length in samples. 0 means
	// [DefaultWindowSize]. Shorter blocks are zero-padded, longer ones
	// truncated to the most recent window.
	WindowSize int

	// LibraryPath optionally points at the onnxruntime shared library; when
	// empty the platform default lookup applies.
	LibraryPath string
}

// Detector runs emergency-sound inference. Input and output tensors are
// allocated once and reused; a mutex serialises inference because the same
// detector instance is shared by every session gate.
type Detector struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	categories []string
	window     int
}

// New loads the model at cfg.ModelPath and allocates the inference tensors.
// Call [Detector.Close] to release runtime resources.
func New(cfg Config) (*Detector, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("onnx: at least one category is required")
	}
	window := cfg.WindowSize
	if window <= 0 {
		window = DefaultWindowSize
	}

	ortInitOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("onnx: init runtime: %w", ortInitErr)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(window)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(cfg.Categories))))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"input"},
		[]string{"scores"},
		[]ort.Value{input},
		[]ort.Value{output},
		nil, // default session options
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &Detector{
		session:    session,
		input:      input,
		output:     output,
		categories: cfg.Categories,
		window:     window,
	}, nil
}

// Detect implements [gate.EmergencyDetector]. It softmaxes the model's
// logits and returns the winning class with its probability.
func (d *Detector) Detect(ctx context.Context, samples []float32) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return "", 0, fmt.Errorf("onnx: detector is closed")
	}

	in := d.input.GetData()
	clear(in)
	if len(samples) > d.window {
		samples = samples[len(samples)-d.window:]
	}
	copy(in, samples)

	if err := d.session.Run(); err != nil {
		return "", 0, fmt.Errorf("onnx: inference: %w", err)
	}

	probs := softmax(d.output.GetData())
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	category := d.categories[best]
	if category == "background" {
		return "", 0, nil
	}
	return category, probs[best], nil
}

// Close releases ONNX Runtime resources. Safe to call multiple times.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return nil
}

// softmax converts logits to probabilities with the usual max-shift for
// numerical stability.
func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxv := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxv {
			maxv = float64(v)
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxv)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
