package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over [Default] values and validates the
// result. An empty document yields the defaults unchanged. Tests feed string
// literals here directly.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config pre-filled with the values a bare server starts
// with: NLMS, 512-sample blocks at 48 kHz, 256 taps, full intensity.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.ListenAddr = ":8080"
	cfg.Server.LogLevel = LogInfo
	cfg.Detector.Provider = "none"
	cfg.Engine.Defaults.SampleRate = 48000
	cfg.Engine.Defaults.BlockSize = 512
	cfg.Engine.Defaults.Algorithm = "nlms"
	cfg.Engine.Defaults.FilterLength = 256
	cfg.Engine.Defaults.StepSize = 0.5
	cfg.Engine.Defaults.Intensity = 1.0
	cfg.Engine.Defaults.EmergencyThreshold = 0.7
	return cfg
}

// validate checks the whole tree, returning a joined error with every hard
// failure found. Soft real-time concerns (an over-budget detector, a deep
// queue) are logged, not rejected — they degrade latency, not correctness.
func (c *Config) validate() error {
	var errs []error

	if c.Server.LogLevel != "" && !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", c.Server.LogLevel))
	}

	if c.Engine.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("engine.max_sessions %d must not be negative", c.Engine.MaxSessions))
	}
	if c.Engine.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("engine.queue_capacity %d must not be negative", c.Engine.QueueCapacity))
	}
	if err := c.Engine.Defaults.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine.defaults: %w", err))
	}

	if c.Detector.Provider != "" && !slices.Contains(DetectorProviders, c.Detector.Provider) {
		errs = append(errs, fmt.Errorf("detector.provider %q is invalid; valid values: %v", c.Detector.Provider, DetectorProviders))
	}
	if c.Detector.Provider == "onnx" {
		if c.Detector.ModelPath == "" {
			errs = append(errs, errors.New("detector.model_path is required when detector.provider is onnx"))
		}
		if len(c.Detector.Categories) == 0 {
			errs = append(errs, errors.New("detector.categories is required when detector.provider is onnx"))
		}
	}
	if c.Detector.BudgetMS < 0 {
		errs = append(errs, fmt.Errorf("detector.budget_ms %d must not be negative", c.Detector.BudgetMS))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.warnRealtimeRisks()
	return nil
}

// warnRealtimeRisks flags configurations that are valid but eat into the
// pipeline's latency budget. Runs only on otherwise-valid configs so the
// duration math is well-defined.
func (c *Config) warnRealtimeRisks() {
	d := c.Engine.Defaults
	blockMS := 1000 * float64(d.BlockSize) / float64(d.SampleRate)

	if c.Detector.BudgetMS > 0 && float64(c.Detector.BudgetMS) >= blockMS {
		slog.Warn("detector budget is at least one block duration; emergency checks may stall the stream",
			"budget_ms", c.Detector.BudgetMS,
			"block_ms", blockMS,
		)
	}

	queueCap := c.Engine.QueueCapacity
	if queueCap == 0 {
		queueCap = 8
	}
	if queued := float64(queueCap) * blockMS; queued > 500 {
		slog.Warn("queue depth holds more than 500 ms of audio; consider a smaller queue_capacity",
			"queue_capacity", queueCap,
			"queued_ms", queued,
		)
	}

	if c.Events.PostgresDSN == "" {
		slog.Warn("events.postgres_dsn is empty; emergency events will be logged but not persisted")
	}
}
