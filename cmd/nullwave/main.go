// Command nullwave is the Nullwave noise-cancellation server: it hosts the
// processing engine behind a WebSocket streaming surface plus health and
// metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nullwave/nullwave/internal/classify"
	onnxdetector "github.com/nullwave/nullwave/internal/classify/onnx"
	"github.com/nullwave/nullwave/internal/config"
	"github.com/nullwave/nullwave/internal/engine"
	"github.com/nullwave/nullwave/internal/eventsink"
	pgevents "github.com/nullwave/nullwave/internal/eventsink/postgres"
	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/internal/health"
	"github.com/nullwave/nullwave/internal/observe"
	"github.com/nullwave/nullwave/internal/transport"
)

// shutdownTimeout bounds graceful teardown after the stop signal.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "nullwave: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "nullwave: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("nullwave starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"detector", cfg.Detector.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	maxSessions := cfg.Engine.MaxSessions
	if maxSessions <= 0 {
		maxSessions = engine.DefaultMaxSessions
	}
	tel, err := observe.Setup(ctx, observe.TelemetryConfig{
		MaxSessions: maxSessions,
		BlockSize:   cfg.Engine.Defaults.BlockSize,
		SampleRate:  cfg.Engine.Defaults.SampleRate,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Capabilities ──────────────────────────────────────────────────────────
	detector, detectorClose, err := buildDetector(cfg)
	if err != nil {
		slog.Error("failed to build detector", "err", err)
		return 1
	}
	if detectorClose != nil {
		defer detectorClose()
	}

	sink, sinkPing, sinkClose, err := buildEventSink(ctx, cfg)
	if err != nil {
		slog.Error("failed to build event sink", "err", err)
		return 1
	}
	if sinkClose != nil {
		defer sinkClose()
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	eng := engine.New(engine.Config{
		MaxSessions:    maxSessions,
		QueueCapacity:  cfg.Engine.QueueCapacity,
		DetectorBudget: time.Duration(cfg.Detector.BudgetMS) * time.Millisecond,
	},
		engine.WithDetector(detector),
		engine.WithEventSink(sink),
		engine.WithMetrics(tel.Metrics),
	)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	transport.New(eng, cfg.Engine.Defaults).Register(mux)
	health.New(eng.Sessions().SnapshotFleet, maxSessions, buildDependencies(sinkPing)...).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("shutdown signal received, stopping…")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return eng.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildDetector constructs the emergency detector named in the config.
func buildDetector(cfg *config.Config) (gate.EmergencyDetector, func() error, error) {
	switch cfg.Detector.Provider {
	case "", "none":
		return nil, nil, nil
	case "energy":
		return classify.NewEnergyDetector(cfg.Engine.Defaults.SampleRate), nil, nil
	case "onnx":
		d, err := onnxdetector.New(onnxdetector.Config{
			ModelPath:  cfg.Detector.ModelPath,
			Categories: cfg.Detector.Categories,
		})
		if err != nil {
			return nil, nil, err
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown detector provider %q", cfg.Detector.Provider)
	}
}

// buildEventSink constructs the emergency-event sink: PostgreSQL when a DSN
// is configured, the structured-log sink otherwise.
func buildEventSink(ctx context.Context, cfg *config.Config) (gate.EventSink, func(context.Context) error, func(), error) {
	if cfg.Events.PostgresDSN == "" {
		return eventsink.LogSink{}, nil, nil, nil
	}
	s, err := pgevents.New(ctx, cfg.Events.PostgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.Info("event sink connected", "backend", "postgres")
	return s, s.Ping, s.Close, nil
}

// buildDependencies assembles the readiness dependencies; only external
// collaborators belong here (the fleet itself is reported by the probe).
func buildDependencies(sinkPing func(context.Context) error) []health.Dependency {
	if sinkPing == nil {
		return nil
	}
	return []health.Dependency{{Name: "events", Ping: sinkPing}}
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
