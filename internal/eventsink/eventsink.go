// Package eventsink provides [gate.EventSink] implementations: a structured-
// log sink for deployments without durable storage, and (in the postgres
// subpackage) a PostgreSQL-backed sink.
package eventsink

import (
	"context"
	"log/slog"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/pkg/anc"
)

// Compile-time interface assertion.
var _ gate.EventSink = (*LogSink)(nil)

// LogSink records emergency events to the default structured logger. It is
// the fallback sink when no durable store is configured — the operator still
// sees every bypass, it just doesn't survive a restart.
type LogSink struct{}

// Record implements [gate.EventSink].
func (LogSink) Record(_ context.Context, ev anc.EmergencyEvent) error {
	slog.Warn("emergency bypass",
		"session_id", ev.SessionID,
		"sequence", ev.Sequence,
		"category", ev.Category,
		"confidence", ev.Confidence,
		"at", ev.At,
	)
	return nil
}
