// Package postgres implements the durable emergency-event sink on top of a
// PostgreSQL connection pool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nullwave/nullwave/internal/gate"
	"github.com/nullwave/nullwave/pkg/anc"
)

// Compile-time interface assertion.
var _ gate.EventSink = (*Sink)(nil)

// schema creates the events table on first connection. The table is
// append-only; retention is the operator's concern.
const schema = `
CREATE TABLE IF NOT EXISTS emergency_events (
    id          BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    session_id  UUID        NOT NULL,
    sequence    BIGINT      NOT NULL,
    at          TIMESTAMPTZ NOT NULL,
    category    TEXT        NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL
);
CREATE INDEX IF NOT EXISTS emergency_events_session_idx
    ON emergency_events (session_id, at);`

// Sink writes emergency events to PostgreSQL. All methods are safe for
// concurrent use; the pool handles connection management.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, verifies the connection, and ensures
// the events table exists.
func New(ctx context.Context, dsn string) (*Sink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("event sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("event sink: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("event sink: ensure schema: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Record implements [gate.EventSink]. It inserts one row per event; the gate
// treats failures as best-effort (logged and swallowed), so Record just
// reports them.
func (s *Sink) Record(ctx context.Context, ev anc.EmergencyEvent) error {
	const q = `
		INSERT INTO emergency_events (session_id, sequence, at, category, confidence)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		ev.SessionID.String(),
		int64(ev.Sequence),
		ev.At,
		ev.Category,
		ev.Confidence,
	)
	if err != nil {
		return fmt.Errorf("event sink: insert: %w", err)
	}
	return nil
}

// Ping verifies database reachability; used by the readiness probe.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Sink) Close() {
	s.pool.Close()
}
