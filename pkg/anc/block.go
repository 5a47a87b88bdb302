// Package anc defines the shared types of the Nullwave noise-cancellation
// engine: sample blocks, session configuration, statistics, emergency events,
// and the error taxonomy surfaced at the session API.
//
// These types form the lingua franca between the transport layer, the engine,
// and the per-session pipelines. They are intentionally minimal — each package
// defines its own domain types, but cross-cutting data structures live here to
// avoid circular imports.
package anc

import (
	"time"

	"github.com/google/uuid"
)

// SampleBlock is the atomic unit of audio flowing through a session: a fixed
// group of mono float32 PCM samples in [-1, 1], tagged with a per-session
// monotonic sequence number assigned by the transport.
//
// The engine never renumbers blocks: the sequence emitted on the output side
// is the sequence of the input block that produced it.
type SampleBlock struct {
	// Sequence is the transport-assigned, per-session monotonic counter.
	Sequence uint64

	// Samples holds exactly SessionConfig.BlockSize samples. The engine does
	// not clip on input but clamps processed output to [-1, 1].
	Samples []float32

	// CapturedAt marks when the transport captured this block. Used for
	// end-to-end latency accounting.
	CapturedAt time.Time
}

// SessionID is the 128-bit opaque identifier of a processing session.
type SessionID uuid.UUID

// NewSessionID returns a freshly generated random SessionID.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID parses the canonical string form produced by [SessionID.String].
func ParseSessionID(s string) (SessionID, error) {
	id, err := uuid.Parse(s)
	return SessionID(id), err
}

// String returns the canonical UUID string form of the id.
func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

// State is the lifecycle state of a session.
type State int32

const (
	// StateActive accepts both Submit and Take.
	StateActive State = iota

	// StateDraining rejects Submit; queued blocks are still processed and
	// remain available via Take.
	StateDraining

	// StateTerminated rejects Submit. After Terminate, queued blocks have
	// been discarded; after a completed drain, already-processed blocks
	// remain available via Take.
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
