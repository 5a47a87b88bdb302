package anc

import "errors"

// Error taxonomy surfaced at the session API. Callers match with [errors.Is];
// wrapped variants carry the specific reason in their message.
var (
	// ErrInvalidConfig marks a construction-time validation failure. The
	// wrapped error lists every offending field.
	ErrInvalidConfig = errors.New("anc: invalid config")

	// ErrInvalidBlock is returned by Submit when a block's sample count does
	// not match the session's block size.
	ErrInvalidBlock = errors.New("anc: invalid block")

	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("anc: session not found")

	// ErrClosed is returned by Submit on a draining or terminated session.
	ErrClosed = errors.New("anc: session closed")

	// ErrFull names the input-queue-full condition. Sessions have no
	// reject-on-full mode: Submit always applies drop-oldest overflow, so no
	// session API path returns ErrFull.
	ErrFull = errors.New("anc: input queue full")

	// ErrCapacityExceeded is returned by Open when the global session cap
	// has been reached.
	ErrCapacityExceeded = errors.New("anc: session capacity exceeded")
)
