package anc

import "time"

// EmergencyEvent records a single block for which the emergency detector
// fired at or above the session's threshold. Events are delivered to the
// engine's event sink fire-and-forget: sink failures are logged and
// swallowed, never propagated into the audio path.
type EmergencyEvent struct {
	// SessionID identifies the session whose stream triggered the event.
	SessionID SessionID

	// Sequence is the sequence number of the triggering block.
	Sequence uint64

	// At is when the gate made the bypass decision.
	At time.Time

	// Category is the detector-reported sound class (e.g. "siren", "alarm").
	Category string

	// Confidence is the detector confidence in [0, 1].
	Confidence float64
}
