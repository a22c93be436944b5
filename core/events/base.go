package events

import "time"

// Kind is the namespaced event name, e.g. "turn_decision.decided". The
// full set is listed in the package doc.
type Kind string

// Event is the contract every kernel event satisfies. Events are emitted
// synchronously under the session's writer lock, so handlers must not
// block.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the kind and emission time shared by every kernel event.
type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind {
	return b.kind
}

// Timestamp is when the event was emitted, not when the underlying turn
// started.
func (b Base) Timestamp() time.Time {
	return b.timestamp
}
