// Package ledger implements the append-only, idempotency-keyed decision
// log. Rows are never updated or deleted; uniqueness is enforced on
// (correlation_id, idempotency_key) and a repeated append returns the
// original row instead of writing a second one.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventType classifies a ledger row.
type EventType string

const (
	// EventSimulationDispatched records an authorized simulation execution.
	EventSimulationDispatched EventType = "simulation_dispatched"
	// EventWriteDispatched records an authorized declared-write dispatch.
	EventWriteDispatched EventType = "write_dispatched"
	// EventToolDispatched records a read-only tool dispatch (trace mode).
	EventToolDispatched EventType = "tool_dispatched"
	// EventDecisionTraced records a non-executing decision (trace mode).
	EventDecisionTraced EventType = "decision_traced"
)

// Payload bounds. Entries summarize a decision; they never carry transcript
// or response bodies.
const (
	MaxPayloadEntries  = 16
	MaxPayloadValueLen = 256
)

// ErrPayloadTooLarge is returned when an entry's payload exceeds the bound.
var ErrPayloadTooLarge = errors.New("ledger payload exceeds bounds")

// Entry is one append-only ledger row.
type Entry struct {
	EventID        string            `json:"event_id"`
	TenantID       string            `json:"tenant_id"`
	CorrelationID  string            `json:"correlation_id"`
	TurnID         string            `json:"turn_id"`
	EventType      EventType         `json:"event_type"`
	ReasonCode     string            `json:"reason_code"`
	Payload        map[string]string `json:"payload,omitempty"`
	IdempotencyKey string            `json:"idempotency_key"`
	RecordedAt     time.Time         `json:"recorded_at"`
}

// validate enforces the append contract shared by every store.
func (e Entry) validate() error {
	if e.CorrelationID == "" {
		return fmt.Errorf("ledger entry missing correlation id")
	}
	if e.IdempotencyKey == "" {
		return fmt.Errorf("ledger entry missing idempotency key")
	}
	if e.EventType == "" {
		return fmt.Errorf("ledger entry missing event type")
	}
	if len(e.Payload) > MaxPayloadEntries {
		return fmt.Errorf("%w: %d entries", ErrPayloadTooLarge, len(e.Payload))
	}
	for key, value := range e.Payload {
		if len(value) > MaxPayloadValueLen {
			return fmt.Errorf("%w: value for %q is %d bytes", ErrPayloadTooLarge, key, len(value))
		}
	}
	return nil
}

// Store is the persistence contract: append and point lookup only.
type Store interface {
	// Append atomically checks (correlation_id, idempotency_key) and inserts
	// the entry. On a duplicate key it returns the previously stored entry
	// and inserted=false; that is the replay path, not an error.
	Append(ctx context.Context, entry Entry) (stored Entry, inserted bool, err error)

	// Lookup returns the entry for the key, or nil when none exists.
	Lookup(ctx context.Context, correlationID, idempotencyKey string) (*Entry, error)

	// List returns every entry for a correlation id in append order.
	List(ctx context.Context, correlationID string) ([]Entry, error)
}
