// Package guard implements the simulation/idempotency guard: the single
// enforcement point through which every side-effecting move must pass
// before anything may execute it. No other component appends
// execution-bearing ledger rows.
package guard

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/decision"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/gates"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/ledger"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
	"go.opentelemetry.io/otel/attribute"
)

// ErrorCode classifies guard rejections. Idempotency replays are not
// rejections and never produce a GuardError.
type ErrorCode string

const (
	CodeNotExecutable       ErrorCode = "not_executable"
	CodeExecutionNotAllowed ErrorCode = "execution_not_allowed"
	CodeSimulationInactive  ErrorCode = "simulation_inactive"
	CodeMissingKey          ErrorCode = "missing_idempotency_key"
	CodeLedgerFailure       ErrorCode = "ledger_failure"
)

// GuardError is a typed rejection from the authorization point.
type GuardError struct {
	Code ErrorCode
	msg  string
	err  error
}

func (e *GuardError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *GuardError) Unwrap() error { return e.err }

// Request bundles everything the guard re-checks at the authorization
// point. The guard trusts nothing decided earlier in the turn: the move
// class, the simulation match, and the key are all verified again here.
type Request struct {
	Turn    posture.TurnContext
	Move    decision.NextMove
	Verdict gates.Verdict
	// Payload is the bounded structured summary recorded with the entry.
	Payload map[string]string
}

// Result is the recorded authorization. Replayed is true when the key was
// already consumed and the original entry was returned unchanged.
type Result struct {
	Entry    ledger.Entry
	Replayed bool
}

// Guard authorizes and records moves against the ledger. Concurrent
// callers competing for one key collapse onto a single append through the
// in-process flight group; cross-process races are resolved by the
// ledger's atomic check-and-insert.
type Guard struct {
	ledger ledger.Store
	group  singleflight.Group
	clock  func() time.Time
}

type Option func(*Guard)

func WithClock(clock func() time.Time) Option {
	return func(g *Guard) { g.clock = clock }
}

func New(store ledger.Store, opts ...Option) *Guard {
	g := &Guard{ledger: store, clock: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AuthorizeAndRecord re-checks the move, rejects anything unauthorized,
// and appends the decision atomically with the authorization. A repeat of
// a previously recorded key returns the original entry unchanged.
func (g *Guard) AuthorizeAndRecord(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "authorize and record")
	defer span.End()

	eventType, err := g.eventTypeFor(req)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	key := ""
	if req.Turn.Idempotency != nil {
		key = req.Turn.Idempotency.Key
	}
	if key == "" {
		return Result{}, &GuardError{Code: CodeMissingKey, msg: "side-effecting move carries no idempotency key"}
	}

	entry := ledger.Entry{
		TenantID:       req.Turn.TenantID,
		CorrelationID:  req.Turn.CorrelationID,
		TurnID:         req.Turn.TurnID,
		EventType:      eventType,
		ReasonCode:     string(req.Move.Reason),
		Payload:        req.Payload,
		IdempotencyKey: key,
		RecordedAt:     g.clock().UTC(),
	}

	flightKey := req.Turn.CorrelationID + "\x1f" + key
	type appendResult struct {
		entry    ledger.Entry
		inserted bool
	}
	value, err, _ := g.group.Do(flightKey, func() (any, error) {
		stored, inserted, err := g.ledger.Append(ctx, entry)
		if err != nil {
			return nil, err
		}
		return appendResult{entry: stored, inserted: inserted}, nil
	})
	if err != nil {
		wrapped := &GuardError{Code: CodeLedgerFailure, msg: "failed to record authorization", err: err}
		span.RecordError(wrapped)
		return Result{}, wrapped
	}

	result := value.(appendResult)
	replayed := !result.inserted
	span.SetAttributes(
		attribute.String("guard.event_type", string(eventType)),
		attribute.Bool("guard.replayed", replayed),
		attribute.String("guard.event_id", result.entry.EventID),
	)
	if replayed {
		logger.InfoContext(ctx, "idempotent replay returned original ledger entry",
			"correlation_id", req.Turn.CorrelationID,
			"idempotency_key", key,
			"event_id", result.entry.EventID,
		)
	}
	return Result{Entry: result.entry, Replayed: replayed}, nil
}

// RecordTrace appends a read-only decision row. Trace rows share the
// idempotency contract so retried turns do not double-record.
func (g *Guard) RecordTrace(ctx context.Context, req Request) (Result, error) {
	key := req.Turn.TurnID
	if req.Turn.Idempotency != nil && req.Turn.Idempotency.Key != "" {
		key = req.Turn.Idempotency.Key
	}

	eventType := ledger.EventDecisionTraced
	if req.Move.Move == posture.MoveDispatchTool {
		eventType = ledger.EventToolDispatched
	}

	entry := ledger.Entry{
		TenantID:       req.Turn.TenantID,
		CorrelationID:  req.Turn.CorrelationID,
		TurnID:         req.Turn.TurnID,
		EventType:      eventType,
		ReasonCode:     string(req.Move.Reason),
		Payload:        req.Payload,
		IdempotencyKey: key,
		RecordedAt:     g.clock().UTC(),
	}
	stored, inserted, err := g.ledger.Append(ctx, entry)
	if err != nil {
		return Result{}, &GuardError{Code: CodeLedgerFailure, msg: "failed to record trace entry", err: err}
	}
	return Result{Entry: stored, Replayed: !inserted}, nil
}

// eventTypeFor re-verifies that the move is executable at all and that its
// authorization still stands.
func (g *Guard) eventTypeFor(req Request) (ledger.EventType, error) {
	declaredWrite := req.Turn.DeclaredWrite && req.Move.Move != posture.MoveDispatchSimulation
	if req.Move.Move != posture.MoveDispatchSimulation && !declaredWrite {
		return "", &GuardError{Code: CodeNotExecutable, msg: fmt.Sprintf("move %q bears no side effects", req.Move.Move)}
	}
	if !req.Move.ExecutionAllowed || !req.Verdict.ExecutionAllowed {
		return "", &GuardError{Code: CodeExecutionNotAllowed, msg: "verdict does not allow execution"}
	}
	if req.Turn.Simulation == nil || !req.Turn.Simulation.Matched || !req.Turn.Simulation.Active {
		return "", &GuardError{Code: CodeSimulationInactive, msg: "no matching active simulation authorization"}
	}

	if req.Move.Move == posture.MoveDispatchSimulation {
		return ledger.EventSimulationDispatched, nil
	}
	return ledger.EventWriteDispatched, nil
}
