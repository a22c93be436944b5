// Package kernel is the orchestration entry point: for every inbound turn
// it decides the single next move the system may take, guarantees any
// side-effecting move passes the simulation/idempotency guard, and records
// every authorized decision append-only in the ledger.
//
// The kernel is a library boundary, not a service: upstream collaborators
// hand it posture, downstream dispatchers act on the returned move. It
// performs no I/O of its own beyond the ledger store it is configured
// with.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/config"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/continuity"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/decision"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/events"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/gates"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/governor"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/guard"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/ledger"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
)

// Kernel wires the gate evaluator, the interruption continuity controller,
// the decision state machine, and the simulation/idempotency guard into
// one per-turn pipeline.
type Kernel struct {
	snapshotMu sync.RWMutex
	snapshot   config.Snapshot

	continuity *continuity.Controller
	guard      *guard.Guard
	ledger     ledger.Store
	governor   *governor.Governor

	emit      eventEmitter
	sessions  *sessionLocks
	clock     func() time.Time
	traceMode bool
}

// Decision is the outcome of one processed turn.
type Decision struct {
	Move       decision.NextMove
	Verdict    gates.Verdict
	Continuity *continuity.Outcome
	// Entry is the recorded ledger row when the move executed (or trace
	// mode recorded it); nil otherwise.
	Entry    *ledger.Entry
	Replayed bool
}

func NewKernel(opts ...KernelOption) *Kernel {
	k := &Kernel{
		snapshot: config.Default(),
		ledger:   ledger.NewMemoryStore(),
		governor: governor.New(),
		emit:     noopEventEmitter,
		sessions: newSessionLocks(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.continuity == nil {
		k.continuity = continuity.NewController(
			continuity.WithRelationThreshold(k.snapshot.RelationConfidenceThreshold),
			continuity.WithResumeBufferTTL(k.snapshot.ResumeBufferTTL),
			continuity.WithClock(k.clock),
		)
	}
	k.guard = guard.New(k.ledger, guard.WithClock(k.clock))

	return k
}

// ProcessTurn runs the pipeline for one turn: posture → gates →
// continuity → decision → guard → ledger. Turns within one session are
// serialized; turns across sessions run concurrently.
//
// Gate failures are not errors: they surface in the returned move. The
// error return is reserved for ledger failures, where the decision could
// not be recorded and therefore must not be acted on.
func (k *Kernel) ProcessTurn(ctx context.Context, turn posture.TurnContext) (Decision, error) {
	ctx, span := tracer.Start(ctx, "process turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.correlation_id", turn.CorrelationID),
		attribute.String("turn.id", turn.TurnID),
		attribute.String("turn.session_id", turn.SessionID),
		attribute.String("turn.requested_move", string(turn.RequestedMove)),
	)

	unlock := k.sessions.lock(turn.SessionID)
	defer unlock()

	verdict := gates.Evaluate(turn, k.Snapshot().GateLimits(turn.TenantID))
	k.emit(events.NewGatesEvaluatedEvent(
		turn.CorrelationID, turn.TurnID, turn.SessionID,
		verdict.FailedNames(), string(verdict.Reason),
		verdict.ExecutionAllowed, verdict.SchemaError,
	))
	span.SetAttributes(
		attribute.StringSlice("gates.failed", verdict.FailedNames()),
		attribute.Bool("gates.execution_allowed", verdict.ExecutionAllowed),
	)

	var outcome *continuity.Outcome
	if turn.Interruption != nil && !verdict.SchemaError {
		handled, err := k.handleInterruption(ctx, turn)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Decision{}, err
		}
		outcome = handled
	}

	next := decision.Decide(verdict, turn, outcome)
	result := Decision{Move: next, Verdict: verdict, Continuity: outcome}

	recorded, err := k.record(ctx, turn, verdict, next)
	if err != nil {
		var guardErr *guard.GuardError
		if errors.As(err, &guardErr) && guardErr.Code != guard.CodeLedgerFailure {
			// The guard caught an invariant the decision missed; the turn is
			// refused, never silently retried.
			logger.ErrorContext(ctx, "guard rejected an authorized-looking move",
				"correlation_id", turn.CorrelationID,
				"turn_id", turn.TurnID,
				"guard_code", string(guardErr.Code),
			)
			result.Move = decision.NextMove{
				Move:       posture.MoveRefuse,
				FailClosed: true,
				Reason:     gates.ReasonExecutionNotAllowed,
			}
			recorded = nil
			err = nil
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Decision{}, fmt.Errorf("failed to record turn decision: %w", err)
		}
	}
	if recorded != nil {
		result.Entry = &recorded.Entry
		result.Replayed = recorded.Replayed
		k.emit(events.NewAuthorizationRecordedEvent(
			turn.CorrelationID, turn.TurnID, recorded.Entry.EventID,
			string(recorded.Entry.EventType), recorded.Entry.IdempotencyKey,
			recorded.Replayed,
		))
	}

	k.emit(events.NewTurnDecidedEvent(
		turn.CorrelationID, turn.TurnID, turn.SessionID,
		string(result.Move.Move), string(result.Move.Reason), result.Move.FailClosed,
	))
	span.SetAttributes(
		attribute.String("decision.move", string(result.Move.Move)),
		attribute.String("decision.reason", string(result.Move.Reason)),
		attribute.Bool("decision.fail_closed", result.Move.FailClosed),
	)

	return result, err
}

func (k *Kernel) handleInterruption(ctx context.Context, turn posture.TurnContext) (*continuity.Outcome, error) {
	before, _ := k.continuity.Store().Snapshot(turn.SessionID)

	outcome, err := k.continuity.HandleInterruption(ctx, turn.SessionID, *turn.Interruption)
	if err != nil {
		return nil, fmt.Errorf("failed to handle interruption: %w", err)
	}

	if before.State != outcome.State {
		k.emit(events.NewContinuityTransitionedEvent(
			turn.SessionID, string(before.State), string(outcome.State), string(outcome.Policy),
		))
	}
	switch outcome.Kind {
	case continuity.OutcomeReturnCheck:
		k.emit(events.NewReturnCheckIssuedEvent(turn.SessionID, outcome.Question))
	case continuity.OutcomeClarify:
		k.emit(events.NewClarifyIssuedEvent(turn.SessionID, outcome.Question))
	}
	return &outcome, nil
}

// record routes the decided move through the guard when it executes, or
// records a trace row when trace mode is on.
func (k *Kernel) record(ctx context.Context, turn posture.TurnContext, verdict gates.Verdict, next decision.NextMove) (*guard.Result, error) {
	req := guard.Request{
		Turn:    turn,
		Move:    next,
		Verdict: verdict,
		Payload: decisionPayload(turn, verdict, next),
	}

	executing := turn.NeedsExecution() && next.Move == turn.RequestedMove && next.ExecutionAllowed
	if executing {
		result, err := k.guard.AuthorizeAndRecord(ctx, req)
		if err != nil {
			return nil, err
		}
		return &result, nil
	}

	if k.traceMode {
		result, err := k.guard.RecordTrace(ctx, req)
		if err != nil {
			return nil, err
		}
		return &result, nil
	}
	return nil, nil
}

func decisionPayload(turn posture.TurnContext, verdict gates.Verdict, next decision.NextMove) map[string]string {
	payload := map[string]string{
		"requested_move": string(turn.RequestedMove),
		"decided_move":   string(next.Move),
		"reason_code":    string(next.Reason),
	}
	if failed := verdict.FailedNames(); len(failed) > 0 {
		payload["failed_gates"] = strings.Join(failed, ",")
	}
	if turn.Blueprint != nil && turn.Blueprint.TemplateID != "" {
		payload["template_id"] = turn.Blueprint.TemplateID
	}
	if turn.Simulation != nil && turn.Simulation.SimulationID != "" {
		payload["simulation_id"] = turn.Simulation.SimulationID
	}
	return payload
}

// AnswerReturnCheck resolves a pending return-check for the session.
func (k *Kernel) AnswerReturnCheck(ctx context.Context, sessionID string, affirmative bool) (continuity.Outcome, error) {
	unlock := k.sessions.lock(sessionID)
	defer unlock()

	before, _ := k.continuity.Store().Snapshot(sessionID)
	outcome, err := k.continuity.AnswerReturnCheck(ctx, sessionID, affirmative)
	if err != nil {
		return continuity.Outcome{}, err
	}
	if before.State != outcome.State {
		k.emit(events.NewContinuityTransitionedEvent(
			sessionID, string(before.State), string(outcome.State), string(outcome.Policy),
		))
	}
	return outcome, nil
}

// ResolveUncertain resolves a pending clarify for the session.
func (k *Kernel) ResolveUncertain(ctx context.Context, sessionID string, choice continuity.UncertainChoice) (continuity.Outcome, error) {
	unlock := k.sessions.lock(sessionID)
	defer unlock()

	before, _ := k.continuity.Store().Snapshot(sessionID)
	outcome, err := k.continuity.ResolveUncertain(ctx, sessionID, choice)
	if err != nil {
		return continuity.Outcome{}, err
	}
	if before.State != outcome.State {
		k.emit(events.NewContinuityTransitionedEvent(
			sessionID, string(before.State), string(outcome.State), string(outcome.Policy),
		))
	}
	return outcome, nil
}

// BeginResponse marks a response in flight for the session.
func (k *Kernel) BeginResponse(sessionID, subjectRef string) {
	unlock := k.sessions.lock(sessionID)
	defer unlock()
	k.continuity.BeginResponse(sessionID, subjectRef)
}

// BufferRemainder updates the unsaid remainder as the response streams.
func (k *Kernel) BufferRemainder(sessionID, remainder string) {
	unlock := k.sessions.lock(sessionID)
	defer unlock()
	k.continuity.BufferRemainder(sessionID, remainder)
}

// CompleteResponse marks the in-flight response fully spoken.
func (k *Kernel) CompleteResponse(sessionID string) {
	unlock := k.sessions.lock(sessionID)
	defer unlock()
	k.continuity.CompleteResponse(sessionID)
}

// ContinuitySnapshot returns a deep copy of the session's continuity state.
func (k *Kernel) ContinuitySnapshot(sessionID string) (continuity.Session, bool) {
	return k.continuity.Store().Snapshot(sessionID)
}

// SweepExpired proactively resets sessions whose resume buffers elapsed.
// Expiry is enforced on access regardless; this only tidies up earlier.
func (k *Kernel) SweepExpired() []string {
	expired := k.continuity.Store().SweepExpired(k.clock())
	for _, sessionID := range expired {
		k.emit(events.NewResumeBufferExpiredEvent(sessionID))
	}
	return expired
}

// Snapshot returns the active configuration snapshot.
func (k *Kernel) Snapshot() config.Snapshot {
	k.snapshotMu.RLock()
	defer k.snapshotMu.RUnlock()
	return k.snapshot
}

// ApplyGovernorReview scores one review window and swaps in a snapshot
// with the resulting assist ceilings. Core gates are untouched.
func (k *Kernel) ApplyGovernorReview(version string, samples []governor.Sample) map[string]governor.Action {
	actions := k.governor.Review(samples)

	var kept, degraded, disabled int
	for _, action := range actions {
		switch action {
		case governor.ActionKeep:
			kept++
		case governor.ActionDegrade:
			degraded++
		case governor.ActionDisableCandidate:
			disabled++
		}
	}

	k.snapshotMu.Lock()
	k.snapshot = k.snapshot.ApplyReview(version, actions)
	k.snapshotMu.Unlock()

	k.emit(events.NewGovernorReviewAppliedEvent(version, kept, degraded, disabled))
	return actions
}
