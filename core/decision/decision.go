// Package decision implements the turn decision state machine: one
// authoritative next move per turn, derived from the gate verdict, the
// requested move, and the continuity outcome when one is present.
package decision

import (
	"github.com/SeleneOSv1/Selene-OS-sub006/core/continuity"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/gates"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
)

// NextMove is the single authorized move for the turn.
type NextMove struct {
	Move posture.Move
	// FailClosed is set whenever the emitted move is not the requested one.
	FailClosed bool
	Reason     gates.Reason
	// ExecutionAllowed mirrors the verdict so the guard can re-check it at
	// the authorization point.
	ExecutionAllowed bool
	// Question carries the clarify or return-check question when the move
	// asks one.
	Question string
}

// Decide maps (verdict, requested move, continuity outcome) to exactly one
// NextMove. outcome is nil when the turn carried no interruption.
//
// Degradation never fabricates success: an execution-needing request that
// cannot execute falls to the highest-precedence available alternative in
// the order Clarify > Confirm > Wait > Refuse, never to Respond.
func Decide(verdict gates.Verdict, turn posture.TurnContext, outcome *continuity.Outcome) NextMove {
	// Invariant violations are fatal to the turn, always a distinct refusal.
	if turn.Dispatch.Tool && turn.Dispatch.Simulation {
		return NextMove{Move: posture.MoveRefuse, FailClosed: true, Reason: gates.ReasonDualDispatch}
	}

	if verdict.SchemaError {
		// Malformed posture cannot be clarified or confirmed against; the
		// only fail-closed alternative left is refusal.
		return NextMove{Move: posture.MoveRefuse, FailClosed: true, Reason: gates.ReasonSchemaError}
	}

	// An unresolved interruption owns the turn: nothing is authorized until
	// the user answers the clarify.
	if outcome != nil && outcome.Kind == continuity.OutcomeClarify {
		return NextMove{
			Move:       posture.MoveClarify,
			FailClosed: turn.RequestedMove != posture.MoveClarify,
			Reason:     gates.ReasonContinuityUncertain,
			Question:   outcome.Question,
		}
	}

	if turn.NeedsExecution() {
		if !verdict.ExecutionAllowed {
			return degrade(verdict)
		}
		move := turn.RequestedMove
		if outcome != nil && outcome.Kind == continuity.OutcomeReturnCheck {
			// The switch answer and its single return-check ride on the
			// same outbound move; the question travels with it.
			return NextMove{Move: move, Reason: gates.ReasonNone, ExecutionAllowed: true, Question: outcome.Question}
		}
		return NextMove{Move: move, Reason: gates.ReasonNone, ExecutionAllowed: true}
	}

	if turn.RequestedMove == posture.MoveDispatchTool {
		if !verdict.ToolDispatchAllowed {
			return degrade(verdict)
		}
		return NextMove{Move: posture.MoveDispatchTool, Reason: gates.ReasonNone, ExecutionAllowed: verdict.ExecutionAllowed}
	}

	// Conversational moves still require an open session and a usable
	// understanding of the turn.
	if !verdict.Session {
		return NextMove{Move: posture.MoveRefuse, FailClosed: true, Reason: verdict.Reason}
	}
	if !verdict.Understanding && turn.RequestedMove != posture.MoveClarify && turn.RequestedMove != posture.MoveWait {
		return NextMove{Move: posture.MoveClarify, FailClosed: true, Reason: gates.ReasonLowConfidence}
	}

	next := NextMove{Move: turn.RequestedMove, Reason: gates.ReasonNone, ExecutionAllowed: verdict.ExecutionAllowed}
	if outcome != nil && outcome.Kind == continuity.OutcomeReturnCheck {
		next.Question = outcome.Question
	}
	return next
}

// degrade picks the fail-closed alternative for a request that cannot
// proceed. Availability is keyed to which gate failed: a clarify can cure a
// low-confidence understanding, a confirm can cure a missing confirmation,
// a wait can outlast an in-flight idempotency or lease conflict; everything
// else is refused with the first failing gate's reason.
func degrade(verdict gates.Verdict) NextMove {
	switch {
	case verdict.Session && !verdict.Understanding:
		return NextMove{Move: posture.MoveClarify, FailClosed: true, Reason: verdict.Reason}
	case verdict.Session && !verdict.Confirmation && verdict.Reason == gates.ReasonConfirmationMissing:
		return NextMove{Move: posture.MoveConfirm, FailClosed: true, Reason: verdict.Reason}
	case verdict.Session && verdict.Confirmation && verdict.Access && verdict.Blueprint &&
		verdict.Simulation && (!verdict.Idempotency || !verdict.Lease):
		return NextMove{Move: posture.MoveWait, FailClosed: true, Reason: verdict.Reason}
	default:
		return NextMove{Move: posture.MoveRefuse, FailClosed: true, Reason: verdict.Reason}
	}
}
