// Package gates implements the multi-gate policy evaluator: a pure, total
// function from one turn's upstream posture to a named verdict per gate and
// a single fail-closed aggregate.
package gates

import (
	"time"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
)

// Gate names a single precondition. Gates are evaluated in the fixed order
// of gateOrder; once one fails the later ones are irrelevant for the
// aggregate, but every gate is still computed and reported.
type Gate string

const (
	GateSession       Gate = "session"
	GateUnderstanding Gate = "understanding"
	GateConfirmation  Gate = "confirmation"
	GateAccess        Gate = "access"
	GateBlueprint     Gate = "blueprint"
	GateSimulation    Gate = "simulation"
	GateIdempotency   Gate = "idempotency"
	GateLease         Gate = "lease"
	GateBudget        Gate = "optional_budget"
)

var gateOrder = [...]Gate{
	GateSession,
	GateUnderstanding,
	GateConfirmation,
	GateAccess,
	GateBlueprint,
	GateSimulation,
	GateIdempotency,
	GateLease,
	GateBudget,
}

// Limits are the tunable inputs to evaluation, resolved per tenant from the
// active configuration snapshot.
type Limits struct {
	// ConfidenceFloor is the minimum intent confidence that counts as a
	// high-confidence understanding.
	ConfidenceFloor float64
	// MaxAdvisoryCalls and MaxAdvisoryLatency are the governor-set ceilings
	// for optional-assist engines on a single turn.
	MaxAdvisoryCalls   int
	MaxAdvisoryLatency time.Duration
}

// Verdict is the evaluator output: one named boolean per gate, the failing
// gates in precedence order, and the reason of the highest-precedence
// failure.
type Verdict struct {
	Session       bool
	Understanding bool
	Confirmation  bool
	Access        bool
	Blueprint     bool
	Simulation    bool
	Idempotency   bool
	Lease         bool
	Budget        bool

	// SchemaError is set when the posture bundle itself was malformed; every
	// gate is forced false in that case.
	SchemaError bool
	// Problems carries the structural defects behind a schema error.
	Problems []string

	Failed []Gate
	Reason Reason

	// ExecutionAllowed is the conjunction of the session through lease
	// gates; only it can authorize a side-effecting move.
	ExecutionAllowed bool
	// ToolDispatchAllowed additionally waives the simulation gate for
	// read-only tool dispatch; idempotency and lease still apply.
	ToolDispatchAllowed bool
}

// Passed reports the named gate's boolean.
func (v Verdict) Passed(gate Gate) bool {
	switch gate {
	case GateSession:
		return v.Session
	case GateUnderstanding:
		return v.Understanding
	case GateConfirmation:
		return v.Confirmation
	case GateAccess:
		return v.Access
	case GateBlueprint:
		return v.Blueprint
	case GateSimulation:
		return v.Simulation
	case GateIdempotency:
		return v.Idempotency
	case GateLease:
		return v.Lease
	case GateBudget:
		return v.Budget
	}
	return false
}

// FailedNames returns the failing gate names as plain strings, bounded by
// the number of gates, for ledger summaries and span attributes.
func (v Verdict) FailedNames() []string {
	names := make([]string, 0, len(v.Failed))
	for _, gate := range v.Failed {
		names = append(names, string(gate))
	}
	return names
}

// Evaluate computes the verdict for one turn. It never blocks and never
// fails: malformed posture yields the schema-error verdict with every gate
// forced false.
func Evaluate(turn posture.TurnContext, limits Limits) Verdict {
	if problems := turn.Problems(); len(problems) > 0 {
		return schemaErrorVerdict(problems)
	}

	verdict := Verdict{
		Session:       turn.Session.Open && turn.Session.DeviceMatched,
		Understanding: understandingOK(*turn.Understanding, limits),
		Confirmation:  confirmationOK(*turn.Confirmation),
		Access:        turn.Access.Decision == posture.AccessAllow,
		Blueprint:     turn.Blueprint.MatchCount == 1,
		Simulation:    simulationOK(turn),
		Idempotency:   !turn.Idempotency.KeyConsumed && !turn.Idempotency.ConflictInFlight,
		Lease:         !turn.Lease.Required || turn.Lease.Held,
		Budget:        budgetOK(*turn.AssistBudget, limits),
	}

	verdict.Reason = ReasonNone
	for _, gate := range gateOrder {
		if verdict.Passed(gate) {
			continue
		}
		verdict.Failed = append(verdict.Failed, gate)
		if verdict.Reason == ReasonNone {
			verdict.Reason = reasonFor(gate, turn)
		}
	}

	verdict.ExecutionAllowed = verdict.Session && verdict.Understanding &&
		verdict.Confirmation && verdict.Access && verdict.Blueprint &&
		verdict.Simulation && verdict.Idempotency && verdict.Lease
	verdict.ToolDispatchAllowed = verdict.Session && verdict.Understanding &&
		verdict.Confirmation && verdict.Access && verdict.Blueprint &&
		verdict.Idempotency && verdict.Lease

	return verdict
}

func schemaErrorVerdict(problems []string) Verdict {
	verdict := Verdict{
		SchemaError: true,
		Problems:    problems,
		Reason:      ReasonSchemaError,
		Failed:      append([]Gate(nil), gateOrder[:]...),
	}
	return verdict
}

func understandingOK(u posture.UnderstandingPosture, limits Limits) bool {
	if u.Confidence >= limits.ConfidenceFloor {
		return true
	}
	// An explicit clarify request stands in for confidence, but only from
	// the single collaborator allowed to own it.
	return u.ClarifyRequested && u.ClarifyOwner == posture.ClarifyOwnerIntentParser
}

func confirmationOK(c posture.ConfirmationPosture) bool {
	if !c.Required {
		return true
	}
	// Asking the confirmation question twice voids it regardless of the
	// eventual answer.
	return c.Received && c.AskCount < 2
}

func simulationOK(turn posture.TurnContext) bool {
	if !turn.SideEffecting() {
		return true
	}
	return turn.Simulation.Matched && turn.Simulation.Active
}

func budgetOK(b posture.AssistBudgetPosture, limits Limits) bool {
	if b.AdvisoryCalls > limits.MaxAdvisoryCalls {
		return false
	}
	return b.EstimatedLatency <= limits.MaxAdvisoryLatency
}

func reasonFor(gate Gate, turn posture.TurnContext) Reason {
	switch gate {
	case GateSession:
		if turn.Session.Open && !turn.Session.DeviceMatched {
			return ReasonDeviceMismatch
		}
		return ReasonSessionClosed
	case GateUnderstanding:
		return ReasonLowConfidence
	case GateConfirmation:
		if turn.Confirmation.AskCount >= 2 {
			return ReasonConfirmationReasked
		}
		return ReasonConfirmationMissing
	case GateAccess:
		if turn.Access.Decision == posture.AccessEscalated {
			return ReasonAccessUnresolved
		}
		return ReasonAccessScopeViolation
	case GateBlueprint:
		if turn.Blueprint.MatchCount == 0 {
			return ReasonBlueprintMissing
		}
		return ReasonBlueprintAmbiguous
	case GateSimulation:
		if turn.Simulation.Matched && !turn.Simulation.Active {
			return ReasonSimulationInactive
		}
		return ReasonSimulationMissing
	case GateIdempotency:
		return ReasonIdempotencyConflict
	case GateLease:
		return ReasonLeaseNotHeld
	case GateBudget:
		return ReasonAssistBudgetExhausted
	}
	return ReasonNone
}
