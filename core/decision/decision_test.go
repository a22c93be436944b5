package decision

import (
	"testing"
	"time"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/continuity"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/gates"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
)

func testLimits() gates.Limits {
	return gates.Limits{
		ConfidenceFloor:    0.80,
		MaxAdvisoryCalls:   3,
		MaxAdvisoryLatency: 40 * time.Millisecond,
	}
}

func simulationTurn() posture.TurnContext {
	return posture.TurnContext{
		CorrelationID: "corr-1",
		TurnID:        "turn-1",
		TenantID:      "tenant-1",
		SessionID:     "session-1",
		RequestedMove: posture.MoveDispatchSimulation,
		Dispatch:      posture.DispatchFlags{Simulation: true},
		Session:       &posture.SessionPosture{Open: true, DeviceMatched: true},
		Understanding: &posture.UnderstandingPosture{Confidence: 0.95},
		Confirmation:  &posture.ConfirmationPosture{},
		Access:        &posture.AccessPosture{Decision: posture.AccessAllow},
		Blueprint:     &posture.BlueprintPosture{MatchCount: 1},
		Simulation:    &posture.SimulationPosture{Matched: true, Active: true},
		Idempotency:   &posture.IdempotencyPosture{Key: "K1"},
		Lease:         &posture.LeasePosture{},
		AssistBudget:  &posture.AssistBudgetPosture{},
	}
}

func decide(turn posture.TurnContext, outcome *continuity.Outcome) NextMove {
	return Decide(gates.Evaluate(turn, testLimits()), turn, outcome)
}

func TestAuthorizedSimulationDispatchPassesThrough(t *testing.T) {
	next := decide(simulationTurn(), nil)

	if next.Move != posture.MoveDispatchSimulation {
		t.Fatalf("expected dispatch simulation, got %q (%q)", next.Move, next.Reason)
	}
	if !next.ExecutionAllowed {
		t.Fatalf("expected execution allowed on the emitted move")
	}
	if next.FailClosed {
		t.Fatalf("expected requested move to be emitted as-is")
	}
}

func TestAccessDeniedSimulationDispatchRefused(t *testing.T) {
	turn := simulationTurn()
	turn.Access.Decision = posture.AccessDeny

	next := decide(turn, nil)

	if next.Move != posture.MoveRefuse {
		t.Fatalf("expected refuse, got %q", next.Move)
	}
	if next.Reason != gates.ReasonAccessScopeViolation {
		t.Fatalf("expected reason %q, got %q", gates.ReasonAccessScopeViolation, next.Reason)
	}
	if !next.FailClosed {
		t.Fatalf("expected fail-closed refusal")
	}
}

func TestDualDispatchRefused(t *testing.T) {
	turn := simulationTurn()
	turn.Dispatch = posture.DispatchFlags{Tool: true, Simulation: true}

	next := decide(turn, nil)

	if next.Move != posture.MoveRefuse {
		t.Fatalf("expected refuse, got %q", next.Move)
	}
	if next.Reason != gates.ReasonDualDispatch {
		t.Fatalf("expected reason %q, got %q", gates.ReasonDualDispatch, next.Reason)
	}
}

func TestSchemaErrorRefused(t *testing.T) {
	turn := simulationTurn()
	turn.Session = nil

	next := decide(turn, nil)

	if next.Move != posture.MoveRefuse {
		t.Fatalf("expected refuse, got %q", next.Move)
	}
	if next.Reason != gates.ReasonSchemaError {
		t.Fatalf("expected reason %q, got %q", gates.ReasonSchemaError, next.Reason)
	}
}

func TestUncertainContinuityForcesClarify(t *testing.T) {
	outcome := &continuity.Outcome{
		Kind:     continuity.OutcomeClarify,
		Question: "Should I keep going with the invoice, switch, or drop it? (continue / switch / drop)",
	}

	next := decide(simulationTurn(), outcome)

	if next.Move != posture.MoveClarify {
		t.Fatalf("expected clarify, got %q", next.Move)
	}
	if next.Reason != gates.ReasonContinuityUncertain {
		t.Fatalf("expected reason %q, got %q", gates.ReasonContinuityUncertain, next.Reason)
	}
	if next.Question == "" {
		t.Fatalf("expected the clarify question to travel with the move")
	}
}

func TestDegradationLadder(t *testing.T) {
	cases := []struct {
		name       string
		mutate     func(*posture.TurnContext)
		wantMove   posture.Move
		wantReason gates.Reason
	}{
		{
			"low confidence degrades to clarify",
			func(turn *posture.TurnContext) { turn.Understanding.Confidence = 0.30 },
			posture.MoveClarify, gates.ReasonLowConfidence,
		},
		{
			"missing confirmation degrades to confirm",
			func(turn *posture.TurnContext) { turn.Confirmation.Required = true },
			posture.MoveConfirm, gates.ReasonConfirmationMissing,
		},
		{
			"in-flight idempotency conflict degrades to wait",
			func(turn *posture.TurnContext) { turn.Idempotency.ConflictInFlight = true },
			posture.MoveWait, gates.ReasonIdempotencyConflict,
		},
		{
			"lease held elsewhere degrades to wait",
			func(turn *posture.TurnContext) { turn.Lease.Required = true },
			posture.MoveWait, gates.ReasonLeaseNotHeld,
		},
		{
			"ambiguous blueprint refuses",
			func(turn *posture.TurnContext) { turn.Blueprint.MatchCount = 3 },
			posture.MoveRefuse, gates.ReasonBlueprintAmbiguous,
		},
		{
			"missing simulation refuses",
			func(turn *posture.TurnContext) { turn.Simulation.Matched = false },
			posture.MoveRefuse, gates.ReasonSimulationMissing,
		},
		{
			"closed session refuses even with low confidence",
			func(turn *posture.TurnContext) {
				turn.Session.Open = false
				turn.Understanding.Confidence = 0.30
			},
			posture.MoveRefuse, gates.ReasonSessionClosed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			turn := simulationTurn()
			tc.mutate(&turn)

			next := decide(turn, nil)

			if next.Move != tc.wantMove {
				t.Fatalf("expected move %q, got %q", tc.wantMove, next.Move)
			}
			if next.Reason != tc.wantReason {
				t.Fatalf("expected reason %q, got %q", tc.wantReason, next.Reason)
			}
			if !next.FailClosed {
				t.Fatalf("expected fail-closed degradation")
			}
		})
	}
}

func TestNeverDegradesToRespondOrDispatch(t *testing.T) {
	mutations := []func(*posture.TurnContext){
		func(turn *posture.TurnContext) { turn.Session.Open = false },
		func(turn *posture.TurnContext) { turn.Understanding.Confidence = 0 },
		func(turn *posture.TurnContext) { turn.Confirmation.Required = true },
		func(turn *posture.TurnContext) { turn.Access.Decision = posture.AccessDeny },
		func(turn *posture.TurnContext) { turn.Blueprint.MatchCount = 0 },
		func(turn *posture.TurnContext) { turn.Simulation.Active = false },
		func(turn *posture.TurnContext) { turn.Idempotency.KeyConsumed = true },
		func(turn *posture.TurnContext) { turn.Lease.Required = true },
	}

	for i, mutate := range mutations {
		turn := simulationTurn()
		mutate(&turn)

		next := decide(turn, nil)

		if next.Move == posture.MoveRespond {
			t.Fatalf("mutation %d: degraded to respond, fabricating success", i)
		}
		if next.Move == posture.MoveDispatchSimulation {
			t.Fatalf("mutation %d: emitted dispatch simulation without execution", i)
		}
	}
}

func TestReadOnlyToolDispatchAllowedWithoutSimulation(t *testing.T) {
	turn := simulationTurn()
	turn.RequestedMove = posture.MoveDispatchTool
	turn.Dispatch = posture.DispatchFlags{Tool: true}
	turn.Simulation = &posture.SimulationPosture{}

	next := decide(turn, nil)

	if next.Move != posture.MoveDispatchTool {
		t.Fatalf("expected tool dispatch, got %q (%q)", next.Move, next.Reason)
	}
}

func TestReadOnlyToolDispatchStillEnforcesLease(t *testing.T) {
	turn := simulationTurn()
	turn.RequestedMove = posture.MoveDispatchTool
	turn.Dispatch = posture.DispatchFlags{Tool: true}
	turn.Simulation = &posture.SimulationPosture{}
	turn.Lease.Required = true

	next := decide(turn, nil)

	if next.Move != posture.MoveWait {
		t.Fatalf("expected wait on an unheld lease, got %q", next.Move)
	}
	if next.Reason != gates.ReasonLeaseNotHeld {
		t.Fatalf("expected reason %q, got %q", gates.ReasonLeaseNotHeld, next.Reason)
	}
}

func TestConversationalMoveWithLowConfidenceClarifies(t *testing.T) {
	turn := simulationTurn()
	turn.RequestedMove = posture.MoveRespond
	turn.Dispatch = posture.DispatchFlags{}
	turn.Understanding.Confidence = 0.10

	next := decide(turn, nil)

	if next.Move != posture.MoveClarify {
		t.Fatalf("expected clarify, got %q", next.Move)
	}
}
