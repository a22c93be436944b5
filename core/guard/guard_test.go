package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/decision"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/gates"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/ledger"
	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
)

func authorizedRequest() Request {
	turn := posture.TurnContext{
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
		Simulation:    &posture.SimulationPosture{Matched: true, Active: true, SimulationID: "sim-1"},
		Idempotency:   &posture.IdempotencyPosture{Key: "K1"},
		Lease:         &posture.LeasePosture{},
		AssistBudget:  &posture.AssistBudgetPosture{},
	}
	limits := gates.Limits{ConfidenceFloor: 0.80, MaxAdvisoryCalls: 3, MaxAdvisoryLatency: 40 * time.Millisecond}
	verdict := gates.Evaluate(turn, limits)
	return Request{
		Turn:    turn,
		Move:    decision.Decide(verdict, turn, nil),
		Verdict: verdict,
		Payload: map[string]string{"simulation_id": "sim-1"},
	}
}

func TestFirstDispatchRecordsLedgerEntry(t *testing.T) {
	guard := New(ledger.NewMemoryStore())

	result, err := guard.AuthorizeAndRecord(context.Background(), authorizedRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Replayed {
		t.Fatalf("first dispatch must not be a replay")
	}
	if result.Entry.EventType != ledger.EventSimulationDispatched {
		t.Fatalf("expected event %q, got %q", ledger.EventSimulationDispatched, result.Entry.EventType)
	}
	if result.Entry.EventID == "" {
		t.Fatalf("expected an assigned event id")
	}
}

func TestRepeatKeyReplaysOriginalEntry(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()

	first, err := guard.AuthorizeAndRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req.Turn.TurnID = "turn-2-retry"
	second, err := guard.AuthorizeAndRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !second.Replayed {
		t.Fatalf("expected the repeat to be flagged as a replay")
	}
	if second.Entry.EventID != first.Entry.EventID {
		t.Fatalf("replay must return the original entry, got %q and %q", first.Entry.EventID, second.Entry.EventID)
	}
	if second.Entry.TurnID != "turn-1" {
		t.Fatalf("replay must not rewrite the recorded turn, got %q", second.Entry.TurnID)
	}
}

func TestSameKeyDifferentCorrelationRecordsSeparately(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()

	first, err := guard.AuthorizeAndRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req.Turn.CorrelationID = "corr-2"
	second, err := guard.AuthorizeAndRecord(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.Replayed {
		t.Fatalf("key scope is per correlation, this must be a fresh record")
	}
	if second.Entry.EventID == first.Entry.EventID {
		t.Fatalf("expected distinct entries across correlations")
	}
}

func TestRejectsNonExecutingMove(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()
	req.Move.Move = posture.MoveRespond
	req.Turn.DeclaredWrite = false

	_, err := guard.AuthorizeAndRecord(context.Background(), req)

	var guardErr *GuardError
	if !errors.As(err, &guardErr) || guardErr.Code != CodeNotExecutable {
		t.Fatalf("expected %q, got %v", CodeNotExecutable, err)
	}
}

func TestRejectsWhenVerdictForbidsExecution(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()
	req.Verdict.ExecutionAllowed = false

	_, err := guard.AuthorizeAndRecord(context.Background(), req)

	var guardErr *GuardError
	if !errors.As(err, &guardErr) || guardErr.Code != CodeExecutionNotAllowed {
		t.Fatalf("expected %q, got %v", CodeExecutionNotAllowed, err)
	}
}

func TestRejectsInactiveSimulation(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()
	req.Turn.Simulation.Active = false

	_, err := guard.AuthorizeAndRecord(context.Background(), req)

	var guardErr *GuardError
	if !errors.As(err, &guardErr) || guardErr.Code != CodeSimulationInactive {
		t.Fatalf("expected %q, got %v", CodeSimulationInactive, err)
	}
}

func TestRejectsMissingKey(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()
	req.Turn.Idempotency.Key = ""

	_, err := guard.AuthorizeAndRecord(context.Background(), req)

	var guardErr *GuardError
	if !errors.As(err, &guardErr) || guardErr.Code != CodeMissingKey {
		t.Fatalf("expected %q, got %v", CodeMissingKey, err)
	}
}

func TestRejectsAbsentIdempotencyPosture(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()
	req.Turn.Idempotency = nil

	_, err := guard.AuthorizeAndRecord(context.Background(), req)

	var guardErr *GuardError
	if !errors.As(err, &guardErr) || guardErr.Code != CodeMissingKey {
		t.Fatalf("expected %q, got %v", CodeMissingKey, err)
	}
}

func TestLedgerFailureSurfacesAsGuardError(t *testing.T) {
	guard := New(failingStore{})

	_, err := guard.AuthorizeAndRecord(context.Background(), authorizedRequest())

	var guardErr *GuardError
	if !errors.As(err, &guardErr) || guardErr.Code != CodeLedgerFailure {
		t.Fatalf("expected %q, got %v", CodeLedgerFailure, err)
	}
	if guardErr.Unwrap() == nil {
		t.Fatalf("expected the store error to be wrapped")
	}
}

func TestConcurrentSameKeyDispatchesShareOneEntry(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()

	const racers = 16
	results := make([]Result, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = guard.AuthorizeAndRecord(context.Background(), req)
		}(i)
	}
	wg.Wait()

	eventID := ""
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d: unexpected error: %v", i, errs[i])
		}
		if eventID == "" {
			eventID = results[i].Entry.EventID
		}
		if results[i].Entry.EventID != eventID {
			t.Fatalf("racer %d: expected every caller to see event %q, got %q", i, eventID, results[i].Entry.EventID)
		}
	}

	entries, err := guard.ledger.List(context.Background(), "corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", len(entries))
	}
}

func TestRecordTraceUsesTurnIDWhenNoKey(t *testing.T) {
	store := ledger.NewMemoryStore()
	guard := New(store)
	req := authorizedRequest()
	req.Turn.RequestedMove = posture.MoveRespond
	req.Move = decision.NextMove{Move: posture.MoveRespond, Reason: gates.ReasonNone}
	req.Turn.Idempotency.Key = ""

	result, err := guard.RecordTrace(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entry.EventType != ledger.EventDecisionTraced {
		t.Fatalf("expected trace event, got %q", result.Entry.EventType)
	}
	if result.Entry.IdempotencyKey != "turn-1" {
		t.Fatalf("expected turn id fallback key, got %q", result.Entry.IdempotencyKey)
	}
}

func TestRecordTraceMarksToolDispatch(t *testing.T) {
	guard := New(ledger.NewMemoryStore())
	req := authorizedRequest()
	req.Move = decision.NextMove{Move: posture.MoveDispatchTool, Reason: gates.ReasonNone}

	result, err := guard.RecordTrace(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Entry.EventType != ledger.EventToolDispatched {
		t.Fatalf("expected tool dispatch event, got %q", result.Entry.EventType)
	}
}

type failingStore struct{}

func (failingStore) Append(context.Context, ledger.Entry) (ledger.Entry, bool, error) {
	return ledger.Entry{}, false, errors.New("disk full")
}

func (failingStore) Lookup(context.Context, string, string) (*ledger.Entry, error) {
	return nil, errors.New("disk full")
}

func (failingStore) List(context.Context, string) ([]ledger.Entry, error) {
	return nil, errors.New("disk full")
}
