package posture

import (
	"math"
	"time"
)

// Move is the move a caller requests for the turn. The decision state
// machine may emit a different move; MoveRefuse is only ever emitted, never
// requested.
type Move string

const (
	MoveRespond            Move = "respond"
	MoveClarify            Move = "clarify"
	MoveConfirm            Move = "confirm"
	MoveDispatchTool       Move = "dispatch_tool"
	MoveDispatchSimulation Move = "dispatch_simulation"
	MoveExplain            Move = "explain"
	MoveWait               Move = "wait"
	MoveRefuse             Move = "refuse"
)

func (m Move) Valid() bool {
	switch m {
	case MoveRespond, MoveClarify, MoveConfirm, MoveDispatchTool,
		MoveDispatchSimulation, MoveExplain, MoveWait:
		return true
	}
	return false
}

// ClarifyOwner tags which collaborator requested a clarify turn. Only the
// intent parser may populate it.
type ClarifyOwner string

const (
	ClarifyOwnerNone         ClarifyOwner = ""
	ClarifyOwnerIntentParser ClarifyOwner = "intent_parser"
)

// DispatchFlags declares which dispatch classes the requested move needs.
// Requiring both in one turn is illegal and is refused downstream.
type DispatchFlags struct {
	Tool       bool `json:"tool"`
	Simulation bool `json:"simulation"`
}

// SessionPosture comes from the identity/session collaborator.
type SessionPosture struct {
	Open          bool `json:"open"`
	DeviceMatched bool `json:"device_matched"`
}

// UnderstandingPosture comes from the intent parser.
type UnderstandingPosture struct {
	Confidence       float64      `json:"confidence"`
	ClarifyRequested bool         `json:"clarify_requested,omitempty"`
	ClarifyOwner     ClarifyOwner `json:"clarify_owner,omitempty"`
}

// ConfirmationPosture tracks whether a confirmation-requiring move has been
// explicitly confirmed, and how many times the question was asked.
type ConfirmationPosture struct {
	Required bool `json:"required"`
	Received bool `json:"received"`
	AskCount int  `json:"ask_count"`
}

// AccessDecision is the access collaborator's verdict. Anything other than
// an explicit allow fails the access gate; an escalation that was never
// resolved is still a failure.
type AccessDecision string

const (
	AccessAllow     AccessDecision = "allow"
	AccessDeny      AccessDecision = "deny"
	AccessEscalated AccessDecision = "escalated"
)

type AccessPosture struct {
	Decision AccessDecision `json:"decision"`
}

// BlueprintPosture reports how many active orchestration templates the
// requested intent resolved to. Exactly one is required.
type BlueprintPosture struct {
	MatchCount int    `json:"match_count"`
	TemplateID string `json:"template_id,omitempty"`
}

// SimulationPosture comes from the simulation matcher: whether a matching
// authorization exists and whether it is currently active.
type SimulationPosture struct {
	Matched      bool   `json:"matched"`
	Active       bool   `json:"active"`
	SimulationID string `json:"simulation_id,omitempty"`
}

// IdempotencyPosture summarizes the operation's idempotency key state as
// seen by the lease/reservation collaborator.
type IdempotencyPosture struct {
	Key              string `json:"key,omitempty"`
	KeyConsumed      bool   `json:"key_consumed"`
	ConflictInFlight bool   `json:"conflict_in_flight"`
}

// LeasePosture reports exclusive lease state. Held must be true when
// Required is; a merely requested lease does not pass.
type LeasePosture struct {
	Required bool `json:"required"`
	Held     bool `json:"held"`
}

// AssistBudgetPosture counts this turn's advisory (non-essential) engine
// usage against governor-set ceilings.
type AssistBudgetPosture struct {
	AdvisoryCalls    int           `json:"advisory_calls"`
	EstimatedLatency time.Duration `json:"estimated_latency"`
}

// Relation classifies how an interrupting utterance relates to the subject
// currently being spoken.
type Relation string

const (
	RelationSame      Relation = "same"
	RelationSwitch    Relation = "switch"
	RelationUncertain Relation = "uncertain"
)

func (r Relation) Valid() bool {
	switch r {
	case RelationSame, RelationSwitch, RelationUncertain:
		return true
	}
	return false
}

// InterruptionPayload carries the relation classification bundle for speech
// that arrived while a response was in flight. The continuity controller
// treats any malformed bundle as uncertain.
type InterruptionPayload struct {
	Utterance  string    `json:"utterance"`
	SubjectRef string    `json:"subject_ref,omitempty"`
	Relation   Relation  `json:"relation"`
	Confidence float64   `json:"confidence"`
	HeardAt    time.Time `json:"heard_at"`
}

// Malformed reports whether the bundle is usable for classification at all.
func (p InterruptionPayload) Malformed() bool {
	if p.Utterance == "" || p.HeardAt.IsZero() {
		return true
	}
	if !p.Relation.Valid() {
		return true
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return true
	}
	return false
}

// TurnContext is the full per-turn input bundle. It is created by the
// caller at turn start, owned exclusively by the orchestration call, and
// discarded once the move is emitted and recorded.
type TurnContext struct {
	CorrelationID string `json:"correlation_id"`
	TurnID        string `json:"turn_id"`
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id"`
	SessionID     string `json:"session_id"`

	RequestedMove Move          `json:"requested_move"`
	Dispatch      DispatchFlags `json:"dispatch"`
	// DeclaredWrite marks the requested move as side-effecting even when it
	// is not a simulation dispatch.
	DeclaredWrite bool `json:"declared_write,omitempty"`

	Session       *SessionPosture       `json:"session"`
	Understanding *UnderstandingPosture `json:"understanding"`
	Confirmation  *ConfirmationPosture  `json:"confirmation"`
	Access        *AccessPosture        `json:"access"`
	Blueprint     *BlueprintPosture     `json:"blueprint"`
	Simulation    *SimulationPosture    `json:"simulation"`
	Idempotency   *IdempotencyPosture   `json:"idempotency"`
	Lease         *LeasePosture         `json:"lease"`
	AssistBudget  *AssistBudgetPosture  `json:"assist_budget"`

	Interruption *InterruptionPayload `json:"interruption,omitempty"`
}

// SideEffecting reports whether the requested move bears external side
// effects and therefore needs a matching simulation authorization.
func (t TurnContext) SideEffecting() bool {
	return t.RequestedMove == MoveDispatchSimulation || t.DeclaredWrite
}

// NeedsExecution reports whether the requested move must pass through the
// simulation/idempotency guard before anything may act on it.
func (t TurnContext) NeedsExecution() bool {
	return t.SideEffecting()
}

// Problems returns every structural defect in the bundle. A non-empty
// result forces the gate evaluator into its fail-closed schema verdict.
func (t TurnContext) Problems() []string {
	var problems []string

	if t.CorrelationID == "" {
		problems = append(problems, "correlation_id missing")
	}
	if t.TurnID == "" {
		problems = append(problems, "turn_id missing")
	}
	if t.TenantID == "" {
		problems = append(problems, "tenant_id missing")
	}
	if t.SessionID == "" {
		problems = append(problems, "session_id missing")
	}
	if !t.RequestedMove.Valid() {
		problems = append(problems, "requested_move invalid")
	}

	if t.Session == nil {
		problems = append(problems, "session posture missing")
	}
	if t.Understanding == nil {
		problems = append(problems, "understanding posture missing")
	} else {
		if math.IsNaN(t.Understanding.Confidence) || t.Understanding.Confidence < 0 || t.Understanding.Confidence > 1 {
			problems = append(problems, "understanding confidence out of range")
		}
		switch t.Understanding.ClarifyOwner {
		case ClarifyOwnerNone, ClarifyOwnerIntentParser:
		default:
			problems = append(problems, "clarify owner not permitted")
		}
		if t.Understanding.ClarifyRequested && t.Understanding.ClarifyOwner == ClarifyOwnerNone {
			problems = append(problems, "clarify requested without owner")
		}
	}
	if t.Confirmation == nil {
		problems = append(problems, "confirmation posture missing")
	}
	if t.Access == nil {
		problems = append(problems, "access posture missing")
	}
	if t.Blueprint == nil {
		problems = append(problems, "blueprint posture missing")
	}
	if t.Simulation == nil {
		problems = append(problems, "simulation posture missing")
	}
	if t.Idempotency == nil {
		problems = append(problems, "idempotency posture missing")
	} else if t.SideEffecting() && t.Idempotency.Key == "" {
		problems = append(problems, "idempotency key missing for side-effecting move")
	}
	if t.Lease == nil {
		problems = append(problems, "lease posture missing")
	}
	if t.AssistBudget == nil {
		problems = append(problems, "assist budget posture missing")
	}

	return problems
}
