package gates

// Reason is the machine-readable code attached to a verdict, a decision,
// and ultimately the ledger row for the turn.
type Reason string

const (
	ReasonNone        Reason = "ok"
	ReasonSchemaError Reason = "schema_error"

	ReasonSessionClosed         Reason = "session_closed"
	ReasonDeviceMismatch        Reason = "device_mismatch"
	ReasonLowConfidence         Reason = "understanding_low_confidence"
	ReasonConfirmationMissing   Reason = "confirmation_missing"
	ReasonConfirmationReasked   Reason = "confirmation_asked_twice"
	ReasonAccessScopeViolation  Reason = "access_scope_violation"
	ReasonAccessUnresolved      Reason = "access_escalation_unresolved"
	ReasonBlueprintMissing      Reason = "blueprint_missing"
	ReasonBlueprintAmbiguous    Reason = "blueprint_ambiguous"
	ReasonSimulationMissing     Reason = "simulation_missing"
	ReasonSimulationInactive    Reason = "simulation_inactive"
	ReasonIdempotencyConflict   Reason = "idempotency_conflict"
	ReasonLeaseNotHeld          Reason = "lease_not_held"
	ReasonAssistBudgetExhausted Reason = "assist_budget_exhausted"

	// Reasons emitted by the decision state machine rather than a gate.
	ReasonDualDispatch        Reason = "dual_dispatch"
	ReasonContinuityUncertain Reason = "continuity_uncertain"
	ReasonExecutionNotAllowed Reason = "execution_not_allowed"
)
