package events

type GatesEvaluated struct {
	Base
	CorrelationID    string
	TurnID           string
	SessionID        string
	FailedGates      []string
	ReasonCode       string
	ExecutionAllowed bool
	SchemaError      bool
}

func NewGatesEvaluatedEvent(correlationID, turnID, sessionID string, failedGates []string, reasonCode string, executionAllowed, schemaError bool) GatesEvaluated {
	return GatesEvaluated{
		Base:             NewBase("turn_decision.gates_evaluated"),
		CorrelationID:    correlationID,
		TurnID:           turnID,
		SessionID:        sessionID,
		FailedGates:      failedGates,
		ReasonCode:       reasonCode,
		ExecutionAllowed: executionAllowed,
		SchemaError:      schemaError,
	}
}

type TurnDecided struct {
	Base
	CorrelationID string
	TurnID        string
	SessionID     string
	Move          string
	ReasonCode    string
	FailClosed    bool
}

func NewTurnDecidedEvent(correlationID, turnID, sessionID, move, reasonCode string, failClosed bool) TurnDecided {
	return TurnDecided{
		Base:          NewBase("turn_decision.decided"),
		CorrelationID: correlationID,
		TurnID:        turnID,
		SessionID:     sessionID,
		Move:          move,
		ReasonCode:    reasonCode,
		FailClosed:    failClosed,
	}
}
