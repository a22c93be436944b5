package events

type AuthorizationRecorded struct {
	Base
	CorrelationID  string
	TurnID         string
	EventID        string
	EventType      string
	IdempotencyKey string
	Replayed       bool
}

func NewAuthorizationRecordedEvent(correlationID, turnID, eventID, eventType, idempotencyKey string, replayed bool) AuthorizationRecorded {
	return AuthorizationRecorded{
		Base:           NewBase("guard.authorization_recorded"),
		CorrelationID:  correlationID,
		TurnID:         turnID,
		EventID:        eventID,
		EventType:      eventType,
		IdempotencyKey: idempotencyKey,
		Replayed:       replayed,
	}
}

type GovernorReviewApplied struct {
	Base
	SnapshotVersion   string
	Kept              int
	Degraded          int
	DisableCandidates int
}

func NewGovernorReviewAppliedEvent(snapshotVersion string, kept, degraded, disableCandidates int) GovernorReviewApplied {
	return GovernorReviewApplied{
		Base:              NewBase("governor.review_applied"),
		SnapshotVersion:   snapshotVersion,
		Kept:              kept,
		Degraded:          degraded,
		DisableCandidates: disableCandidates,
	}
}
