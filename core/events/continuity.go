package events

type ContinuityTransitioned struct {
	Base
	SessionID string
	From      string
	To        string
	Policy    string
}

func NewContinuityTransitionedEvent(sessionID, from, to, policy string) ContinuityTransitioned {
	return ContinuityTransitioned{
		Base:      NewBase("continuity.transitioned"),
		SessionID: sessionID,
		From:      from,
		To:        to,
		Policy:    policy,
	}
}

type ReturnCheckIssued struct {
	Base
	SessionID string
	Question  string
}

func NewReturnCheckIssuedEvent(sessionID, question string) ReturnCheckIssued {
	return ReturnCheckIssued{
		Base:      NewBase("continuity.return_check_issued"),
		SessionID: sessionID,
		Question:  question,
	}
}

type ClarifyIssued struct {
	Base
	SessionID string
	Question  string
}

func NewClarifyIssuedEvent(sessionID, question string) ClarifyIssued {
	return ClarifyIssued{
		Base:      NewBase("continuity.clarify_issued"),
		SessionID: sessionID,
		Question:  question,
	}
}

type ResumeBufferExpired struct {
	Base
	SessionID string
}

func NewResumeBufferExpiredEvent(sessionID string) ResumeBufferExpired {
	return ResumeBufferExpired{
		Base:      NewBase("continuity.resume_buffer_expired"),
		SessionID: sessionID,
	}
}
