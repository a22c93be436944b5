package continuity

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/SeleneOSv1/Selene-OS-sub006/core/posture"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ResumePolicy tells the caller what to do with the response that was in
// flight when the interruption landed.
type ResumePolicy string

const (
	ResumeNow   ResumePolicy = "resume_now"
	ResumeLater ResumePolicy = "resume_later"
	Discard     ResumePolicy = "discard"
)

// OutcomeKind is the controller's deterministic answer to an interruption.
// Silent discard is not a kind: every interruption yields a merge, a
// return-check, or a clarify.
type OutcomeKind string

const (
	OutcomeMerge       OutcomeKind = "merge"
	OutcomeReturnCheck OutcomeKind = "return_check"
	OutcomeClarify     OutcomeKind = "clarify"
	OutcomeResume      OutcomeKind = "resume"
	OutcomeDiscard     OutcomeKind = "discard"
)

// Outcome is what the controller hands back to the decision state machine.
type Outcome struct {
	Kind   OutcomeKind
	Policy ResumePolicy
	// Question is the single return-check or clarify question, when Kind
	// calls for one. Always one line.
	Question string
	// Resumed carries the buffered remainder verbatim on OutcomeResume.
	Resumed string
	// State is the session state after the transition.
	State State
}

// ClarifyMaxLen bounds the clarify question emitted for uncertain
// interruptions.
const ClarifyMaxLen = 240

// Controller drives the continuity state machine. It is safe for use from
// multiple sessions concurrently; turns within one session must be
// serialized by the caller (the kernel's per-session writer lock).
type Controller struct {
	store     *Store
	threshold float64
	bufferTTL time.Duration
	clock     func() time.Time
}

type ControllerOption func(*Controller)

// WithRelationThreshold sets the minimum relation confidence below which a
// classification is treated as uncertain.
func WithRelationThreshold(threshold float64) ControllerOption {
	return func(c *Controller) { c.threshold = threshold }
}

// WithResumeBufferTTL sets how long a buffered remainder stays resumable.
func WithResumeBufferTTL(ttl time.Duration) ControllerOption {
	return func(c *Controller) { c.bufferTTL = ttl }
}

func WithStore(store *Store) ControllerOption {
	return func(c *Controller) { c.store = store }
}

func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) { c.clock = clock }
}

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		store:     NewStore(),
		threshold: 0.75,
		bufferTTL: 2 * time.Minute,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store exposes the controller's session store for snapshots and sweeps.
func (c *Controller) Store() *Store { return c.store }

// BeginResponse marks a response as in flight for the session and records
// the subject it speaks to. While a return-check is pending the retained
// remainder stays owed: the new subject is answered without touching the
// buffer, and only AnswerReturnCheck or expiry may release it.
func (c *Controller) BeginResponse(sessionID, subjectRef string) {
	now := c.clock()
	session := c.store.getOrCreate(sessionID)
	expireIfDue(session, now)

	if session.State == StateInterruptedSwitch && session.ReturnCheckPending {
		session.ActiveSubjectRef = subjectRef
		session.UpdatedAt = now
		return
	}

	session.State = StateSpeaking
	session.ActiveSubjectRef = subjectRef
	session.ResumeBuffer = ""
	session.BufferExpiresAt = time.Time{}
	session.UpdatedAt = now
}

// BufferRemainder replaces the unsaid remainder of the in-flight response
// as it streams, refreshing its expiry window.
func (c *Controller) BufferRemainder(sessionID, remainder string) {
	now := c.clock()
	session := c.store.getOrCreate(sessionID)
	expireIfDue(session, now)
	if !session.speaking() {
		return
	}

	session.ResumeBuffer = remainder
	session.BufferExpiresAt = now.Add(c.bufferTTL)
	session.UpdatedAt = now
}

// CompleteResponse marks the in-flight response fully spoken: the buffer is
// consumed and the session returns to idle.
func (c *Controller) CompleteResponse(sessionID string) {
	now := c.clock()
	session, ok := c.store.get(sessionID)
	if !ok {
		return
	}
	expireIfDue(session, now)
	if !session.speaking() {
		return
	}

	session.State = StateIdle
	session.clearInterruption()
	session.UpdatedAt = now
}

// HandleInterruption consumes one relation classification and produces the
// deterministic outcome for it. A malformed bundle is treated as uncertain
// regardless of any claimed classification.
func (c *Controller) HandleInterruption(ctx context.Context, sessionID string, in posture.InterruptionPayload) (Outcome, error) {
	_, span := tracer.Start(ctx, "handle interruption")
	defer span.End()

	now := c.clock()
	session := c.store.getOrCreate(sessionID)
	if expireIfDue(session, now) {
		logger.InfoContext(ctx, "resume buffer expired before interruption handling",
			"session_id", sessionID)
	}

	relation := in.Relation
	confidence := in.Confidence
	if in.Malformed() {
		relation = posture.RelationUncertain
		confidence = 0
	}
	span.SetAttributes(
		attribute.String("continuity.relation", string(relation)),
		attribute.Float64("continuity.confidence", confidence),
		attribute.String("continuity.state", string(session.State)),
	)

	if !session.speaking() {
		// No response is in flight; the new speech simply becomes the active
		// subject and the caller responds to it directly. A pending
		// return-check stays owed underneath it.
		if !session.ReturnCheckPending {
			session.State = StateSpeaking
		}
		if in.SubjectRef != "" {
			session.ActiveSubjectRef = in.SubjectRef
		}
		session.UpdatedAt = now
		return Outcome{Kind: OutcomeMerge, Policy: ResumeNow, State: session.State}, nil
	}

	var outcome Outcome
	switch {
	case relation == posture.RelationSame && confidence >= c.threshold:
		session.State = StateInterruptedSame
		session.UpdatedAt = now
		outcome = Outcome{Kind: OutcomeMerge, Policy: ResumeNow, State: session.State}

	case relation == posture.RelationSwitch && confidence >= c.threshold:
		session.InterruptedSubjectRef = session.ActiveSubjectRef
		if in.SubjectRef != "" {
			session.ActiveSubjectRef = in.SubjectRef
		}
		session.State = StateInterruptedSwitch
		session.ReturnCheckPending = true
		session.ReturnCheckExpiresAt = now.Add(c.bufferTTL)
		if session.BufferExpiresAt.IsZero() {
			session.BufferExpiresAt = now.Add(c.bufferTTL)
		}
		session.UpdatedAt = now
		outcome = Outcome{
			Kind:     OutcomeReturnCheck,
			Policy:   ResumeLater,
			Question: returnCheckQuestion(session.InterruptedSubjectRef),
			State:    session.State,
		}

	default:
		session.State = StateInterruptedUncertain
		if session.BufferExpiresAt.IsZero() {
			session.BufferExpiresAt = now.Add(c.bufferTTL)
		}
		session.UpdatedAt = now
		outcome = Outcome{
			Kind:     OutcomeClarify,
			Question: clarifyQuestion(session.ActiveSubjectRef),
			State:    session.State,
		}
	}

	span.SetAttributes(attribute.String("continuity.outcome", string(outcome.Kind)))
	return outcome, nil
}

// AnswerReturnCheck resolves the pending return-check. Affirmative resumes
// the buffered remainder verbatim; negative discards it deterministically.
func (c *Controller) AnswerReturnCheck(ctx context.Context, sessionID string, affirmative bool) (Outcome, error) {
	_, span := tracer.Start(ctx, "answer return check")
	defer span.End()

	now := c.clock()
	session, ok := c.store.get(sessionID)
	if !ok {
		return Outcome{}, fmt.Errorf("no continuity state for session %q", sessionID)
	}
	if expireIfDue(session, now) {
		return Outcome{Kind: OutcomeDiscard, Policy: Discard, State: session.State}, nil
	}
	if session.State != StateInterruptedSwitch || !session.ReturnCheckPending {
		return Outcome{}, fmt.Errorf("no return check pending for session %q", sessionID)
	}

	if !affirmative {
		session.State = StateIdle
		session.clearInterruption()
		session.UpdatedAt = now
		span.SetAttributes(attribute.String("continuity.outcome", string(OutcomeDiscard)))
		return Outcome{Kind: OutcomeDiscard, Policy: Discard, State: session.State}, nil
	}

	resumed := session.ResumeBuffer
	session.State = StateSpeaking
	session.ActiveSubjectRef = session.InterruptedSubjectRef
	session.InterruptedSubjectRef = ""
	session.ReturnCheckPending = false
	session.ReturnCheckExpiresAt = time.Time{}
	session.BufferExpiresAt = now.Add(c.bufferTTL)
	session.UpdatedAt = now

	span.SetAttributes(
		attribute.String("continuity.outcome", string(OutcomeResume)),
		attribute.Int("continuity.resumed_len", len(resumed)),
	)
	span.AddEvent("resume buffer restored", trace.WithAttributes(
		attribute.String("continuity.subject", session.ActiveSubjectRef)))
	return Outcome{Kind: OutcomeResume, Policy: ResumeNow, Resumed: resumed, State: session.State}, nil
}

// UncertainChoice is the bounded answer set accepted by the clarify
// question emitted for uncertain interruptions.
type UncertainChoice string

const (
	ChoiceContinue UncertainChoice = "continue"
	ChoiceSwitch   UncertainChoice = "switch"
	ChoiceDrop     UncertainChoice = "drop"
)

// ResolveUncertain applies the user's answer to a pending clarify. Continue
// resumes the interrupted response, switch defers it behind a return-check,
// drop discards it.
func (c *Controller) ResolveUncertain(ctx context.Context, sessionID string, choice UncertainChoice) (Outcome, error) {
	now := c.clock()
	session, ok := c.store.get(sessionID)
	if !ok {
		return Outcome{}, fmt.Errorf("no continuity state for session %q", sessionID)
	}
	if expireIfDue(session, now) {
		return Outcome{Kind: OutcomeDiscard, Policy: Discard, State: session.State}, nil
	}
	if session.State != StateInterruptedUncertain {
		return Outcome{}, fmt.Errorf("no clarify pending for session %q", sessionID)
	}

	switch choice {
	case ChoiceContinue:
		resumed := session.ResumeBuffer
		session.State = StateSpeaking
		session.UpdatedAt = now
		return Outcome{Kind: OutcomeResume, Policy: ResumeNow, Resumed: resumed, State: session.State}, nil
	case ChoiceSwitch:
		session.InterruptedSubjectRef = session.ActiveSubjectRef
		session.State = StateInterruptedSwitch
		session.ReturnCheckPending = true
		session.ReturnCheckExpiresAt = now.Add(c.bufferTTL)
		session.UpdatedAt = now
		return Outcome{
			Kind:     OutcomeReturnCheck,
			Policy:   ResumeLater,
			Question: returnCheckQuestion(session.InterruptedSubjectRef),
			State:    session.State,
		}, nil
	case ChoiceDrop:
		session.State = StateIdle
		session.clearInterruption()
		session.UpdatedAt = now
		return Outcome{Kind: OutcomeDiscard, Policy: Discard, State: session.State}, nil
	default:
		return Outcome{}, fmt.Errorf("unknown uncertain choice %q", choice)
	}
}

func returnCheckQuestion(interruptedSubject string) string {
	subject := interruptedSubject
	if subject == "" {
		subject = "what I was saying"
	}
	return oneLine(fmt.Sprintf("Want me to get back to %s after this? (yes / no)", subject))
}

func clarifyQuestion(activeSubject string) string {
	subject := activeSubject
	if subject == "" {
		subject = "what I was saying"
	}
	question := fmt.Sprintf(
		"Should I keep going with %s, switch to what you just said, or drop it? (continue / switch / drop)",
		subject,
	)
	return oneLine(question)
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > ClarifyMaxLen {
		cut := ClarifyMaxLen - 3
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
