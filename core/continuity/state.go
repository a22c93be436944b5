// Package continuity implements the session-scoped interruption continuity
// state machine: what happens when new speech arrives while a prior
// response is still owed to the user.
package continuity

import "time"

// State names the machine's position for one session.
type State string

const (
	StateIdle                 State = "idle"
	StateSpeaking             State = "speaking"
	StateInterruptedSame      State = "interrupted_same_subject"
	StateInterruptedSwitch    State = "interrupted_switch_pending_return_check"
	StateInterruptedUncertain State = "interrupted_uncertain"
)

// Session is the durable continuity record for one session id. It is the
// only state shared across turns of a session and is mutated exclusively by
// the Controller under the kernel's per-session writer lock.
type Session struct {
	SessionID string

	State                 State
	ActiveSubjectRef      string
	InterruptedSubjectRef string

	// ResumeBuffer holds the unsaid remainder of the interrupted response.
	ResumeBuffer    string
	BufferExpiresAt time.Time

	ReturnCheckPending   bool
	ReturnCheckExpiresAt time.Time

	UpdatedAt time.Time
}

// speaking reports whether the session is mid-response. A same-subject
// interruption keeps the response in flight, so it counts.
func (s *Session) speaking() bool {
	return s.State == StateSpeaking || s.State == StateInterruptedSame
}

// clearInterruption drops the interrupted subject, the buffered remainder
// and the pending return-check in one mutation.
func (s *Session) clearInterruption() {
	s.InterruptedSubjectRef = ""
	s.ResumeBuffer = ""
	s.BufferExpiresAt = time.Time{}
	s.ReturnCheckPending = false
	s.ReturnCheckExpiresAt = time.Time{}
}
