// Package events defines the typed kernel event contract. The kernel emits
// these to a host-supplied handler; it never performs I/O itself.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - turn_decision.*
//   - continuity.*
//   - guard.*
//   - governor.*
//
// turn_decision events
//
//   - GatesEvaluated (turn_decision.gates_evaluated): the gate verdict for
//     the turn, failing gates in precedence order.
//   - TurnDecided (turn_decision.decided): the single authorized next move.
//
// continuity events
//
//   - ContinuityTransitioned (continuity.transitioned): the session state
//     machine moved between states.
//   - ReturnCheckIssued (continuity.return_check_issued): the single
//     follow-up question confirming whether to resume a deferred subject.
//   - ClarifyIssued (continuity.clarify_issued): the single bounded clarify
//     question for an uncertain interruption.
//   - ResumeBufferExpired (continuity.resume_buffer_expired): a buffered
//     remainder timed out and the session reset to idle.
//
// guard events
//
//   - AuthorizationRecorded (guard.authorization_recorded): the guard
//     appended (or replayed) the ledger row for an executing move.
//
// governor events
//
//   - GovernorReviewApplied (governor.review_applied): a review window's
//     keep/degrade/disable outcome was folded into the active snapshot.
package events
