// Package posture defines the typed contracts that upstream collaborators
// (identity/session check, speech-to-text gate, intent parser, access
// decision, blueprint matcher, simulation matcher) hand to the kernel for a
// single turn.
//
// The kernel consumes these structs verbatim and never re-derives a
// collaborator's internal logic. Each collaborator fills exactly one
// sub-struct of TurnContext; a missing or malformed sub-struct is a schema
// problem and is reported through TurnContext.Problems, never guessed around.
//
// Semantics used across the package:
//
//   - Posture: a small, already-decided summary of one collaborator's view
//     of the turn (booleans and enums, no free-form state).
//   - Declared write: a move the caller declares as side-effecting even
//     though it is not a simulation dispatch.
//   - Clarify owner: the single collaborator allowed to request a clarify
//     turn. Any other owner value is a schema violation, not a branch.
package posture
