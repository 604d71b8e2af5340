// Package types holds the data model shared by the arfor client packages:
// session phases, pipeline stages, report sections, results, and the
// inbound stream events.
package types

// Phase is the top-level status of a client session.
// Exactly one phase holds at a time; the session controller owns it.
type Phase string

// Phase constants.
const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// IsTerminal reports whether the phase ends a run.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete || p == PhaseError
}
