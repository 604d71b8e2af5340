// Package session implements the analysis session controller.
//
// All state lives in a State value that changes only through Reduce. The
// Controller serializes actions from callers, the stream manager, and its own
// background work, applies them, and publishes snapshots to subscribers.
package session

import (
	"time"

	"github.com/pithecene-io/arfor/types"
)

// State is the client-side view of one analysis session.
type State struct {
	Phase  types.Phase   `json:"phase"`
	Stages []types.Stage `json:"stages"`
	// Result is set only in phase complete.
	Result *types.AnalysisResult `json:"result,omitempty"`
	// Error is set only in phase error.
	Error  string `json:"error,omitempty"`
	Ticker string `json:"ticker,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	Demo   bool   `json:"demo,omitempty"`
	// CreditsRemaining is nil until a balance has been observed.
	CreditsRemaining *int `json:"credits_remaining,omitempty"`
	// Partial holds report sections delivered before completion.
	Partial types.PartialSections `json:"partial,omitempty"`
	// StartedAt is when the current run began; zero when idle.
	StartedAt time.Time `json:"started_at,omitzero"`
	// FinishedAt is when the current run reached a terminal phase.
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// NewState returns the idle state.
func NewState() State {
	return State{
		Phase:   types.PhaseIdle,
		Stages:  types.InitialStages(),
		Partial: types.PartialSections{},
	}
}

// Clone returns a deep copy that shares nothing with s.
func (s State) Clone() State {
	out := s
	out.Stages = types.CloneStages(s.Stages)
	out.Result = s.Result.Clone()
	out.Partial = s.Partial.Clone()
	if s.CreditsRemaining != nil {
		n := *s.CreditsRemaining
		out.CreditsRemaining = &n
	}
	return out
}

// Duration returns how long the run took, or has taken so far as of now.
func (s State) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.FinishedAt.IsZero() {
		return s.FinishedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
