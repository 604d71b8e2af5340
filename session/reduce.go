package session

import (
	"time"

	"github.com/pithecene-io/arfor/types"
)

// DefaultErrorMessage is used when the server reports a failure without
// detail.
const DefaultErrorMessage = "Analysis failed"

// Action is one state transition. The set is closed.
type Action interface {
	action()
}

// Started begins a new run: stages reset to pending, result, error and
// partial sections cleared, phase running.
type Started struct {
	Ticker string
	Demo   bool
	At     time.Time
}

// Bound records the server-issued job identifier for the running run.
type Bound struct {
	JobID string
	// CreditsRemaining is the post-deduction balance, if reported.
	CreditsRemaining *int
}

// Received applies one inbound stream event for JobID.
type Received struct {
	JobID string
	Event types.Event
	At    time.Time
}

// Failed moves a running run to phase error. An empty JobID matches a run
// that has not been bound yet.
type Failed struct {
	JobID   string
	Message string
	At      time.Time
}

// Cleared returns to idle and discards the run.
type Cleared struct {
	// KeepTicker leaves the ticker in place, as after a cancel.
	KeepTicker bool
}

// Loaded installs a previously stored result without a run.
type Loaded struct {
	Result *types.AnalysisResult
}

// CreditsObserved records a fetched credit balance.
type CreditsObserved struct {
	Credits int
}

func (Started) action()         {}
func (Bound) action()           {}
func (Received) action()        {}
func (Failed) action()          {}
func (Cleared) action()         {}
func (Loaded) action()          {}
func (CreditsObserved) action() {}

// Reduce returns the state that results from applying a to s.
// It never mutates s; slices and maps in the result are fresh copies
// wherever they differ from s.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case Started:
		credits := s.CreditsRemaining
		next := NewState()
		next.Phase = types.PhaseRunning
		next.Ticker = a.Ticker
		next.Demo = a.Demo
		next.StartedAt = a.At
		next.CreditsRemaining = credits
		return next

	case Bound:
		if s.Phase != types.PhaseRunning {
			return s
		}
		s.JobID = a.JobID
		if a.CreditsRemaining != nil {
			n := *a.CreditsRemaining
			s.CreditsRemaining = &n
		}
		return s

	case Received:
		if s.Phase != types.PhaseRunning || a.JobID == "" || a.JobID != s.JobID || a.Event == nil {
			return s
		}
		r := &eventReducer{state: s, now: a.At}
		a.Event.Accept(r)
		return r.state

	case Failed:
		if s.Phase != types.PhaseRunning {
			return s
		}
		if a.JobID != "" && a.JobID != s.JobID {
			return s
		}
		s.Phase = types.PhaseError
		s.Error = a.Message
		if s.Error == "" {
			s.Error = DefaultErrorMessage
		}
		s.FinishedAt = a.At
		return s

	case Cleared:
		next := NewState()
		next.CreditsRemaining = s.CreditsRemaining
		if a.KeepTicker {
			next.Ticker = s.Ticker
		}
		return next

	case Loaded:
		if a.Result == nil {
			return s
		}
		next := NewState()
		next.Phase = types.PhaseComplete
		next.Stages = CompletedStages()
		next.Result = a.Result.Clone()
		next.Ticker = a.Result.Ticker
		next.CreditsRemaining = s.CreditsRemaining
		return next

	case CreditsObserved:
		n := a.Credits
		s.CreditsRemaining = &n
		return s
	}
	return s
}

// eventReducer applies one event to a running state.
type eventReducer struct {
	state State
	now   time.Time
}

func (r *eventReducer) VisitStageUpdate(e types.StageUpdate) {
	r.state.Stages = ApplyStageUpdate(r.state.Stages, e.Stage, e.Status, e.Detail, r.now)
}

func (r *eventReducer) VisitSectionReady(e types.SectionReady) {
	r.state.Partial = ApplySection(r.state.Partial, e.Section, e.Content)
}

func (r *eventReducer) VisitAnalysisComplete(e types.AnalysisComplete) {
	r.state.Result = e.Result.Clone()
	r.state.Partial = types.PartialSections{}
	r.state.Phase = types.PhaseComplete
	r.state.FinishedAt = r.now
}

func (r *eventReducer) VisitAnalysisError(e types.AnalysisError) {
	r.state.Error = e.Detail
	if r.state.Error == "" {
		r.state.Error = DefaultErrorMessage
	}
	r.state.Phase = types.PhaseError
	r.state.FinishedAt = r.now
}

func (r *eventReducer) VisitKeepalive(types.Keepalive) {}
