package session

import (
	"time"

	"github.com/pithecene-io/arfor/types"
)

// ApplyStageUpdate returns a copy of stages with one entry updated.
//
// Only the stage with the given id changes; order and every other field are
// preserved. Updates that would move a stage backwards, or out of a terminal
// status, are ignored. StartedAt is set by the first running update and
// never overwritten. CompletedAt is set when the stage completes. Unknown
// ids leave the sequence unchanged.
func ApplyStageUpdate(stages []types.Stage, id string, status types.StageStatus, detail string, now time.Time) []types.Stage {
	out := types.CloneStages(stages)
	for i := range out {
		s := &out[i]
		if s.ID != id {
			continue
		}
		if !s.Status.CanAdvance(status) {
			return out
		}
		s.Status = status
		s.Detail = detail
		switch status {
		case types.StageRunning:
			if s.StartedAt == nil {
				s.StartedAt = timePtr(now)
			}
		case types.StageComplete:
			s.CompletedAt = timePtr(now)
		}
		return out
	}
	return out
}

// CompletedStages returns the canonical stage sequence with every stage
// complete and no timing, as shown for a result loaded from history.
func CompletedStages() []types.Stage {
	stages := types.InitialStages()
	for i := range stages {
		stages[i].Status = types.StageComplete
	}
	return stages
}

func timePtr(t time.Time) *time.Time {
	return &t
}
