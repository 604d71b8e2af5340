package types

import (
	"fmt"
	"time"
)

// StageStatus is the status of one pipeline stage.
type StageStatus string

// Stage status constants. Statuses only move forward:
// pending -> running -> complete | error.
const (
	StagePending  StageStatus = "pending"
	StageRunning  StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageError    StageStatus = "error"
)

// ParseStageStatus validates a wire status string.
func ParseStageStatus(s string) (StageStatus, error) {
	switch StageStatus(s) {
	case StagePending, StageRunning, StageComplete, StageError:
		return StageStatus(s), nil
	default:
		return "", fmt.Errorf("unknown stage status %q", s)
	}
}

// Rank orders statuses along the status lattice.
// complete and error share the top rank.
func (s StageStatus) Rank() int {
	switch s {
	case StageRunning:
		return 1
	case StageComplete, StageError:
		return 2
	default:
		return 0
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s StageStatus) IsTerminal() bool {
	return s == StageComplete || s == StageError
}

// CanAdvance reports whether a stage in status s may accept next.
// A repeated running update is accepted so its detail can change.
func (s StageStatus) CanAdvance(next StageStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == s {
		return s == StageRunning
	}
	return next.Rank() > s.Rank()
}

// Stage is one named step of the server pipeline as tracked by the client.
type Stage struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Status      StageStatus `json:"status"`
	Detail      string      `json:"detail"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Elapsed returns the time spent in the stage as of now.
// Zero when the stage has not started.
func (s Stage) Elapsed(now time.Time) time.Duration {
	if s.StartedAt == nil {
		return 0
	}
	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	if end.Before(*s.StartedAt) {
		return 0
	}
	return end.Sub(*s.StartedAt)
}

// StageDefinition is the fixed identity of a pipeline stage.
type StageDefinition struct {
	ID    string
	Label string
}

// StageDefinitions lists the pipeline stages in execution order.
var StageDefinitions = []StageDefinition{
	{ID: "Stage 1", Label: "Intake & Validation"},
	{ID: "Stage 2", Label: "Deep Dive Analysis"},
	{ID: "Stage 3", Label: "Persona Evaluations"},
	{ID: "Stage 4", Label: "Synthesis"},
	{ID: "Stage 5", Label: "Report Assembly"},
}

// InitialStages returns a fresh all-pending stage sequence.
func InitialStages() []Stage {
	stages := make([]Stage, len(StageDefinitions))
	for i, def := range StageDefinitions {
		stages[i] = Stage{
			ID:     def.ID,
			Label:  def.Label,
			Status: StagePending,
		}
	}
	return stages
}

// CloneStages copies a stage sequence including its timestamps.
func CloneStages(stages []Stage) []Stage {
	if stages == nil {
		return nil
	}
	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[i] = s
		if s.StartedAt != nil {
			t := *s.StartedAt
			out[i].StartedAt = &t
		}
		if s.CompletedAt != nil {
			t := *s.CompletedAt
			out[i].CompletedAt = &t
		}
	}
	return out
}
