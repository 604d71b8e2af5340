// Package adapter defines the downstream notification boundary.
//
// Adapters publish analysis completion notifications to downstream systems.
// The session controller owns adapter calls; users provide configuration only.
package adapter

import "context"

// EventTypeAnalysisFinished is the event_type of every published event.
const EventTypeAnalysisFinished = "analysis_finished"

// Outcome values.
const (
	OutcomeComplete = "complete"
	OutcomeError    = "error"
)

// VerdictSummary is the headline of one persona verdict.
type VerdictSummary struct {
	Persona    string  `json:"persona"`
	Rating     string  `json:"rating"`
	Confidence float64 `json:"confidence"`
}

// AnalysisFinishedEvent is the payload published when a run reaches a
// terminal phase.
type AnalysisFinishedEvent struct {
	EventType  string           `json:"event_type"` // always "analysis_finished"
	AnalysisID string           `json:"analysis_id"`
	Ticker     string           `json:"ticker"`
	Outcome    string           `json:"outcome"` // complete or error
	Error      string           `json:"error,omitempty"`
	Demo       bool             `json:"demo"`
	Timestamp  string           `json:"timestamp"` // RFC 3339
	DurationMs int64            `json:"duration_ms"`
	Verdicts   []VerdictSummary `json:"verdicts,omitempty"`
}

// Adapter publishes analysis completion events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *AnalysisFinishedEvent) error

	// Close releases adapter resources.
	Close() error
}
