package types

// EventKind discriminates inbound stream events.
type EventKind string

// Event kind constants. The wire carries these in the "kind" field.
const (
	KindStageUpdate      EventKind = "stage_update"
	KindSectionReady     EventKind = "section_ready"
	KindAnalysisComplete EventKind = "analysis_complete"
	KindAnalysisError    EventKind = "analysis_error"
	KindKeepalive        EventKind = "keepalive"
)

// IsTerminal returns true if this event kind ends a run.
func (k EventKind) IsTerminal() bool {
	return k == KindAnalysisComplete || k == KindAnalysisError
}

// Event is one parsed server-push event. The set of implementations is
// closed: only this package can add one, and every addition extends
// EventVisitor so unhandled kinds fail to compile.
type Event interface {
	Kind() EventKind
	Accept(v EventVisitor)
	sealed()
}

// EventVisitor handles every event kind.
type EventVisitor interface {
	VisitStageUpdate(e StageUpdate)
	VisitSectionReady(e SectionReady)
	VisitAnalysisComplete(e AnalysisComplete)
	VisitAnalysisError(e AnalysisError)
	VisitKeepalive(e Keepalive)
}

// StageUpdate reports a pipeline stage status change.
type StageUpdate struct {
	Stage  string
	Status StageStatus
	Detail string
}

// SectionReady delivers the current text of one report section.
type SectionReady struct {
	Section SectionName
	Content string
}

// AnalysisComplete carries the final result.
type AnalysisComplete struct {
	Result AnalysisResult
}

// AnalysisError reports a server-side run failure.
type AnalysisError struct {
	Detail string
}

// Keepalive is sent periodically to hold the transport open.
type Keepalive struct{}

func (StageUpdate) Kind() EventKind      { return KindStageUpdate }
func (SectionReady) Kind() EventKind     { return KindSectionReady }
func (AnalysisComplete) Kind() EventKind { return KindAnalysisComplete }
func (AnalysisError) Kind() EventKind    { return KindAnalysisError }
func (Keepalive) Kind() EventKind        { return KindKeepalive }

func (e StageUpdate) Accept(v EventVisitor)      { v.VisitStageUpdate(e) }
func (e SectionReady) Accept(v EventVisitor)     { v.VisitSectionReady(e) }
func (e AnalysisComplete) Accept(v EventVisitor) { v.VisitAnalysisComplete(e) }
func (e AnalysisError) Accept(v EventVisitor)    { v.VisitAnalysisError(e) }
func (e Keepalive) Accept(v EventVisitor)        { v.VisitKeepalive(e) }

func (StageUpdate) sealed()      {}
func (SectionReady) sealed()     {}
func (AnalysisComplete) sealed() {}
func (AnalysisError) sealed()    {}
func (Keepalive) sealed()        {}

// IsTerminal reports whether e ends a run.
func IsTerminal(e Event) bool {
	return e != nil && e.Kind().IsTerminal()
}
