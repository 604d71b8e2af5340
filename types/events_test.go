package types //nolint:revive // types is a valid package name

import (
	"testing"
)

func TestEventKind_IsTerminal(t *testing.T) {
	tests := []struct {
		kind EventKind
		want bool
	}{
		{KindAnalysisComplete, true},
		{KindAnalysisError, true},
		{KindStageUpdate, false},
		{KindSectionReady, false},
		{KindKeepalive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.IsTerminal(); got != tt.want {
				t.Errorf("EventKind(%q).IsTerminal() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

// kindRecorder records which visitor method ran.
type kindRecorder struct{ seen []EventKind }

func (r *kindRecorder) VisitStageUpdate(StageUpdate)           { r.seen = append(r.seen, KindStageUpdate) }
func (r *kindRecorder) VisitSectionReady(SectionReady)         { r.seen = append(r.seen, KindSectionReady) }
func (r *kindRecorder) VisitAnalysisComplete(AnalysisComplete) { r.seen = append(r.seen, KindAnalysisComplete) }
func (r *kindRecorder) VisitAnalysisError(AnalysisError)       { r.seen = append(r.seen, KindAnalysisError) }
func (r *kindRecorder) VisitKeepalive(Keepalive)               { r.seen = append(r.seen, KindKeepalive) }

func TestEvent_AcceptDispatchesByKind(t *testing.T) {
	events := []Event{
		StageUpdate{Stage: "Stage 1", Status: StageRunning},
		SectionReady{Section: SectionPrimary, Content: "x"},
		AnalysisComplete{},
		AnalysisError{Detail: "boom"},
		Keepalive{},
	}

	rec := &kindRecorder{}
	for _, e := range events {
		e.Accept(rec)
	}

	if len(rec.seen) != len(events) {
		t.Fatalf("visited %d events, want %d", len(rec.seen), len(events))
	}
	for i, e := range events {
		if rec.seen[i] != e.Kind() {
			t.Errorf("event %d dispatched to %s, want %s", i, rec.seen[i], e.Kind())
		}
	}
}

func TestIsTerminal_Nil(t *testing.T) {
	if IsTerminal(nil) {
		t.Error("nil event must not be terminal")
	}
}
