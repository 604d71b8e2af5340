package stream

import (
	"errors"
	"testing"

	"github.com/pithecene-io/arfor/types"
)

func TestParseEvent_Variants(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    types.EventKind
	}{
		{"keepalive", `{"kind":"keepalive"}`, types.KindKeepalive},
		{"legacy keepalive", `{"event_type":"keepalive"}`, types.KindKeepalive},
		{"stage update", `{"kind":"stage_update","stage":"Stage 1","status":"running","detail":"fetching"}`, types.KindStageUpdate},
		{"legacy stage update", `{"event_type":"stage_update","stage":"Stage 2","status":"complete","elapsed":1.5,"timestamp":1}`, types.KindStageUpdate},
		{"section", `{"kind":"section_ready","section":"primary","content":"body"}`, types.KindSectionReady},
		{"section alias", `{"kind":"section_ready","section":"synthesis","content":""}`, types.KindSectionReady},
		{"complete", `{"kind":"analysis_complete","result":{"ticker":"NVDA","sections":{}}}`, types.KindAnalysisComplete},
		{"legacy complete", `{"event_type":"analysis_complete","data":{"ticker":"NVDA"}}`, types.KindAnalysisComplete},
		{"error", `{"kind":"analysis_error","detail":"pipeline failed"}`, types.KindAnalysisError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ParseEvent([]byte(tt.payload))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if event.Kind() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, event.Kind())
			}
		})
	}
}

func TestParseEvent_Fields(t *testing.T) {
	event, err := ParseEvent([]byte(`{"kind":"stage_update","stage":"Stage 3","status":"error","detail":"timeout"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	su, ok := event.(types.StageUpdate)
	if !ok {
		t.Fatalf("expected StageUpdate, got %T", event)
	}
	if su.Stage != "Stage 3" || su.Status != types.StageError || su.Detail != "timeout" {
		t.Errorf("unexpected stage update %+v", su)
	}

	event, err = ParseEvent([]byte(`{"kind":"section_ready","section":"perspectives","content":"views"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sr := event.(types.SectionReady)
	if sr.Section != types.SectionComparative || sr.Content != "views" {
		t.Errorf("unexpected section %+v", sr)
	}

	event, err = ParseEvent([]byte(`{"kind":"analysis_complete","result":{"ticker":"NVDA","filepath":"r.md","sections":{"deep_dive":"x"}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ac := event.(types.AnalysisComplete)
	if ac.Result.Ticker != "NVDA" || ac.Result.Origin != "r.md" || ac.Result.Sections[types.SectionPrimary] != "x" {
		t.Errorf("unexpected result %+v", ac.Result)
	}
}

func TestParseEvent_Failures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		kind    ParseErrorKind
	}{
		{"not json", `not json`, ParseErrorSyntax},
		{"array", `[1,2]`, ParseErrorSyntax},
		{"truncated", `{"kind":"stage_up`, ParseErrorSyntax},
		{"no kind", `{"stage":"Stage 1"}`, ParseErrorUnknownKind},
		{"unknown kind", `{"kind":"progress"}`, ParseErrorUnknownKind},
		{"stage missing id", `{"kind":"stage_update","status":"running"}`, ParseErrorInvalid},
		{"stage bad status", `{"kind":"stage_update","stage":"Stage 1","status":"done"}`, ParseErrorInvalid},
		{"section unknown", `{"kind":"section_ready","section":"appendix","content":"x"}`, ParseErrorInvalid},
		{"section no content", `{"kind":"section_ready","section":"primary"}`, ParseErrorInvalid},
		{"complete no result", `{"kind":"analysis_complete"}`, ParseErrorInvalid},
		{"complete bad section", `{"kind":"analysis_complete","result":{"sections":{"appendix":"x"}}}`, ParseErrorInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.payload))
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if parseErr.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s (%v)", tt.kind, parseErr.Kind, err)
			}
			if !IsParseError(err) {
				t.Error("IsParseError should be true")
			}
		})
	}
}

func TestEncodeEvent_ParsesBack(t *testing.T) {
	events := []types.Event{
		types.StageUpdate{Stage: "Stage 1", Status: types.StageRunning, Detail: "go"},
		types.SectionReady{Section: types.SectionSummary, Content: "s"},
		types.AnalysisComplete{Result: types.AnalysisResult{Ticker: "NVDA", Sections: map[types.SectionName]string{types.SectionPrimary: "p"}}},
		types.AnalysisError{Detail: "boom"},
		types.Keepalive{},
	}
	for _, e := range events {
		payload, err := EncodeEvent(e)
		if err != nil {
			t.Fatalf("encode %s: %v", e.Kind(), err)
		}
		back, err := ParseEvent(payload)
		if err != nil {
			t.Fatalf("parse %s: %v", payload, err)
		}
		if back.Kind() != e.Kind() {
			t.Errorf("expected %s, got %s", e.Kind(), back.Kind())
		}
	}
}
