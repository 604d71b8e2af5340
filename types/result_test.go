package types //nolint:revive // types is a valid package name

import (
	"encoding/json"
	"testing"
)

func TestAnalysisResult_UnmarshalNormalizesSections(t *testing.T) {
	raw := `{
		"ticker": "NVDA",
		"filepath": "reports/NVDA.md",
		"sections": {"deep_dive": "dd", "perspectives": "pp", "synthesis": "ss"},
		"persona_verdicts": [{"persona_id": "value", "rating": "Buy", "confidence": 0.8, "available": true}]
	}`

	var r AnalysisResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if r.Ticker != "NVDA" || r.Origin != "reports/NVDA.md" {
		t.Errorf("unexpected identity: %+v", r)
	}
	want := map[SectionName]string{
		SectionPrimary:     "dd",
		SectionComparative: "pp",
		SectionSummary:     "ss",
	}
	for name, content := range want {
		if r.Sections[name] != content {
			t.Errorf("section %s = %q, want %q", name, r.Sections[name], content)
		}
	}
	if len(r.Verdicts) != 1 || r.Verdicts[0].Rating != "Buy" {
		t.Errorf("unexpected verdicts: %+v", r.Verdicts)
	}
}

func TestAnalysisResult_UnmarshalRejectsUnknownSection(t *testing.T) {
	var r AnalysisResult
	err := json.Unmarshal([]byte(`{"ticker":"X","sections":{"appendix":"a"}}`), &r)
	if err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestAnalysisResult_CloneIsIndependent(t *testing.T) {
	orig := &AnalysisResult{
		Ticker:   "TSLA",
		Sections: map[SectionName]string{SectionSummary: "a"},
		Verdicts: []PersonaVerdict{{Rating: "Avoid"}},
	}
	cp := orig.Clone()
	cp.Sections[SectionSummary] = "b"
	cp.Verdicts[0].Rating = "Buy"

	if orig.Sections[SectionSummary] != "a" || orig.Verdicts[0].Rating != "Avoid" {
		t.Error("clone shares state with original")
	}
	if (*AnalysisResult)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}
