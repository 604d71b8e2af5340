package archive

import (
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/arfor/types"
)

func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func saved(id, ticker string, completedAt time.Time) *types.SavedAnalysis {
	return &types.SavedAnalysis{
		AnalysisID:  id,
		Ticker:      ticker,
		StartedAt:   completedAt.Add(-3 * time.Minute),
		CompletedAt: completedAt,
		Result: types.AnalysisResult{
			Ticker: ticker,
			Sections: map[types.SectionName]string{
				types.SectionPrimary: "# " + ticker,
				types.SectionSummary: "summary",
			},
			Verdicts: []types.PersonaVerdict{
				{PersonaID: "value", PersonaName: "Value", Rating: "buy", Confidence: 0.7, Available: true},
			},
		},
	}
}

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := New("arfor-test", lode.NewMemoryFactory(), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestArchive_SaveLoadRoundTrip(t *testing.T) {
	a := newTestArchive(t)
	at := time.Date(2026, 2, 7, 15, 4, 5, 0, time.UTC)
	rec := saved("abc", "NVDA", at)

	if err := a.Save(t.Context(), rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := a.Load(t.Context(), "abc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Ticker != "NVDA" || !got.CompletedAt.Equal(at) {
		t.Errorf("unexpected record %+v", got)
	}
	if got.Result.Sections[types.SectionPrimary] != "# NVDA" {
		t.Errorf("sections not preserved: %v", got.Result.Sections)
	}
	if len(got.Result.Verdicts) != 1 || got.Result.Verdicts[0].Confidence != 0.7 {
		t.Errorf("verdicts not preserved: %+v", got.Result.Verdicts)
	}
}

func TestArchive_LoadMissing(t *testing.T) {
	a := newTestArchive(t)
	if err := a.Save(t.Context(), saved("abc", "NVDA", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := a.Load(t.Context(), "ab")
	if !errors.Is(err, ErrNotArchived) {
		t.Errorf("expected ErrNotArchived, got %v", err)
	}
}

func TestArchive_ListOrderAndFilter(t *testing.T) {
	a := newTestArchive(t)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for i, rec := range []*types.SavedAnalysis{
		saved("a1", "NVDA", base),
		saved("a2", "AAPL", base.Add(24*time.Hour)),
		saved("a3", "NVDA", base.Add(48*time.Hour)),
	} {
		if err := a.Save(t.Context(), rec); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}
	// A repeated write is listed once.
	if err := a.Save(t.Context(), saved("a1", "NVDA", base)); err != nil {
		t.Fatalf("Save duplicate failed: %v", err)
	}

	all, err := a.List(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var ids []string
	for _, e := range all {
		ids = append(ids, e.AnalysisID)
	}
	if len(ids) != 3 || ids[0] != "a3" || ids[1] != "a2" || ids[2] != "a1" {
		t.Errorf("expected [a3 a2 a1], got %v", ids)
	}
	if all[0].Verdicts != 1 {
		t.Errorf("expected verdict count 1, got %d", all[0].Verdicts)
	}

	nvda, err := a.List(t.Context(), Filter{Ticker: "nvda", Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(nvda) != 1 || nvda[0].AnalysisID != "a3" {
		t.Errorf("expected newest NVDA only, got %+v", nvda)
	}
}

func TestArchive_SharedStoreAcrossOpens(t *testing.T) {
	store := lode.NewMemory()
	writer, err := New("arfor", sharedFactory(store), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := writer.Save(t.Context(), saved("x1", "MSFT", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reader, err := New("arfor", sharedFactory(store), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := reader.Load(t.Context(), "x1"); err != nil {
		t.Errorf("reader should see writer's record: %v", err)
	}
}

func TestArchive_SaveValidation(t *testing.T) {
	a := newTestArchive(t)
	if err := a.Save(t.Context(), nil); err == nil {
		t.Error("expected error for nil record")
	}
	if err := a.Save(t.Context(), &types.SavedAnalysis{AnalysisID: "x"}); err == nil {
		t.Error("expected error for missing ticker")
	}
}

func TestArchive_EmptyList(t *testing.T) {
	a := newTestArchive(t)
	entries, err := a.List(t.Context(), Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty archive, got %v", entries)
	}
}

func TestNewFS(t *testing.T) {
	a, err := NewFS("", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	if a.dataset.ID() != DefaultDataset {
		t.Errorf("Dataset ID = %q, want %q", a.dataset.ID(), DefaultDataset)
	}
	if err := a.Save(t.Context(), saved("fs1", "AMD", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := a.Load(t.Context(), "fs1"); err != nil {
		t.Errorf("Load failed: %v", err)
	}
}
