// Package archive keeps completed analyses in a Lode dataset.
//
// Records are partitioned ticker/day/analysis_id and stored as JSONL, so
// the archive can live on a local filesystem or in S3 and be browsed with
// ordinary object listing tools.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/arfor/log"
	"github.com/pithecene-io/arfor/types"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "arfor"

// RecordKind tags archive records so foreign records in a shared dataset
// are skipped.
const RecordKind = "analysis_result"

// partitionKeys is the Hive layout shared by the read and write paths.
var partitionKeys = []string{"ticker", "day", "analysis_id"}

// ErrNotArchived is returned by Load for an unknown analysis ID.
var ErrNotArchived = errors.New("analysis not in archive")

// Entry is one archived analysis without its report text.
type Entry struct {
	AnalysisID  string    `json:"analysis_id"`
	Ticker      string    `json:"ticker"`
	Demo        bool      `json:"demo"`
	CompletedAt time.Time `json:"completed_at"`
	Verdicts    int       `json:"verdicts"`
}

// Filter narrows List.
type Filter struct {
	// Ticker matches case-insensitively. Empty matches all.
	Ticker string
	// Limit caps the number of entries. Zero means no cap.
	Limit int
}

// Archive reads and writes archived analyses.
type Archive struct {
	dataset lode.Dataset
	logger  *log.Logger
}

// New opens the archive dataset on the given store factory.
// Use lode.NewMemoryFactory() for testing.
func New(dataset string, factory lode.StoreFactory, logger *log.Logger) (*Archive, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return &Archive{dataset: ds, logger: logger.Named("archive")}, nil
}

// NewFS opens the archive on the local filesystem under root.
func NewFS(dataset, root string, logger *log.Logger) (*Archive, error) {
	return New(dataset, lode.NewFSFactory(root), logger)
}

// Save writes one completed analysis.
func (a *Archive) Save(ctx context.Context, rec *types.SavedAnalysis) error {
	if rec == nil || rec.AnalysisID == "" {
		return errors.New("archive: analysis ID is required")
	}
	if rec.Ticker == "" {
		return errors.New("archive: ticker is required")
	}

	record, err := toRecord(rec)
	if err != nil {
		return fmt.Errorf("archive: encode %s: %w", rec.AnalysisID, err)
	}
	if _, err := a.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, recordPath(record))
	}
	a.logger.Debug("analysis archived", map[string]any{"analysis_id": rec.AnalysisID, "ticker": rec.Ticker})
	return nil
}

// List returns archived analyses, most recently completed first. A record
// written more than once is listed once.
func (a *Archive) List(ctx context.Context, f Filter) ([]Entry, error) {
	ticker := strings.ToUpper(strings.TrimSpace(f.Ticker))

	var entries []Entry
	err := a.scan(ctx, func(snap *lode.Snapshot) bool {
		return ticker == "" || snapshotMatches(snap, "ticker", ticker)
	}, func(rec *types.SavedAnalysis) bool {
		if ticker != "" && rec.Ticker != ticker {
			return true
		}
		entries = append(entries, Entry{
			AnalysisID:  rec.AnalysisID,
			Ticker:      rec.Ticker,
			Demo:        rec.Demo,
			CompletedAt: rec.CompletedAt,
			Verdicts:    len(rec.Result.Verdicts),
		})
		return true
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(entries, func(x, y Entry) int {
		return y.CompletedAt.Compare(x.CompletedAt)
	})
	entries = dedupe(entries)
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	return entries, nil
}

// Load returns the archived analysis with the given ID.
func (a *Archive) Load(ctx context.Context, analysisID string) (*types.SavedAnalysis, error) {
	var found *types.SavedAnalysis
	err := a.scan(ctx, func(snap *lode.Snapshot) bool {
		return snapshotMatches(snap, "analysis_id", analysisID)
	}, func(rec *types.SavedAnalysis) bool {
		if rec.AnalysisID != analysisID {
			return true
		}
		found = rec
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotArchived, analysisID)
	}
	return found, nil
}

// scan walks snapshots newest first, reading those that pass keep, and
// hands each decoded record to visit until visit returns false.
func (a *Archive) scan(ctx context.Context, keep func(*lode.Snapshot) bool, visit func(*types.SavedAnalysis) bool) error {
	snapshots, err := a.dataset.Snapshots(ctx)
	if err != nil {
		return WrapReadError(err, "snapshots")
	}

	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !keep(snap) {
			continue
		}
		data, err := a.dataset.Read(ctx, snap.ID)
		if err != nil {
			return WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKind {
				continue
			}
			rec, err := fromRecord(record)
			if err != nil {
				a.logger.Warn("skipping unreadable archive record", map[string]any{"snapshot": snap.ID, "error": err.Error()})
				continue
			}
			if !visit(rec) {
				return nil
			}
		}
	}
	return nil
}

// toRecord flattens rec into the map form the Hive layout partitions on.
func toRecord(rec *types.SavedAnalysis) (map[string]any, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	record["record_kind"] = RecordKind
	record["day"] = rec.CompletedAt.UTC().Format(time.DateOnly)
	return record, nil
}

func fromRecord(record map[string]any) (*types.SavedAnalysis, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	var rec types.SavedAnalysis
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.AnalysisID == "" {
		return nil, errors.New("record has no analysis_id")
	}
	return &rec, nil
}

// recordPath is the partition path of record, for error messages.
func recordPath(record map[string]any) string {
	parts := make([]string, len(partitionKeys))
	for i, key := range partitionKeys {
		parts[i] = fmt.Sprintf("%s=%v", key, record[key])
	}
	return strings.Join(parts, "/")
}

// dedupe keeps the first entry per analysis ID.
func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if _, ok := seen[e.AnalysisID]; ok {
			continue
		}
		seen[e.AnalysisID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// snapshotMatches reports whether any file in snap lies under the exact
// partition segment key=value. Whole-segment matching keeps id-1 from
// matching id-10.
func snapshotMatches(snap *lode.Snapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		if slices.Contains(strings.Split(f.Path, "/"), segment) {
			return true
		}
	}
	return false
}
