// Package state keeps the active-run checkpoint used by `arfor resume`.
//
// The checkpoint is a single msgpack record written when a run binds to its
// stream and removed when the run ends. It lets a later process reattach to
// a job the server still runs, including demo runs the status endpoint
// cannot report.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/arfor/session"
	"github.com/pithecene-io/arfor/types"
)

// FormatVersion is written into every checkpoint. Files with another
// version are treated as absent.
const FormatVersion = 1

// FileName is the checkpoint file name under the state directory.
const FileName = "active-run.msgpack"

// ErrNoCheckpoint is returned by Load when no usable checkpoint exists.
var ErrNoCheckpoint = errors.New("state: no active run checkpoint")

// Checkpoint identifies a run that may still be active on the server.
type Checkpoint struct {
	Version    int       `msgpack:"version"`
	AnalysisID string    `msgpack:"analysis_id"`
	Ticker     string    `msgpack:"ticker"`
	Demo       bool      `msgpack:"demo"`
	StartedAt  time.Time `msgpack:"started_at"`
}

// DefaultPath returns the checkpoint path under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("state: locate config dir: %w", err)
	}
	return filepath.Join(dir, "arfor", FileName), nil
}

// Save writes cp to path, replacing any previous checkpoint.
// The file is written to a temporary name and renamed into place.
func Save(path string, cp Checkpoint) error {
	if cp.AnalysisID == "" {
		return errors.New("state: checkpoint requires an analysis ID")
	}
	cp.Version = FormatVersion
	data, err := msgpack.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("state: encode checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("state: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("state: write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("state: write checkpoint: %w", err)
	}
	return nil
}

// Load reads the checkpoint at path. A missing, unreadable-format, or
// foreign-version file yields ErrNoCheckpoint.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("state: read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCheckpoint, err)
	}
	if cp.Version != FormatVersion || cp.AnalysisID == "" {
		return nil, ErrNoCheckpoint
	}
	return &cp, nil
}

// Remove deletes the checkpoint. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("state: remove checkpoint: %w", err)
	}
	return nil
}

// Recorder mirrors controller snapshots into the checkpoint file: it saves
// when a run binds and removes the file once that run leaves running.
type Recorder struct {
	Path string

	saved string
}

// Observe applies one controller snapshot.
func (r *Recorder) Observe(s session.State) error {
	if s.Phase == types.PhaseRunning && s.JobID != "" {
		if s.JobID == r.saved {
			return nil
		}
		err := Save(r.Path, Checkpoint{
			AnalysisID: s.JobID,
			Ticker:     s.Ticker,
			Demo:       s.Demo,
			StartedAt:  s.StartedAt,
		})
		if err != nil {
			return err
		}
		r.saved = s.JobID
		return nil
	}
	if r.saved == "" {
		return nil
	}
	r.saved = ""
	return Remove(r.Path)
}
