package cmd

import (
	"fmt"
	"io"

	"github.com/pithecene-io/arfor/session"
	"github.com/pithecene-io/arfor/types"
)

// progressPrinter writes one line per stage transition or new section.
type progressPrinter struct {
	w        io.Writer
	stages   map[string]types.StageStatus
	details  map[string]string
	sections map[types.SectionName]int
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{
		w:        w,
		stages:   make(map[string]types.StageStatus),
		details:  make(map[string]string),
		sections: make(map[types.SectionName]int),
	}
}

// Observe prints what changed since the previous snapshot.
func (p *progressPrinter) Observe(s session.State) {
	for _, stage := range s.Stages {
		prev, seen := p.stages[stage.ID]
		if seen && prev == stage.Status && p.details[stage.ID] == stage.Detail {
			continue
		}
		p.stages[stage.ID] = stage.Status
		p.details[stage.ID] = stage.Detail
		if !seen && stage.Status == types.StagePending {
			continue
		}
		line := fmt.Sprintf("[%s] %s (%s): %s", s.Ticker, stage.ID, stage.Label, stage.Status)
		if stage.Detail != "" {
			line += " - " + stage.Detail
		}
		fmt.Fprintln(p.w, line)
	}

	for name, content := range s.Partial {
		if p.sections[name] == len(content) {
			continue
		}
		p.sections[name] = len(content)
		fmt.Fprintf(p.w, "[%s] section %s ready (%d bytes)\n", s.Ticker, name, len(content))
	}

	if s.Phase == types.PhaseError {
		fmt.Fprintf(p.w, "[%s] error: %s\n", s.Ticker, s.Error)
	}
}
