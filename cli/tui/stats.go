package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/arfor/metrics"
)

// RenderStats draws a metrics snapshot as rows of stat boxes.
func RenderStats(s metrics.Snapshot) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Statistics"))
	b.WriteString("\n")

	rows := [][]string{
		{
			statBox("Runs", s.RunsStarted, highlightColor),
			statBox("Completed", s.RunsCompleted, successColor),
			statBox("Failed", s.RunsFailed, errorColor),
			statBox("Cancelled", s.RunsCanceled, warningColor),
		},
		{
			statBox("Events", s.EventsReceived, highlightColor),
			statBox("Transport errs", s.TransportErrors, warningColor),
			statBox("Parse failures", s.ParseFailures, warningColor),
			statBox("Give-ups", s.StreamGiveUps, errorColor),
		},
		{
			statBox("Archived", s.ArchiveWrites, successColor),
			statBox("Archive errs", s.ArchiveFailures, errorColor),
			statBox("Notify errs", s.NotifyFailures, errorColor),
			statBox("Credit polls", s.CreditPolls, highlightColor),
		},
	}
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}
	return b.String()
}

func statBox(label string, value int64, color lipgloss.Color) string {
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return StatBoxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}
