package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/types"
)

// NewApp assembles the arfor CLI.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "arfor",
		Usage:   "Run and follow stock analyses from the terminal",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   GlobalFlags(),
		Commands: []*cli.Command{
			AnalyzeCommand(),
			ResumeCommand(),
			CancelCommand(),
			SearchCommand(),
			CreditsCommand(),
			HistoryCommand(),
			ReplayCommand(),
			VersionCommand(commit),
		},
	}
}
