// Package cmd provides CLI commands for the arfor binary.
package cmd

import "github.com/urfave/cli/v2"

// Exit codes shared by every command.
const (
	exitSuccess  = 0
	exitError    = 1
	exitUsage    = 2
	exitCanceled = 3
)

// Global flags, read from any subcommand through the context lineage.
var (
	// ConfigFlag points at an arfor.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default ./arfor.yaml when present)",
		EnvVars: []string{"ARFOR_CONFIG"},
	}

	// APIURLFlag overrides api.base_url.
	APIURLFlag = &cli.StringFlag{
		Name:    "api-url",
		Usage:   "API base URL",
		EnvVars: []string{"ARFOR_API_URL"},
	}

	// TokenFlag overrides api.token.
	TokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "Bearer token for authenticated calls",
		EnvVars: []string{"ARFOR_TOKEN"},
	}

	// TokenFileFlag overrides api.token_file.
	TokenFileFlag = &cli.StringFlag{
		Name:  "token-file",
		Usage: "File holding the bearer token; re-read on 401",
	}

	// LogLevelFlag overrides log.level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// GlobalFlags returns the flags registered on the app.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		APIURLFlag,
		TokenFlag,
		TokenFileFlag,
		LogLevelFlag,
	}
}

// Output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Follow the analysis in an interactive view (analyze, resume, replay only)",
	}
)

// OutputFlags returns the shared output flags. --tui is included
// everywhere so unsupported commands can reject it explicitly.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// SessionFlags returns the flags of commands that follow a run.
func SessionFlags() []cli.Flag {
	return append(OutputFlags(),
		&cli.BoolFlag{
			Name:  "stats",
			Usage: "Print session metrics after the run",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress progress lines",
		},
	)
}
