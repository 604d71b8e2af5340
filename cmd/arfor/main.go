// Package main provides the arfor CLI entrypoint.
//
// Usage:
//
//	arfor <command> [subcommand] [options]
//
// Exit codes:
//   - 0: analysis complete (or nothing to follow)
//   - 1: analysis or API error
//   - 2: usage or configuration error
//   - 3: analysis cancelled
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.NewApp(commit)
	app.ExitErrHandler = func(_ *cli.Context, err error) {
		if err != nil {
			os.Exit(exitCode(err, os.Stderr))
		}
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitCode reports err on w and returns the process exit code.
// cli.Exit codes pass through; anything else exits 1.
func exitCode(err error, w io.Writer) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N) reports "exit status N"; stay quiet for those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
