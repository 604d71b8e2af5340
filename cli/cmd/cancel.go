package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/cli/render"
	"github.com/pithecene-io/arfor/cli/state"
)

// CancelOutput is rendered by the cancel command.
type CancelOutput struct {
	AnalysisID string `json:"analysis_id"`
	Source     string `json:"source"`
	Cancelled  bool   `json:"cancelled"`
}

// CancelCommand returns the cancel command.
func CancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Ask the server to stop a running analysis",
		ArgsUsage: "[ANALYSIS_ID]",
		Flags:     OutputFlags(),
		Action:    cancelAction,
	}
}

var errNothingToCancel = errors.New("no running analysis found")

func cancelAction(c *cli.Context) error {
	if c.NArg() > 1 {
		return cli.Exit("cancel takes at most one ANALYSIS_ID argument", exitUsage)
	}

	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	out, err := e.resolveCancelTarget(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	if err := e.api.CancelAnalysis(c.Context, out.AnalysisID); err != nil {
		return apiFailure("cancel analysis", err)
	}
	out.Cancelled = true

	if path, err := e.statePath(); err == nil {
		if cp, err := state.Load(path); err == nil && cp.AnalysisID == out.AnalysisID {
			_ = state.Remove(path)
		}
	}
	return r.Render(out)
}

// resolveCancelTarget picks the job to cancel: the argument, else the
// server's active run, else the local checkpoint.
func (e *env) resolveCancelTarget(c *cli.Context) (CancelOutput, error) {
	if id := c.Args().First(); id != "" {
		return CancelOutput{AnalysisID: id, Source: "argument"}, nil
	}

	status, statusErr := e.api.AnalysisStatus(c.Context)
	if statusErr == nil && status.Active && status.AnalysisID != "" {
		return CancelOutput{AnalysisID: status.AnalysisID, Source: "server"}, nil
	}

	if path, err := e.statePath(); err == nil {
		if cp, err := state.Load(path); err == nil {
			return CancelOutput{AnalysisID: cp.AnalysisID, Source: "checkpoint"}, nil
		}
	}

	if statusErr != nil {
		return CancelOutput{}, fmt.Errorf("%w (status: %v)", errNothingToCancel, statusErr)
	}
	return CancelOutput{}, errNothingToCancel
}
