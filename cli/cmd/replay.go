package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/cli/render"
	"github.com/pithecene-io/arfor/cli/tui"
	"github.com/pithecene-io/arfor/types"
)

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Load a saved analysis into a session and show it as completed",
		ArgsUsage: "ANALYSIS_ID",
		Flags: append(OutputFlags(),
			&cli.BoolFlag{
				Name:  "archive",
				Usage: "Load from the local result archive instead of the server",
			},
		),
		Action: replayAction,
	}
}

func replayAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("replay requires exactly one ANALYSIS_ID argument", exitUsage)
	}
	id := c.Args().First()

	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	result, err := e.loadResult(c, id)
	if err != nil {
		return err
	}

	ctrl, err := e.newController(c.Context)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = ctrl.Close() }()

	if err := ctrl.LoadSaved(result); err != nil {
		return cli.Exit(fmt.Sprintf("replay: %v", err), exitError)
	}
	s := ctrl.Snapshot()

	if c.Bool("tui") {
		fmt.Fprintln(c.App.Writer, tui.RenderState(s, time.Now(), ""))
		return nil
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	return r.Render(AnalysisOutput{
		AnalysisID: id,
		Ticker:     s.Ticker,
		Phase:      s.Phase,
		Result:     s.Result,
	})
}

// loadResult fetches a completed result from the archive or the server.
func (e *env) loadResult(c *cli.Context, id string) (*types.AnalysisResult, error) {
	if c.Bool("archive") {
		arc, err := e.requireArchive(c)
		if err != nil {
			return nil, err
		}
		saved, err := arc.Load(c.Context, id)
		if err != nil {
			return nil, cli.Exit(err.Error(), exitError)
		}
		return &saved.Result, nil
	}

	record, err := e.api.GetAnalysis(c.Context, id)
	if err != nil {
		return nil, apiFailure("get analysis", err)
	}
	if record.Result == nil {
		return nil, cli.Exit(fmt.Sprintf("analysis %s has no result (status %s)", id, record.Status), exitError)
	}
	return record.Result, nil
}
