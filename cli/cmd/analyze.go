package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/cli/render"
	"github.com/pithecene-io/arfor/cli/state"
	"github.com/pithecene-io/arfor/cli/tui"
	"github.com/pithecene-io/arfor/client"
	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/session"
	"github.com/pithecene-io/arfor/types"
)

// AnalysisOutput is the rendered outcome of a followed run.
type AnalysisOutput struct {
	AnalysisID       string                `json:"analysis_id"`
	Ticker           string                `json:"ticker"`
	Demo             bool                  `json:"demo"`
	Phase            types.Phase           `json:"phase"`
	Error            string                `json:"error,omitempty"`
	Duration         time.Duration         `json:"duration_ns"`
	CreditsRemaining *int                  `json:"credits_remaining,omitempty"`
	Result           *types.AnalysisResult `json:"result,omitempty"`
	Stats            *metrics.Snapshot     `json:"stats,omitempty"`
}

// AnalyzeCommand returns the analyze command.
func AnalyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Start an analysis and follow it to completion",
		ArgsUsage: "TICKER",
		Flags: append(SessionFlags(),
			&cli.BoolFlag{
				Name:  "demo",
				Usage: "Run an unauthenticated demo analysis (no credits used)",
			},
		),
		Action: analyzeAction,
	}
}

// ResumeCommand returns the resume command.
func ResumeCommand() *cli.Command {
	return &cli.Command{
		Name:   "resume",
		Usage:  "Reattach to an analysis that is still running",
		Flags:  SessionFlags(),
		Action: resumeAction,
	}
}

func analyzeAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("analyze requires exactly one TICKER argument", exitUsage)
	}

	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := e.newController(ctx)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = ctrl.Close() }()

	start := ctrl.Start
	if c.Bool("demo") {
		start = ctrl.StartDemo
	}
	if err := start(ctx, c.Args().First()); err != nil {
		return startFailure(ctrl, err)
	}
	return e.follow(ctx, c, ctrl)
}

func resumeAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl, err := e.newController(ctx)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = ctrl.Close() }()

	err = ctrl.Resume(ctx)
	if errors.Is(err, session.ErrNoActiveRun) || errors.Is(err, client.ErrUnauthorized) {
		err = e.resumeFromCheckpoint(ctrl, err)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("resume: %v", err), exitError)
	}
	return e.follow(ctx, c, ctrl)
}

// resumeFromCheckpoint attaches to the run recorded by a previous process.
// The status endpoint cannot see demo runs, so only demo checkpoints are
// trusted; a stale authenticated checkpoint is discarded and cause returned.
func (e *env) resumeFromCheckpoint(ctrl *session.Controller, cause error) error {
	path, err := e.statePath()
	if err != nil {
		return cause
	}
	cp, err := state.Load(path)
	if err != nil {
		return cause
	}
	if !cp.Demo {
		_ = state.Remove(path)
		return cause
	}
	e.logger.Sugar().Infof("resuming demo analysis %s (%s) from checkpoint", cp.AnalysisID, cp.Ticker)
	return ctrl.Attach(cp.AnalysisID, cp.Ticker, cp.Demo)
}

// startFailure maps a failed Start to an exit error. The controller has
// already put the user-facing message into its state.
func startFailure(ctrl *session.Controller, err error) error {
	switch {
	case errors.Is(err, session.ErrEmptyTicker):
		return cli.Exit("ticker is required", exitUsage)
	case errors.Is(err, context.Canceled):
		return cli.Exit("analysis cancelled", exitCanceled)
	}
	if msg := ctrl.Snapshot().Error; msg != "" {
		return cli.Exit(msg, exitError)
	}
	return cli.Exit(err.Error(), exitError)
}

// follow waits for the bound run to end, keeping the checkpoint current,
// and renders the outcome.
func (e *env) follow(ctx context.Context, c *cli.Context, ctrl *session.Controller) error {
	stopRecording := e.record(ctrl)

	var final session.State
	if c.Bool("tui") {
		updates, unsubscribe := ctrl.Subscribe()
		model, err := tui.RunWatch(ctrl.Snapshot(), updates, func() { ctrl.Cancel(context.Background()) })
		unsubscribe()
		if err != nil {
			stopRecording()
			return cli.Exit(fmt.Sprintf("tui: %v", err), exitError)
		}
		final = model.State()
		if !final.Phase.IsTerminal() && final.Phase != types.PhaseIdle {
			// Quit without cancelling: leave the job running for resume.
			stopRecording()
			return cli.Exit("detached; run `arfor resume` to reattach", exitSuccess)
		}
	} else {
		progress := c.App.ErrWriter
		if c.Bool("quiet") {
			progress = io.Discard
		}
		final = waitForEnd(ctx, ctrl, newProgressPrinter(progress))
	}

	// Let archive writes, notifications, and the credit refresh land.
	ctrl.Wait()
	stopRecording()
	final.CreditsRemaining = ctrl.Snapshot().CreditsRemaining

	if err := e.renderOutcome(c, final); err != nil {
		return err
	}

	switch final.Phase {
	case types.PhaseComplete:
		return nil
	case types.PhaseError:
		return cli.Exit(final.Error, exitError)
	default:
		return cli.Exit("analysis cancelled", exitCanceled)
	}
}

// waitForEnd blocks until the run leaves running. When ctx ends first the
// run is cancelled and waitForEnd keeps waiting for the idle snapshot.
func waitForEnd(ctx context.Context, ctrl *session.Controller, progress *progressPrinter) session.State {
	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	done := ctx.Done()
	last := ctrl.Snapshot()
	for {
		select {
		case s, ok := <-updates:
			if !ok {
				return last
			}
			last = s
			progress.Observe(s)
			if s.Phase != types.PhaseRunning {
				return s
			}
		case <-done:
			done = nil
			ctrl.Cancel(context.Background())
		}
	}
}

// record mirrors controller snapshots into the checkpoint file until the
// returned func is called.
func (e *env) record(ctrl *session.Controller) func() {
	path, err := e.statePath()
	if err != nil {
		e.logger.Warn("checkpoint disabled", map[string]any{"error": err.Error()})
		return func() {}
	}
	recorder := &state.Recorder{Path: path}
	updates, unsubscribe := ctrl.Subscribe()

	var wg sync.WaitGroup
	wg.Go(func() {
		for s := range updates {
			if err := recorder.Observe(s); err != nil {
				e.logger.Warn("checkpoint write failed", map[string]any{"error": err.Error()})
			}
		}
	})
	return func() {
		unsubscribe()
		wg.Wait()
		if s := ctrl.Snapshot(); s.Phase != types.PhaseRunning {
			_ = recorder.Observe(s)
		}
	}
}

func (e *env) renderOutcome(c *cli.Context, s session.State) error {
	out := AnalysisOutput{
		AnalysisID:       s.JobID,
		Ticker:           s.Ticker,
		Demo:             s.Demo,
		Phase:            s.Phase,
		Error:            s.Error,
		Duration:         s.Duration(time.Now()),
		CreditsRemaining: s.CreditsRemaining,
		Result:           s.Result,
	}
	if c.Bool("stats") {
		snap := e.metrics.Snapshot()
		out.Stats = &snap
		if c.Bool("tui") {
			fmt.Fprintln(c.App.ErrWriter, tui.RenderStats(snap))
		}
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err := r.Render(out); err != nil {
		return cli.Exit(fmt.Sprintf("render: %v", err), exitError)
	}
	return nil
}
