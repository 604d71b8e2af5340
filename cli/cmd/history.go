package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/archive"
	"github.com/pithecene-io/arfor/cli/render"
)

// HistoryCommand returns the history command and its subcommands.
func HistoryCommand() *cli.Command {
	archiveFlag := &cli.BoolFlag{
		Name:  "archive",
		Usage: "Read from the local result archive instead of the server",
	}
	return &cli.Command{
		Name:  "history",
		Usage: "Browse past analyses",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent analyses",
				Flags: append(OutputFlags(),
					archiveFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of entries",
						Value: 20,
					},
					&cli.StringFlag{
						Name:  "ticker",
						Usage: "Only show this ticker (archive only)",
					},
				),
				Action: historyListAction,
			},
			{
				Name:      "show",
				Usage:     "Show one analysis with its result",
				ArgsUsage: "ANALYSIS_ID",
				Flags:     append(OutputFlags(), archiveFlag),
				Action:    historyShowAction,
			},
		},
	}
}

func historyListAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	if !c.Bool("archive") {
		if c.IsSet("ticker") {
			return cli.Exit("--ticker requires --archive", exitUsage)
		}
		analyses, err := e.api.ListAnalyses(c.Context, c.Int("limit"))
		if err != nil {
			return apiFailure("list analyses", err)
		}
		return r.Render(analyses)
	}

	arc, err := e.requireArchive(c)
	if err != nil {
		return err
	}
	entries, err := arc.List(c.Context, archive.Filter{Ticker: c.String("ticker"), Limit: c.Int("limit")})
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	return r.Render(entries)
}

func historyShowAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("history show requires exactly one ANALYSIS_ID argument", exitUsage)
	}
	id := c.Args().First()

	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.close()

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	if !c.Bool("archive") {
		record, err := e.api.GetAnalysis(c.Context, id)
		if err != nil {
			return apiFailure("get analysis", err)
		}
		return r.Render(record)
	}

	arc, err := e.requireArchive(c)
	if err != nil {
		return err
	}
	saved, err := arc.Load(c.Context, id)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	return r.Render(saved)
}

func (e *env) requireArchive(c *cli.Context) (*archive.Archive, error) {
	arc, err := e.openArchive(c.Context)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	if arc == nil {
		return nil, cli.Exit(errNoArchive.Error(), exitUsage)
	}
	return arc, nil
}
