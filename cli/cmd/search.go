package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/cli/render"
	"github.com/pithecene-io/arfor/search"
)

// settleTimeout bounds how long search waits for the final lookup.
const settleTimeout = 30 * time.Second

// SearchCommand returns the search command.
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Look up tickers by symbol or company name",
		ArgsUsage: "QUERY",
		Flags: append(OutputFlags(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of matches (default search.limit or 8)",
			},
			&cli.DurationFlag{
				Name:  "debounce",
				Usage: "Delay before a query is sent (default search.debounce or 250ms)",
			},
			&cli.BoolFlag{
				Name:    "interactive",
				Aliases: []string{"i"},
				Usage:   "Read queries line by line from stdin and print matches as they settle",
			},
		),
		Action: searchAction,
	}
}

func searchAction(c *cli.Context) error {
	interactive := c.Bool("interactive")
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if !interactive && query == "" {
		return cli.Exit("search requires a QUERY argument", exitUsage)
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

	limit := e.cfg.Search.Limit
	if c.IsSet("limit") {
		limit = c.Int("limit")
	}
	debounce := e.cfg.Search.Debounce.Duration
	if c.IsSet("debounce") {
		debounce = c.Duration("debounce")
	}

	updates := make(chan search.Update, 1)
	s, err := search.New(search.Config{
		Lookup:   e.api,
		Debounce: debounce,
		Limit:    limit,
		OnChange: func(u search.Update) { latestUpdate(updates, u) },
		Logger:   e.logger,
		Metrics:  e.metrics,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = s.Close() }()

	if !interactive {
		s.Search(query)
		u, ok := awaitSettled(updates, query)
		if !ok {
			return cli.Exit("search timed out", exitError)
		}
		return r.Render(u.Results)
	}

	return interactiveSearch(c.App.Reader, s, updates, r)
}

// interactiveSearch feeds input lines to the searcher as if typed and
// prints each result set that settles. It returns once the last line's
// lookup has settled.
func interactiveSearch(in io.Reader, s *search.Searcher, updates <-chan search.Update, r *render.Renderer) error {
	final := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Go(func() { printSettled(updates, final, r) })

	scanner := bufio.NewScanner(in)
	last := ""
	for scanner.Scan() {
		last = strings.TrimSpace(scanner.Text())
		s.Search(last)
	}
	final <- last
	wg.Wait()

	if err := scanner.Err(); err != nil {
		return cli.Exit(fmt.Sprintf("read stdin: %v", err), exitError)
	}
	return nil
}

func printSettled(updates <-chan search.Update, final <-chan string, r *render.Renderer) {
	var (
		rendered string
		want     string
		waiting  bool
		timeout  <-chan time.Time
	)
	for {
		select {
		case u := <-updates:
			if u.Loading || u.Query == "" {
				continue
			}
			_ = r.Render(u.Results)
			rendered = u.Query
			if waiting && u.Query == want {
				return
			}
		case q := <-final:
			if q == "" || q == rendered {
				return
			}
			want, waiting = q, true
			timeout = time.After(settleTimeout)
		case <-timeout:
			return
		}
	}
}

// latestUpdate replaces any unread update with u. OnChange calls are
// serialized, so the drain and send cannot interleave.
func latestUpdate(ch chan search.Update, u search.Update) {
	select {
	case <-ch:
	default:
	}
	ch <- u
}

// awaitSettled waits for a non-loading update for query.
func awaitSettled(updates <-chan search.Update, query string) (search.Update, bool) {
	timeout := time.NewTimer(settleTimeout)
	defer timeout.Stop()
	for {
		select {
		case u := <-updates:
			if u.Query == query && !u.Loading {
				return u, true
			}
		case <-timeout.C:
			return search.Update{}, false
		}
	}
}
