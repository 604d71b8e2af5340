package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/arfor/adapter"
	"github.com/pithecene-io/arfor/adapter/redis"
	"github.com/pithecene-io/arfor/adapter/webhook"
	"github.com/pithecene-io/arfor/archive"
	"github.com/pithecene-io/arfor/cli/config"
	"github.com/pithecene-io/arfor/cli/state"
	"github.com/pithecene-io/arfor/cli/tui"
	"github.com/pithecene-io/arfor/client"
	"github.com/pithecene-io/arfor/log"
	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/session"
	"github.com/pithecene-io/arfor/stream"
)

// env holds what every command builds from flags and config.
type env struct {
	cfg     *config.Config
	logger  *log.Logger
	metrics *metrics.Collector
	api     *client.Client

	closers []func() error
}

// loadEnv resolves config, logging, and the API client. Failures are usage
// errors.
func loadEnv(c *cli.Context) (*env, error) {
	if c.Bool("tui") && !tui.IsTUISupported(c.Command.Name) {
		return nil, cli.Exit(fmt.Sprintf("--tui is not supported for %s", c.Command.Name), exitUsage)
	}

	cfg, err := config.Resolve(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	logger, err := log.NewLogger(log.Options{Level: firstNonEmpty(c.String("log-level"), cfg.Log.Level)})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	api, err := newClient(c, cfg)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector(),
		api:     api,
	}, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	_ = e.api.Close()
	_ = e.logger.Sync()
}

func newClient(c *cli.Context, cfg *config.Config) (*client.Client, error) {
	var tokens client.TokenSource
	switch {
	case c.String("token") != "":
		tokens = client.StaticToken(c.String("token"))
	case c.String("token-file") != "":
		tokens = &client.FileTokenSource{Path: expandHome(c.String("token-file"))}
	case cfg.API.Token != "":
		tokens = client.StaticToken(cfg.API.Token)
	case cfg.API.TokenFile != "":
		tokens = &client.FileTokenSource{Path: expandHome(cfg.API.TokenFile)}
	}

	return client.New(client.Config{
		BaseURL: firstNonEmpty(c.String("api-url"), cfg.API.BaseURL),
		Tokens:  tokens,
		Timeout: cfg.API.Timeout.Duration,
	})
}

// newController wires the stream transport, archive, and notifier into a
// session controller.
func (e *env) newController(ctx context.Context) (*session.Controller, error) {
	source, err := stream.NewEventSource(stream.EventSourceConfig{
		URL:        e.api.StreamURL,
		Authorize:  e.api.Authorize,
		RetryDelay: e.cfg.Stream.Retry.Duration,
		Logger:     e.logger.Named("eventsource"),
	})
	if err != nil {
		return nil, err
	}

	cfg := session.Config{
		API:                e.api,
		Transport:          source,
		MaxTransportErrors: e.cfg.Stream.MaxTransportErrors,
		MaxParseFailures:   e.cfg.Stream.MaxParseFailures,
		Logger:             e.logger,
		Metrics:            e.metrics,
	}

	arc, err := e.openArchive(ctx)
	if err != nil {
		return nil, err
	}
	if arc != nil {
		cfg.Archive = arc
	}

	notifier, err := e.newNotifier()
	if err != nil {
		return nil, err
	}
	if notifier != nil {
		cfg.Notifier = notifier
		e.closers = append(e.closers, notifier.Close)
	}

	return session.New(cfg)
}

// errNoArchive is returned when a command needs the archive but none is
// configured.
var errNoArchive = errors.New("no archive configured (set archive.backend and archive.path)")

// openArchive returns nil when archive.backend is unset.
func (e *env) openArchive(ctx context.Context) (*archive.Archive, error) {
	ac := e.cfg.Archive
	dataset := firstNonEmpty(ac.Dataset, archive.DefaultDataset)
	logger := e.logger.Named("archive")

	switch ac.Backend {
	case "":
		return nil, nil
	case "fs":
		return archive.NewFS(dataset, expandHome(ac.Path), logger)
	case "s3":
		bucket, prefix := archive.ParseS3Path(ac.Path)
		return archive.NewS3(ctx, dataset, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       ac.Region,
			Endpoint:     ac.Endpoint,
			UsePathStyle: ac.S3PathStyle,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", ac.Backend)
	}
}

// newNotifier returns nil when no adapter is configured.
func (e *env) newNotifier() (adapter.Adapter, error) {
	ac := e.cfg.Adapter
	retries := -1
	if ac.Retries != nil {
		retries = *ac.Retries
	}

	switch ac.Type {
	case "":
		return nil, nil
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

// statePath returns the checkpoint location.
func (e *env) statePath() (string, error) {
	if e.cfg.StateFile != "" {
		return expandHome(e.cfg.StateFile), nil
	}
	return state.DefaultPath()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
