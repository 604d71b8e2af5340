package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pithecene-io/arfor/iox"
	"github.com/pithecene-io/arfor/log"
)

// DefaultRetryDelay is the reconnect delay used when neither the config nor
// the server specifies one.
const DefaultRetryDelay = 3 * time.Second

// ErrStreamEnded is reported through OnError when the server closes the
// body. The connection is retried like any other drop.
var ErrStreamEnded = errors.New("stream ended")

// Authorizer attaches credentials to a stream request. refresh is true
// when the server rejected the previous credential.
type Authorizer func(ctx context.Context, req *http.Request, refresh bool) error

// EventSourceConfig configures the HTTP transport.
type EventSourceConfig struct {
	// URL maps a job ID to its stream endpoint.
	URL func(jobID string) string
	// Client performs requests. It must not set a total timeout.
	// Default: a client with no timeout.
	Client *http.Client
	// Authorize optionally attaches credentials.
	Authorize Authorizer
	// RetryDelay is the reconnect delay (default 3s). A server retry field
	// overrides it.
	RetryDelay time.Duration
	// Logger is optional.
	Logger *log.Logger
}

// EventSource is an auto-reconnecting HTTP server-push transport.
type EventSource struct {
	config EventSourceConfig
	client *http.Client
}

// NewEventSource creates an HTTP transport.
func NewEventSource(cfg EventSourceConfig) (*EventSource, error) {
	if cfg.URL == nil {
		return nil, errors.New("stream: URL mapping is required")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &EventSource{config: cfg, client: client}, nil
}

// Connect implements Transport.
func (s *EventSource) Connect(ctx context.Context, jobID string, h Handler) (Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	conn := &eventSourceConn{
		source: s,
		url:    s.config.URL(jobID),
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
		retry:  s.config.RetryDelay,
	}
	go conn.run(ctx, h)
	return conn, nil
}

type eventSourceConn struct {
	source *EventSource
	url    string
	jobID  string
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the run goroutine.
	retry       time.Duration
	lastEventID string

	closeOnce sync.Once
}

// Close stops the connection without waiting for the reader to exit.
func (c *eventSourceConn) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// Done is closed once the reader goroutine has exited.
func (c *eventSourceConn) Done() <-chan struct{} {
	return c.done
}

func (c *eventSourceConn) run(ctx context.Context, h Handler) {
	defer close(c.done)
	logger := c.source.config.Logger

	for {
		err := c.once(ctx, h)
		if ctx.Err() != nil {
			return
		}
		logger.Debug("stream dropped", map[string]any{
			"job_id": c.jobID,
			"error":  err.Error(),
			"retry":  c.retry.String(),
		})
		h.fail(err)
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(c.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// once runs a single connection attempt to completion. It always returns a
// non-nil error describing why the attempt ended. A 401 refreshes the
// credential and retries once within the same attempt.
func (c *eventSourceConn) once(ctx context.Context, h Handler) error {
	resp, err := c.connect(ctx, false)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.source.config.Authorize != nil {
		iox.DrainClose(resp.Body)
		if resp, err = c.connect(ctx, true); err != nil {
			return err
		}
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	h.open()
	return c.read(ctx, resp.Body, h)
}

func (c *eventSourceConn) connect(ctx context.Context, refresh bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	if auth := c.source.config.Authorize; auth != nil {
		if err := auth(ctx, req, refresh); err != nil {
			return nil, fmt.Errorf("stream: authorize: %w", err)
		}
	}

	resp, err := c.source.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream: connect: %w", err)
	}
	return resp, nil
}

func (c *eventSourceConn) read(ctx context.Context, body io.Reader, h Handler) error {
	sc := NewScanner(body)
	for sc.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.message(sc.Message().Data)
		if r := sc.Retry(); r > 0 {
			c.retry = r
		}
	}
	if id := sc.LastEventID(); id != "" {
		c.lastEventID = id
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("stream: read: %w", err)
	}
	return ErrStreamEnded
}
