// Package client implements the arfor REST API client.
//
// Every call takes a context; cancelling it aborts the request. Authenticated
// calls attach a bearer credential and, on a 401, refresh it once and retry
// exactly once before surfacing the failure.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/arfor/iox"
	"github.com/pithecene-io/arfor/types"
)

// DefaultBaseURL is the API root used when none is configured.
const DefaultBaseURL = "http://localhost:8000/api"

// DefaultTimeout is the default per-request timeout. It does not apply to
// stream connections, which are owned by the stream package.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader carries a per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Config configures the API client.
type Config struct {
	// BaseURL is the API root, e.g. https://arfor.example/api (default DefaultBaseURL).
	BaseURL string
	// Tokens supplies bearer credentials. Nil means every call is anonymous
	// and authenticated endpoints will fail with ErrUnauthorized.
	Tokens TokenSource
	// Timeout is the per-request timeout (default 30s).
	Timeout time.Duration
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// HTTPClient overrides the underlying client (for testing).
	HTTPClient *http.Client
}

// Client calls the arfor REST API.
type Client struct {
	config Config
	base   *url.URL
	client *http.Client
}

// New creates a client from the given config.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("client: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("client: base URL must be http or https, got %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{config: cfg, base: base, client: httpClient}, nil
}

// URL resolves an API path against the base URL. path is already escaped,
// so IDs passed through url.PathEscape reach the server unchanged.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	raw := c.base.EscapedPath() + path
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		unescaped = raw
	}
	u.Path = unescaped
	u.RawPath = raw
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Authorize attaches the bearer credential to req, if any. With refresh set
// the token source is asked for a new credential first.
func (c *Client) Authorize(ctx context.Context, req *http.Request, refresh bool) error {
	if c.config.Tokens == nil {
		return nil
	}
	fetch := c.config.Tokens.Token
	if refresh {
		fetch = c.config.Tokens.Refresh
	}
	token, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("client: credential: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// call describes one API request.
type call struct {
	method string
	path   string
	query  url.Values
	body   any
	auth   bool
}

// do performs the call and decodes a 2xx JSON response into out.
// out may be nil to ignore the body.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	var payload []byte
	if cl.body != nil {
		var err error
		payload, err = json.Marshal(cl.body)
		if err != nil {
			return fmt.Errorf("client: marshal request: %w", err)
		}
	}

	auth := cl.auth && c.config.Tokens != nil
	var token string
	if auth {
		var err error
		token, err = c.config.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("client: credential: %w", err)
		}
	}

	resp, err := c.send(ctx, cl, payload, token)
	if err != nil {
		return err
	}

	// One refresh-and-retry on credential expiry.
	if resp.StatusCode == http.StatusUnauthorized && auth {
		iox.DrainClose(resp.Body)
		refreshed, refreshErr := c.config.Tokens.Refresh(ctx)
		if refreshErr != nil {
			return errors.Join(&StatusError{Code: http.StatusUnauthorized}, fmt.Errorf("client: refresh credential: %w", refreshErr))
		}
		resp, err = c.send(ctx, cl, payload, refreshed)
		if err != nil {
			return err
		}
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Detail: parseDetail(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

// send performs a single HTTP round trip.
func (c *Client) send(ctx context.Context, cl call, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.URL(cl.path, cl.query), body)
	if err != nil {
		return nil, fmt.Errorf("client: create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "arfor/"+types.Version)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", cl.method, cl.path, err)
	}
	return resp, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
