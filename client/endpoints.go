package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pithecene-io/arfor/types"
)

// StartResponse is returned by job creation.
type StartResponse struct {
	AnalysisID string `json:"analysis_id"`
	Ticker     string `json:"ticker,omitempty"`
	// CreditsRemaining is the balance after the deduction; nil for demo runs.
	CreditsRemaining *int `json:"credits_remaining,omitempty"`
	Demo             bool `json:"demo,omitempty"`
}

type tickerRequest struct {
	Ticker string `json:"ticker"`
}

// StartAnalysis creates an authenticated analysis job.
// 402 matches ErrNoCredits and 409 matches ErrAnalysisActive.
func (c *Client) StartAnalysis(ctx context.Context, ticker string) (*StartResponse, error) {
	return c.start(ctx, "/analyze", ticker, true)
}

// StartDemo creates an unauthenticated demo job. It never touches credits.
func (c *Client) StartDemo(ctx context.Context, ticker string) (*StartResponse, error) {
	return c.start(ctx, "/analyze/demo", ticker, false)
}

func (c *Client) start(ctx context.Context, path, ticker string, auth bool) (*StartResponse, error) {
	var resp StartResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   path,
		body:   tickerRequest{Ticker: ticker},
		auth:   auth,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AnalysisID == "" {
		return nil, errors.New("client: job creation returned no analysis_id")
	}
	return &resp, nil
}

// CancelAnalysis asks the server to stop a job. The response body is ignored.
func (c *Client) CancelAnalysis(ctx context.Context, analysisID string) error {
	return c.do(ctx, call{
		method: http.MethodPost,
		path:   "/analyze/" + url.PathEscape(analysisID) + "/cancel",
		auth:   true,
	}, nil)
}

// AnalysisStatus reports whether a job is still running server-side.
func (c *Client) AnalysisStatus(ctx context.Context) (*types.ActiveAnalysis, error) {
	var resp types.ActiveAnalysis
	if err := c.do(ctx, call{method: http.MethodGet, path: "/analyze/status", auth: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamURL returns the server-push endpoint for a job.
func (c *Client) StreamURL(analysisID string) string {
	return c.URL("/analyze/"+url.PathEscape(analysisID)+"/stream", nil)
}

// Profile fetches the caller's credit profile.
func (c *Client) Profile(ctx context.Context) (*types.CreditProfile, error) {
	var resp types.CreditProfile
	if err := c.do(ctx, call{method: http.MethodGet, path: "/user/profile", auth: true}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAnalyses returns the most recent stored analyses.
func (c *Client) ListAnalyses(ctx context.Context, limit int) ([]types.AnalysisSummary, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Analyses []types.AnalysisSummary `json:"analyses"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/user/analyses", query: query, auth: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Analyses, nil
}

// GetAnalysis fetches one stored analysis with its full result.
func (c *Client) GetAnalysis(ctx context.Context, analysisID string) (*types.AnalysisRecord, error) {
	var resp types.AnalysisRecord
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/user/analyses/" + url.PathEscape(analysisID),
		auth:   true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchTickers returns ranked ticker matches for a free-text query.
func (c *Client) SearchTickers(ctx context.Context, query string, limit int) ([]types.TickerInfo, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Results []types.TickerInfo `json:"results"`
		Tickers []types.TickerInfo `json:"tickers"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/tickers/search", query: params}, &resp); err != nil {
		return nil, err
	}
	if resp.Results != nil {
		return resp.Results, nil
	}
	return resp.Tickers, nil
}

// CreditPacks lists purchasable credit packs.
func (c *Client) CreditPacks(ctx context.Context) ([]types.CreditPack, error) {
	var resp struct {
		Packs []types.CreditPack `json:"packs"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/checkout/packs"}, &resp); err != nil {
		return nil, err
	}
	return resp.Packs, nil
}

// CreateCheckoutSession starts a hosted checkout for a pack and returns
// the URL to send the user to.
func (c *Client) CreateCheckoutSession(ctx context.Context, packID string) (string, error) {
	var resp struct {
		CheckoutURL string `json:"checkout_url"`
	}
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/checkout/session",
		body:   map[string]string{"pack_id": packID},
		auth:   true,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.CheckoutURL == "" {
		return "", errors.New("client: checkout session returned no URL")
	}
	return resp.CheckoutURL, nil
}
