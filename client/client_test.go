package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/arfor/iox"
)

func newTestClient(t *testing.T, ts *httptest.Server, tokens TokenSource) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: ts.URL + "/api", Tokens: tokens, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(iox.CloseFunc(c))
	return c
}

func TestNew_RejectsBadScheme(t *testing.T) {
	if _, err := New(Config{BaseURL: "ftp://example.com"}); err == nil {
		t.Fatal("expected error for ftp base URL")
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.StreamURL("abc"); got != DefaultBaseURL+"/analyze/abc/stream" {
		t.Errorf("unexpected stream URL %q", got)
	}
}

func TestStartAnalysis_Success(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer tok, got %q", got)
		}
		if r.Header.Get(RequestIDHeader) == "" {
			t.Error("expected request ID header")
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["ticker"] != "NVDA" {
			t.Errorf("expected ticker NVDA, got %q", body["ticker"])
		}
		_, _ = io.WriteString(w, `{"analysis_id":"abc","credits_remaining":4}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	resp, err := c.StartAnalysis(t.Context(), "NVDA")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.AnalysisID != "abc" {
		t.Errorf("expected abc, got %q", resp.AnalysisID)
	}
	if resp.CreditsRemaining == nil || *resp.CreditsRemaining != 4 {
		t.Errorf("expected 4 credits remaining, got %v", resp.CreditsRemaining)
	}
}

func TestStartDemo_NoAuthorization(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/analyze/demo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("demo must not send credentials, got %q", got)
		}
		_, _ = io.WriteString(w, `{"analysis_id":"demo-1"}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	resp, err := c.StartDemo(t.Context(), "AAPL")
	if err != nil {
		t.Fatalf("start demo: %v", err)
	}
	if resp.AnalysisID != "demo-1" {
		t.Errorf("expected demo-1, got %q", resp.AnalysisID)
	}
}

func TestStartAnalysis_MissingID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, nil)
	if _, err := c.StartAnalysis(t.Context(), "NVDA"); err == nil {
		t.Fatal("expected error when analysis_id is missing")
	}
}

func TestStartAnalysis_PaymentRequired(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"detail":"No credits remaining. Purchase more to continue."}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	_, err := c.StartAnalysis(t.Context(), "NVDA")
	if !errors.Is(err, ErrNoCredits) {
		t.Fatalf("expected ErrNoCredits, got %v", err)
	}
	if got := UserMessage(err, "fallback"); got != "No credits remaining. Purchase more to continue." {
		t.Errorf("expected server message verbatim, got %q", got)
	}
}

func TestStartAnalysis_Conflict(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"detail":"active"}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	_, err := c.StartAnalysis(t.Context(), "NVDA")
	if !errors.Is(err, ErrAnalysisActive) {
		t.Fatalf("expected ErrAnalysisActive, got %v", err)
	}
	if got := UserMessage(err, "fallback"); got != "An analysis is already in progress" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestUserMessage_Fallback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "oops")
	}))
	defer ts.Close()

	c := newTestClient(t, ts, nil)
	_, err := c.StartDemo(t.Context(), "NVDA")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := UserMessage(err, "Failed to start analysis"); got != "Failed to start analysis" {
		t.Errorf("expected fallback, got %q", got)
	}
	if got := UserMessage(errors.New("dial tcp: refused"), "fallback"); got != "fallback" {
		t.Errorf("expected fallback for transport error, got %q", got)
	}
}

func TestParseDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string", `{"detail":"bad ticker"}`, "bad ticker"},
		{"validation list", `{"detail":[{"msg":"field required"},{"msg":"too long"}]}`, "field required; too long"},
		{"error field", `{"error":"rate limited"}`, "rate limited"},
		{"not json", `<html>`, ""},
		{"empty", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseDetail([]byte(tt.body)); got != tt.want {
				t.Errorf("parseDetail(%s) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

// rotatingTokens issues "old" until refreshed, then "new".
type rotatingTokens struct {
	refreshes atomic.Int32
	fail      bool
}

func (r *rotatingTokens) Token(context.Context) (string, error) {
	if r.refreshes.Load() > 0 {
		return "new", nil
	}
	return "old", nil
}

func (r *rotatingTokens) Refresh(context.Context) (string, error) {
	r.refreshes.Add(1)
	if r.fail {
		return "", errors.New("session expired")
	}
	return "new", nil
}

func TestDo_RefreshesOnceOn401(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		if r.Header.Get("Authorization") != "Bearer new" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"credits_remaining":7,"tier":"free","total_analyses":2}`)
	}))
	defer ts.Close()

	tokens := &rotatingTokens{}
	c := newTestClient(t, ts, tokens)
	profile, err := c.Profile(t.Context())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.CreditsRemaining != 7 {
		t.Errorf("expected 7 credits, got %d", profile.CreditsRemaining)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if got := tokens.refreshes.Load(); got != 1 {
		t.Errorf("expected 1 refresh, got %d", got)
	}
}

func TestDo_SecondUnauthorizedSurfaces(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid token"}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	_, err := c.Profile(t.Context())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", got)
	}
}

func TestDo_RefreshFailureSurfacesUnauthorized(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, &rotatingTokens{fail: true})
	_, err := c.Profile(t.Context())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("expected no retry after failed refresh, got %d attempts", got)
	}
}

func TestDo_NoRefreshForAnonymousCalls(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	tokens := &rotatingTokens{}
	c := newTestClient(t, ts, tokens)
	if _, err := c.SearchTickers(t.Context(), "AAPL", 5); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if tokens.refreshes.Load() != 0 {
		t.Error("anonymous calls must not refresh credentials")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestDo_ContextCancelAborts(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	c := newTestClient(t, ts, nil)
	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.SearchTickers(ctx, "AAP", 5)
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request did not abort")
	}
}

func TestSearchTickers_QueryAndShapes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tickers/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q := r.URL.Query().Get("q"); q != "AAPL" {
			t.Errorf("expected q=AAPL, got %q", q)
		}
		if l := r.URL.Query().Get("limit"); l != "8" {
			t.Errorf("expected limit=8, got %q", l)
		}
		_, _ = io.WriteString(w, `{"tickers":[{"ticker":"AAPL","name":"Apple Inc."}]}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, nil)
	got, err := c.SearchTickers(t.Context(), "AAPL", 8)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Ticker != "AAPL" || got[0].Name != "Apple Inc." {
		t.Errorf("unexpected results %+v", got)
	}
}

func TestCancelAnalysis_EscapesID(t *testing.T) {
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	if err := c.CancelAnalysis(t.Context(), "a/b"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if path != "/api/analyze/a%2Fb/cancel" {
		t.Errorf("unexpected path %q", path)
	}
}

func TestGetAnalysis_EscapesID(t *testing.T) {
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.EscapedPath()
		_, _ = io.WriteString(w, `{"id":"a/b","ticker":"NVDA","status":"complete","created_at":"2026-01-02T03:04:05Z"}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	if _, err := c.GetAnalysis(t.Context(), "a/b"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if path != "/api/user/analyses/a%2Fb" {
		t.Errorf("unexpected path %q", path)
	}
}

func TestStreamURL_EscapesID(t *testing.T) {
	c, err := New(Config{BaseURL: "http://example.com/api"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.StreamURL("a/b c"); got != "http://example.com/api/analyze/a%2Fb%20c/stream" {
		t.Errorf("unexpected stream URL %q", got)
	}
}

func TestAuthorize_RefreshRereadsTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("old\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := New(Config{Tokens: &FileTokenSource{Path: path}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	authorize := func(refresh bool) string {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if err := c.Authorize(t.Context(), req, refresh); err != nil {
			t.Fatalf("authorize: %v", err)
		}
		return req.Header.Get("Authorization")
	}

	if got := authorize(false); got != "Bearer old" {
		t.Fatalf("got %q", got)
	}
	if err := os.WriteFile(path, []byte("new\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := authorize(false); got != "Bearer old" {
		t.Errorf("cached credential should be reused, got %q", got)
	}
	if got := authorize(true); got != "Bearer new" {
		t.Errorf("refresh should re-read the file, got %q", got)
	}
}

func TestListAndGetAnalyses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/user/analyses":
			if r.URL.Query().Get("limit") != "3" {
				t.Errorf("expected limit=3, got %q", r.URL.Query().Get("limit"))
			}
			_, _ = io.WriteString(w, `{"analyses":[{"id":"a1","ticker":"NVDA","status":"complete","created_at":"2026-01-02T03:04:05Z"}]}`)
		case "/api/user/analyses/a1":
			_, _ = io.WriteString(w, `{"id":"a1","ticker":"NVDA","status":"complete","created_at":"2026-01-02T03:04:05Z",`+
				`"result":{"ticker":"NVDA","filepath":"reports/nvda.md","sections":{"deep_dive":"d","synthesis":"s"},"persona_verdicts":[]}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	list, err := c.ListAnalyses(t.Context(), 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a1" {
		t.Fatalf("unexpected list %+v", list)
	}

	rec, err := c.GetAnalysis(t.Context(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Result == nil || rec.Result.Ticker != "NVDA" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Result.Sections["primary"] != "d" || rec.Result.Sections["summary"] != "s" {
		t.Errorf("expected normalized sections, got %v", rec.Result.Sections)
	}

	if _, err := c.GetAnalysis(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["pack_id"] != "pack_10" {
			t.Errorf("expected pack_10, got %q", body["pack_id"])
		}
		_, _ = io.WriteString(w, `{"checkout_url":"https://pay.example/s/1"}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, StaticToken("tok"))
	got, err := c.CreateCheckoutSession(t.Context(), "pack_10")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if got != "https://pay.example/s/1" {
		t.Errorf("unexpected URL %q", got)
	}
}

func TestFileTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	src := &FileTokenSource{Path: path}
	tok, err := src.Token(t.Context())
	if err != nil || tok != "first" {
		t.Fatalf("token = %q, %v", tok, err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if tok, _ := src.Token(t.Context()); tok != "first" {
		t.Errorf("expected cached token, got %q", tok)
	}
	if tok, err := src.Refresh(t.Context()); err != nil || tok != "second" {
		t.Errorf("refresh = %q, %v", tok, err)
	}

	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Refresh(t.Context()); err == nil {
		t.Error("expected error for empty token file")
	}
}
