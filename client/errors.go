package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors matched by StatusError.Is.
var (
	// ErrUnauthorized indicates a 401 after the one credential refresh.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoCredits indicates a 402 from job creation.
	ErrNoCredits = errors.New("no credits remaining")
	// ErrNotFound indicates a 404.
	ErrNotFound = errors.New("not found")
	// ErrAnalysisActive indicates a 409: a run is already active server-side.
	ErrAnalysisActive = errors.New("analysis already in progress")
	// ErrRateLimited indicates a 429 (demo quota).
	ErrRateLimited = errors.New("rate limited")
)

// activeMessage is shown for 409 responses regardless of body.
const activeMessage = "An analysis is already in progress"

// StatusError is returned for non-2xx HTTP responses.
// Detail carries the server's human-readable message when one was sent.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrNoCredits:
		return e.Code == http.StatusPaymentRequired
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrAnalysisActive:
		return e.Code == http.StatusConflict
	case ErrRateLimited:
		return e.Code == http.StatusTooManyRequests
	}
	return false
}

// Message returns the text to show a user.
func (e *StatusError) Message() string {
	if e.Code == http.StatusConflict {
		return activeMessage
	}
	return e.Detail
}

// UserMessage extracts a displayable message from err, falling back to
// fallback when the server did not provide one.
func UserMessage(err error, fallback string) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if msg := statusErr.Message(); msg != "" {
			return msg
		}
	}
	return fallback
}

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// parseDetail extracts the "detail" field of an error body.
// FastAPI validation errors carry a list there; those are flattened.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			return strings.Join(msgs, "; ")
		}
	}
	return payload.Error
}
