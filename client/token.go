package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// TokenSource supplies the bearer credential for authenticated requests.
type TokenSource interface {
	// Token returns the current credential.
	Token(ctx context.Context) (string, error)
	// Refresh obtains a new credential after the server rejected the
	// current one.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential. Refresh returns the same value, so a
// rejected static token surfaces as ErrUnauthorized after one retry.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Refresh implements TokenSource.
func (t StaticToken) Refresh(context.Context) (string, error) { return string(t), nil }

// TokenSourceFunc adapts a function to TokenSource.
// refresh is true when the previous credential was rejected.
type TokenSourceFunc func(ctx context.Context, refresh bool) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx, false) }

// Refresh implements TokenSource.
func (f TokenSourceFunc) Refresh(ctx context.Context) (string, error) { return f(ctx, true) }

// FileTokenSource reads the credential from a file that an external login
// helper keeps current. Refresh re-reads the file.
type FileTokenSource struct {
	Path string

	mu     sync.Mutex
	cached string
}

// Token implements TokenSource. The file is read once and cached.
func (f *FileTokenSource) Token(ctx context.Context) (string, error) {
	f.mu.Lock()
	cached := f.cached
	f.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	return f.Refresh(ctx)
}

// Refresh implements TokenSource.
func (f *FileTokenSource) Refresh(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", errors.New("token file is empty")
	}
	f.mu.Lock()
	f.cached = token
	f.mu.Unlock()
	return token, nil
}
