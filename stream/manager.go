package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/arfor/log"
	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/types"
)

// Default failure tolerances.
const (
	DefaultMaxTransportErrors = 5
	DefaultMaxParseFailures   = 3
)

// ParseFailureMessage is reported when the stream stops yielding parseable
// payloads. The server job is not assumed to have failed.
const ParseFailureMessage = "Lost track of analysis progress: the stream sent unreadable updates. " +
	"The result may still be completing on the server; check your history shortly."

// TransportFailureMessage returns the message reported after max
// consecutive transport errors.
func TransportFailureMessage(max int) string {
	return fmt.Sprintf("Lost connection to server after %d retries", max)
}

// Sink receives the outcome of a binding. Calls for one binding are
// serialized and arrive in server-send order. A Sink must not call back
// into the Manager synchronously.
type Sink interface {
	// Deliver hands over a parsed event. Terminal events arrive after the
	// binding has already been closed.
	Deliver(jobID string, e types.Event)
	// Fail reports that the manager gave up on the connection.
	Fail(jobID string, message string)
}

// Config configures a Manager.
type Config struct {
	Transport Transport
	Sink      Sink
	// MaxTransportErrors is the consecutive transport error limit (default 5).
	MaxTransportErrors int
	// MaxParseFailures is the consecutive parse failure limit (default 3).
	MaxParseFailures int
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Manager owns at most one live connection.
type Manager struct {
	config Config

	mu      sync.Mutex
	current *binding
	closed  bool
}

// ErrClosed is returned by Bind after Close.
var ErrClosed = errors.New("stream: manager closed")

// NewManager creates a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, errors.New("stream: transport is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("stream: sink is required")
	}
	if cfg.MaxTransportErrors <= 0 {
		cfg.MaxTransportErrors = DefaultMaxTransportErrors
	}
	if cfg.MaxParseFailures <= 0 {
		cfg.MaxParseFailures = DefaultMaxParseFailures
	}
	return &Manager{config: cfg}, nil
}

// Bind releases the current binding, if any, and connects to jobID with
// both counters at zero. Callbacks from the released binding are dropped
// from the moment Bind begins.
//
// The connection lives until it is released, reaches a terminal event,
// exceeds a failure limit, or ctx is cancelled.
func (m *Manager) Bind(ctx context.Context, jobID string) error {
	b := &binding{manager: m, jobID: jobID, logger: m.config.Logger.WithSession("", jobID, false)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	old := m.current
	m.current = b
	m.mu.Unlock()

	old.close()
	m.config.Metrics.IncStreamBind()
	b.logger.Debug("stream bound", nil)

	bctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	if b.closed {
		// Superseded before connecting.
		b.mu.Unlock()
		cancel()
		return nil
	}
	b.cancel = cancel
	b.mu.Unlock()

	conn, err := m.config.Transport.Connect(bctx, jobID, b.handler())
	if err != nil {
		b.close()
		m.detach(b)
		return fmt.Errorf("stream: connect %s: %w", jobID, err)
	}

	b.mu.Lock()
	if b.closed {
		// Released or terminated while connecting.
		b.mu.Unlock()
		return conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()
	return nil
}

// Release closes the current binding. Safe to call when unbound.
func (m *Manager) Release() {
	m.mu.Lock()
	b := m.current
	m.current = nil
	m.mu.Unlock()
	b.close()
}

// ReleaseJob closes the current binding only if it belongs to jobID.
func (m *Manager) ReleaseJob(jobID string) {
	m.mu.Lock()
	b := m.current
	if b == nil || b.jobID != jobID {
		m.mu.Unlock()
		return
	}
	m.current = nil
	m.mu.Unlock()
	b.close()
}

// Current returns the bound job ID.
func (m *Manager) Current() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.jobID, true
}

// Close releases the binding and rejects further binds.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	b := m.current
	m.current = nil
	m.mu.Unlock()
	b.close()
	return nil
}

// detach clears the current binding if it is still b.
func (m *Manager) detach(b *binding) {
	m.mu.Lock()
	if m.current == b {
		m.current = nil
	}
	m.mu.Unlock()
}

// binding is one acquisition of a connection. Once closed it never reopens
// and all later callbacks are ignored.
type binding struct {
	manager *Manager
	jobID   string
	logger  *log.Logger

	mu              sync.Mutex
	closed          bool
	conn            Conn
	cancel          context.CancelFunc
	transportErrors int
	parseFailures   int
}

func (b *binding) handler() Handler {
	return Handler{
		OnOpen:    b.onOpen,
		OnMessage: b.onMessage,
		OnError:   b.onError,
	}
}

func (b *binding) onOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.transportErrors = 0
	b.parseFailures = 0
}

func (b *binding) onMessage(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	cfg := &b.manager.config

	event, err := ParseEvent(payload)
	if err != nil {
		b.parseFailures++
		cfg.Metrics.IncParseFailure()
		b.logger.Warn("unparseable stream payload", map[string]any{
			"error":    err.Error(),
			"failures": b.parseFailures,
		})
		if b.parseFailures >= cfg.MaxParseFailures {
			b.giveUpLocked(ParseFailureMessage)
		}
		return
	}

	b.transportErrors = 0
	b.parseFailures = 0
	cfg.Metrics.IncEventReceived(string(event.Kind()))

	if event.Kind() == types.KindKeepalive {
		return
	}
	if types.IsTerminal(event) {
		b.closeLocked()
		b.manager.detach(b)
		b.logger.Debug("stream closed on terminal event", map[string]any{"kind": string(event.Kind())})
	}
	cfg.Sink.Deliver(b.jobID, event)
}

func (b *binding) onError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	cfg := &b.manager.config

	b.transportErrors++
	cfg.Metrics.IncTransportError()
	b.logger.Warn("stream transport error", map[string]any{
		"error":  err.Error(),
		"errors": b.transportErrors,
	})
	if b.transportErrors >= cfg.MaxTransportErrors {
		b.giveUpLocked(TransportFailureMessage(cfg.MaxTransportErrors))
	}
}

func (b *binding) giveUpLocked(message string) {
	b.closeLocked()
	b.manager.detach(b)
	b.manager.config.Metrics.IncStreamGiveUp()
	b.logger.Error("stream abandoned", map[string]any{"reason": message})
	b.manager.config.Sink.Fail(b.jobID, message)
}

// close is nil-safe and idempotent.
func (b *binding) close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.closeLocked()
	b.mu.Unlock()
}

func (b *binding) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true
	if b.cancel != nil {
		b.cancel()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}
