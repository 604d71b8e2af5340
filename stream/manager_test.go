package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/goleak"

	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn lets a test drive handler callbacks directly.
type fakeConn struct {
	jobID  string
	h      Handler
	closed atomic.Bool
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeTransport) Connect(_ context.Context, jobID string, h Handler) (Conn, error) {
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{jobID: jobID, h: h}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *fakeTransport) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

type delivered struct {
	jobID string
	event types.Event
}

type recordingSink struct {
	mu     sync.Mutex
	events []delivered
	fails  []string
	// onDeliver runs inside Deliver, for asserting state at dispatch time.
	onDeliver func(jobID string, e types.Event)
}

func (s *recordingSink) Deliver(jobID string, e types.Event) {
	if s.onDeliver != nil {
		s.onDeliver(jobID, e)
	}
	s.mu.Lock()
	s.events = append(s.events, delivered{jobID, e})
	s.mu.Unlock()
}

func (s *recordingSink) Fail(_ string, message string) {
	s.mu.Lock()
	s.fails = append(s.fails, message)
	s.mu.Unlock()
}

func (s *recordingSink) snapshot() ([]delivered, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivered(nil), s.events...), append([]string(nil), s.fails...)
}

func newTestManager(t *testing.T) (*Manager, *fakeTransport, *recordingSink, *metrics.Collector) {
	t.Helper()
	transport := &fakeTransport{}
	sink := &recordingSink{}
	collector := metrics.NewCollector()
	m, err := NewManager(Config{Transport: transport, Sink: sink, Metrics: collector})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m, transport, sink, collector
}

var (
	keepalive = []byte(`{"kind":"keepalive"}`)
	garbage   = []byte(`{"kind":`)
	complete  = []byte(`{"kind":"analysis_complete","result":{"ticker":"NVDA"}}`)
)

func TestManager_TransportErrorLimit(t *testing.T) {
	m, transport, sink, collector := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()
	boom := errors.New("connection reset")

	for range DefaultMaxTransportErrors - 1 {
		conn.h.OnError(boom)
	}
	if _, fails := sink.snapshot(); len(fails) != 0 {
		t.Fatalf("expected no failure after 4 errors, got %v", fails)
	}
	if conn.closed.Load() {
		t.Fatal("connection closed too early")
	}

	conn.h.OnError(boom)
	_, fails := sink.snapshot()
	if len(fails) != 1 || fails[0] != "Lost connection to server after 5 retries" {
		t.Fatalf("expected one transport failure, got %v", fails)
	}
	if !conn.closed.Load() {
		t.Error("connection should be closed after giving up")
	}
	if _, ok := m.Current(); ok {
		t.Error("manager should be unbound after giving up")
	}

	// Further callbacks are ignored.
	conn.h.OnError(boom)
	if _, fails := sink.snapshot(); len(fails) != 1 {
		t.Errorf("expected failure reported once, got %d", len(fails))
	}
	snap := collector.Snapshot()
	if snap.TransportErrors != 5 || snap.StreamGiveUps != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestManager_MessageResetsTransportErrors(t *testing.T) {
	m, transport, sink, _ := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()
	boom := errors.New("drop")

	for range 4 {
		conn.h.OnError(boom)
	}
	conn.h.OnMessage(keepalive)
	conn.h.OnError(boom)
	if _, fails := sink.snapshot(); len(fails) != 0 {
		t.Fatalf("single error after reset must not fail, got %v", fails)
	}

	// Four more make five consecutive.
	for range 4 {
		conn.h.OnError(boom)
	}
	if _, fails := sink.snapshot(); len(fails) != 1 {
		t.Fatalf("expected failure after 5 consecutive errors, got %v", fails)
	}
}

func TestManager_OpenResetsCounters(t *testing.T) {
	m, transport, sink, _ := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()

	for range 4 {
		conn.h.OnError(errors.New("drop"))
	}
	conn.h.OnMessage(garbage)
	conn.h.OnMessage(garbage)
	conn.h.OnOpen()
	conn.h.OnError(errors.New("drop"))
	conn.h.OnMessage(garbage)

	if _, fails := sink.snapshot(); len(fails) != 0 {
		t.Fatalf("reconnect should reset both counters, got %v", fails)
	}
}

func TestManager_ParseFailureLimit(t *testing.T) {
	m, transport, sink, collector := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()

	conn.h.OnMessage(garbage)
	conn.h.OnMessage(garbage)
	if _, fails := sink.snapshot(); len(fails) != 0 {
		t.Fatalf("expected no failure after 2 parse errors, got %v", fails)
	}
	conn.h.OnMessage(garbage)

	_, fails := sink.snapshot()
	if len(fails) != 1 || fails[0] != ParseFailureMessage {
		t.Fatalf("expected parse failure message, got %v", fails)
	}
	if !conn.closed.Load() {
		t.Error("connection should be closed")
	}
	if got := collector.Snapshot().ParseFailures; got != 3 {
		t.Errorf("expected 3 parse failures, got %d", got)
	}
}

func TestManager_ParseSuccessResetsCounter(t *testing.T) {
	m, transport, sink, _ := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()

	conn.h.OnMessage(garbage)
	conn.h.OnMessage(garbage)
	conn.h.OnMessage([]byte(`{"kind":"stage_update","stage":"Stage 1","status":"running"}`))
	conn.h.OnMessage(garbage)
	conn.h.OnMessage(garbage)

	events, fails := sink.snapshot()
	if len(fails) != 0 {
		t.Fatalf("expected no failure, got %v", fails)
	}
	if len(events) != 1 {
		t.Fatalf("expected the stage update delivered, got %d events", len(events))
	}
}

func TestManager_ParseSuccessResetsTransportErrors(t *testing.T) {
	m, transport, sink, _ := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()

	for range 4 {
		conn.h.OnError(errors.New("drop"))
	}
	conn.h.OnMessage([]byte(`{"kind":"section_ready","section":"primary","content":"x"}`))
	conn.h.OnError(errors.New("drop"))
	if _, fails := sink.snapshot(); len(fails) != 0 {
		t.Fatalf("expected no failure, got %v", fails)
	}
}

func TestManager_KeepaliveNotDelivered(t *testing.T) {
	m, transport, sink, collector := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	transport.last().h.OnMessage(keepalive)

	if events, _ := sink.snapshot(); len(events) != 0 {
		t.Errorf("keepalive should not reach the sink, got %v", events)
	}
	if got := collector.Snapshot().EventsByKind["keepalive"]; got != 1 {
		t.Errorf("expected keepalive counted, got %d", got)
	}
}

func TestManager_TerminalClosesBeforeDispatch(t *testing.T) {
	m, transport, sink, _ := newTestManager(t)
	var conn *fakeConn
	sink.onDeliver = func(_ string, e types.Event) {
		if !types.IsTerminal(e) {
			return
		}
		if !conn.closed.Load() {
			t.Error("connection must be closed before the terminal event is dispatched")
		}
		if _, ok := m.Current(); ok {
			t.Error("manager must be unbound before the terminal event is dispatched")
		}
	}

	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn = transport.last()
	conn.h.OnMessage(complete)

	// Anything after the terminal event is dropped.
	conn.h.OnMessage([]byte(`{"kind":"analysis_error","detail":"late"}`))
	for range DefaultMaxTransportErrors {
		conn.h.OnError(errors.New("drop"))
	}

	events, fails := sink.snapshot()
	if len(events) != 1 || events[0].event.Kind() != types.KindAnalysisComplete {
		t.Fatalf("expected only the completion, got %v", events)
	}
	if len(fails) != 0 {
		t.Errorf("expected no failures after terminal event, got %v", fails)
	}
}

func TestManager_RebindDropsOldCallbacks(t *testing.T) {
	m, transport, sink, collector := newTestManager(t)
	if err := m.Bind(t.Context(), "old"); err != nil {
		t.Fatalf("bind old: %v", err)
	}
	oldConn := transport.last()
	oldConn.h.OnMessage(garbage)
	oldConn.h.OnMessage(garbage)

	if err := m.Bind(t.Context(), "new"); err != nil {
		t.Fatalf("bind new: %v", err)
	}
	newConn := transport.last()

	if !oldConn.closed.Load() {
		t.Error("old connection should be closed on rebind")
	}
	if job, _ := m.Current(); job != "new" {
		t.Errorf("expected new binding, got %q", job)
	}

	oldConn.h.OnMessage([]byte(`{"kind":"stage_update","stage":"Stage 1","status":"running"}`))
	oldConn.h.OnMessage(complete)

	// Fresh counters: two failures are tolerated on the new binding.
	newConn.h.OnMessage(garbage)
	newConn.h.OnMessage(garbage)
	newConn.h.OnMessage([]byte(`{"kind":"stage_update","stage":"Stage 2","status":"running"}`))

	events, fails := sink.snapshot()
	if len(fails) != 0 {
		t.Fatalf("expected no failures, got %v", fails)
	}
	if len(events) != 1 || events[0].jobID != "new" {
		t.Fatalf("expected only the new binding's event, got %v", events)
	}
	if got := collector.Snapshot().StreamBinds; got != 2 {
		t.Errorf("expected 2 binds, got %d", got)
	}
}

func TestManager_ReleaseJob(t *testing.T) {
	m, transport, _, _ := newTestManager(t)
	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	conn := transport.last()

	m.ReleaseJob("other")
	if conn.closed.Load() {
		t.Fatal("releasing a different job must not close the binding")
	}
	m.ReleaseJob("abc")
	if !conn.closed.Load() {
		t.Fatal("expected binding closed")
	}
	m.Release() // no-op when unbound
}

func TestManager_ConnectError(t *testing.T) {
	m, transport, _, _ := newTestManager(t)
	transport.err = errors.New("no route")
	if err := m.Bind(t.Context(), "abc"); err == nil {
		t.Fatal("expected bind error")
	}
	if _, ok := m.Current(); ok {
		t.Error("failed bind must leave the manager unbound")
	}
}

func TestManager_ClosedRejectsBind(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Bind(t.Context(), "abc"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// syncTransport delivers a terminal event from inside Connect.
type syncTransport struct{ conn *fakeConn }

func (s *syncTransport) Connect(_ context.Context, jobID string, h Handler) (Conn, error) {
	s.conn = &fakeConn{jobID: jobID, h: h}
	h.OnOpen()
	h.OnMessage(complete)
	return s.conn, nil
}

func TestManager_TerminalDuringConnect(t *testing.T) {
	transport := &syncTransport{}
	sink := &recordingSink{}
	m, err := NewManager(Config{Transport: transport, Sink: sink})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	defer func() { _ = m.Close() }()

	if err := m.Bind(t.Context(), "abc"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if !transport.conn.closed.Load() {
		t.Error("connection returned after a terminal event must be closed")
	}
	if _, ok := m.Current(); ok {
		t.Error("manager should be unbound")
	}
	if events, _ := sink.snapshot(); len(events) != 1 {
		t.Errorf("expected the completion delivered, got %d", len(events))
	}
}

func TestNewManager_Validation(t *testing.T) {
	if _, err := NewManager(Config{Sink: &recordingSink{}}); err == nil {
		t.Error("expected error without transport")
	}
	if _, err := NewManager(Config{Transport: &fakeTransport{}}); err == nil {
		t.Error("expected error without sink")
	}
}
