package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/arfor/adapter"
	"github.com/pithecene-io/arfor/client"
	"github.com/pithecene-io/arfor/log"
	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/stream"
	"github.com/pithecene-io/arfor/types"
)

// Messages shown when the server gives no detail.
const (
	StartFailedMessage   = "Failed to start analysis"
	ConnectFailedMessage = "Failed to connect to the analysis stream"
)

// DefaultCancelTimeout bounds the best-effort server cancel request.
const DefaultCancelTimeout = 10 * time.Second

// DefaultSideEffectTimeout bounds archive writes and notifications.
const DefaultSideEffectTimeout = 30 * time.Second

var (
	// ErrEmptyTicker is returned by Start for a blank ticker.
	ErrEmptyTicker = errors.New("session: ticker is required")
	// ErrSuperseded is returned by Start when a later Start, Cancel, Reset,
	// or LoadSaved overtook it before the job was bound.
	ErrSuperseded = errors.New("session: run superseded")
	// ErrRunning is returned by Reset while a run is in progress.
	ErrRunning = errors.New("session: run in progress")
	// ErrNoActiveRun is returned by Resume when the server reports none.
	ErrNoActiveRun = errors.New("session: no active analysis on the server")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: controller closed")
)

// API is the subset of the REST client the controller calls.
type API interface {
	StartAnalysis(ctx context.Context, ticker string) (*client.StartResponse, error)
	StartDemo(ctx context.Context, ticker string) (*client.StartResponse, error)
	CancelAnalysis(ctx context.Context, analysisID string) error
	AnalysisStatus(ctx context.Context) (*types.ActiveAnalysis, error)
	Profile(ctx context.Context) (*types.CreditProfile, error)
}

// Archiver stores completed results.
type Archiver interface {
	Save(ctx context.Context, rec *types.SavedAnalysis) error
}

// Config configures a Controller.
type Config struct {
	API       API
	Transport stream.Transport
	// MaxTransportErrors and MaxParseFailures bound the stream; zero selects
	// the stream package defaults.
	MaxTransportErrors int
	MaxParseFailures   int
	// Archive stores completed results. Optional.
	Archive Archiver
	// Notifier publishes terminal outcomes. Optional.
	Notifier adapter.Adapter
	// CancelTimeout bounds the server cancel request (default 10s).
	CancelTimeout time.Duration
	Logger        *log.Logger
	Metrics       *metrics.Collector
	// Now overrides the clock (for testing).
	Now func() time.Time
}

// Controller owns one analysis session: its phase, stages, partial
// sections, result, and the single stream connection.
//
// Lock order: stream binding, then Controller.mu. The controller never calls
// into the stream manager while holding mu.
type Controller struct {
	config  Config
	manager *stream.Manager
	logger  *log.Logger

	// bindMu serializes stream binds so a superseded run cannot replace a
	// newer run's connection.
	bindMu sync.Mutex

	// ctx scopes the stream connection and background work.
	ctx  context.Context
	stop context.CancelFunc
	bg   sync.WaitGroup

	mu     sync.Mutex
	state  State
	run    uint64
	subs   map[int]chan State
	nextID int
	closed bool
}

// New creates an idle controller.
func New(cfg Config) (*Controller, error) {
	if cfg.API == nil {
		return nil, errors.New("session: API is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("session: stream transport is required")
	}
	if cfg.CancelTimeout <= 0 {
		cfg.CancelTimeout = DefaultCancelTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ctx, stop := context.WithCancel(context.Background())
	c := &Controller{
		config: cfg,
		logger: cfg.Logger.Named("session"),
		ctx:    ctx,
		stop:   stop,
		state:  NewState(),
		subs:   make(map[int]chan State),
	}

	manager, err := stream.NewManager(stream.Config{
		Transport:          cfg.Transport,
		Sink:               c,
		MaxTransportErrors: cfg.MaxTransportErrors,
		MaxParseFailures:   cfg.MaxParseFailures,
		Logger:             cfg.Logger.Named("stream"),
		Metrics:            cfg.Metrics,
	})
	if err != nil {
		stop()
		return nil, err
	}
	c.manager = manager
	return c, nil
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Start begins an authenticated run for ticker, superseding any current
// run. It returns once the job is created and the stream is bound, or with
// the failure that moved the session to phase error.
func (c *Controller) Start(ctx context.Context, ticker string) error {
	return c.start(ctx, ticker, false)
}

// StartDemo is Start against the unauthenticated demo endpoint. It never
// touches the credit balance.
func (c *Controller) StartDemo(ctx context.Context, ticker string) error {
	return c.start(ctx, ticker, true)
}

func (c *Controller) start(ctx context.Context, ticker string, demo bool) error {
	ticker = NormalizeTicker(ticker)
	if ticker == "" {
		return ErrEmptyTicker
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	var superseded string
	if c.state.Phase == types.PhaseRunning {
		superseded = c.state.JobID
	}
	c.run++
	run := c.run
	c.dispatchLocked(Started{Ticker: ticker, Demo: demo, At: c.config.Now()})
	c.mu.Unlock()

	// The previous run's connection goes before the new job exists.
	c.manager.Release()
	c.config.Metrics.IncRunStarted()
	logger := c.logger.WithSession(ticker, "", demo)
	logger.Info("starting analysis", nil)

	if superseded != "" {
		// The server runs one job per user; stop the old one first.
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.CancelTimeout)
		if err := c.config.API.CancelAnalysis(cancelCtx, superseded); err != nil {
			logger.Debug("cancel of superseded job failed", map[string]any{"job_id": superseded, "error": err.Error()})
		}
		cancel()
	}

	var resp *client.StartResponse
	var err error
	if demo {
		resp, err = c.config.API.StartDemo(ctx, ticker)
	} else {
		resp, err = c.config.API.StartAnalysis(ctx, ticker)
	}

	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		if err == nil {
			logger.Warn("discarding superseded job", map[string]any{"job_id": resp.AnalysisID})
			c.cancelRemote(ctx, resp.AnalysisID)
		}
		return ErrSuperseded
	}
	if err != nil {
		msg := client.UserMessage(err, StartFailedMessage)
		c.dispatchLocked(Failed{Message: msg, At: c.config.Now()})
		c.mu.Unlock()
		c.config.Metrics.IncRunFailed()
		logger.Error("job creation failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("session: start %s: %w", ticker, err)
	}
	jobID := resp.AnalysisID
	c.dispatchLocked(Bound{JobID: jobID, CreditsRemaining: resp.CreditsRemaining})
	c.mu.Unlock()

	return c.bind(run, jobID, logger.WithSession("", jobID, false))
}

// bind connects the stream for a bound run and handles the races where the
// run is superseded while connecting.
func (c *Controller) bind(run uint64, jobID string, logger *log.Logger) error {
	c.bindMu.Lock()
	defer c.bindMu.Unlock()

	c.mu.Lock()
	current := c.run == run
	c.mu.Unlock()
	if !current {
		return ErrSuperseded
	}

	if err := c.manager.Bind(c.ctx, jobID); err != nil {
		c.mu.Lock()
		current = c.run == run
		if current {
			c.dispatchLocked(Failed{JobID: jobID, Message: ConnectFailedMessage, At: c.config.Now()})
		}
		snapshot := c.state
		c.mu.Unlock()
		if current {
			c.finish(snapshot)
		}
		logger.Error("stream bind failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("session: bind %s: %w", jobID, err)
	}

	c.mu.Lock()
	current = c.run == run
	c.mu.Unlock()
	if !current {
		c.manager.ReleaseJob(jobID)
		return ErrSuperseded
	}
	logger.Info("stream bound", nil)
	return nil
}

// Resume reattaches to a run the server reports as still active.
func (c *Controller) Resume(ctx context.Context) error {
	status, err := c.config.API.AnalysisStatus(ctx)
	if err != nil {
		return fmt.Errorf("session: analysis status: %w", err)
	}
	if !status.Active || status.AnalysisID == "" {
		return ErrNoActiveRun
	}
	return c.Attach(status.AnalysisID, status.Ticker, false)
}

// Attach starts tracking an existing job without creating one. Stages
// start pending; the server replays past events on connect.
func (c *Controller) Attach(jobID, ticker string, demo bool) error {
	if jobID == "" {
		return errors.New("session: job ID is required")
	}
	ticker = NormalizeTicker(ticker)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.run++
	run := c.run
	c.dispatchLocked(Started{Ticker: ticker, Demo: demo, At: c.config.Now()})
	c.dispatchLocked(Bound{JobID: jobID})
	c.mu.Unlock()

	c.config.Metrics.IncRunStarted()
	logger := c.logger.WithSession(ticker, jobID, demo)
	logger.Info("attaching to running analysis", nil)
	return c.bind(run, jobID, logger)
}

// Cancel abandons the current run. Local state returns to idle at once;
// the server is asked to stop the job in the background and its answer is
// ignored. The ticker is kept.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()
	jobID := c.state.JobID
	wasRunning := c.state.Phase == types.PhaseRunning
	c.run++
	c.dispatchLocked(Cleared{KeepTicker: true})
	c.mu.Unlock()

	c.manager.Release()
	if wasRunning {
		c.config.Metrics.IncRunCanceled()
	}
	if jobID != "" && wasRunning {
		c.logger.WithSession("", jobID, false).Info("analysis cancelled", nil)
		c.cancelRemote(ctx, jobID)
	}
}

// cancelRemote sends a fire-and-forget cancel for jobID.
func (c *Controller) cancelRemote(ctx context.Context, jobID string) {
	ctx = context.WithoutCancel(ctx)
	c.spawn(func() {
		ctx, cancel := context.WithTimeout(ctx, c.config.CancelTimeout)
		defer cancel()
		if err := c.config.API.CancelAnalysis(ctx, jobID); err != nil {
			c.logger.Debug("server cancel failed", map[string]any{"job_id": jobID, "error": err.Error()})
		}
	})
}

// Reset clears a finished session. It does not contact the server.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state.Phase == types.PhaseRunning {
		c.mu.Unlock()
		return ErrRunning
	}
	c.run++
	c.dispatchLocked(Cleared{})
	c.mu.Unlock()

	c.manager.Release()
	return nil
}

// LoadSaved shows a stored result as a completed session without opening
// a stream. A run in progress is abandoned locally.
func (c *Controller) LoadSaved(result *types.AnalysisResult) error {
	if result == nil {
		return errors.New("session: result is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.run++
	c.dispatchLocked(Loaded{Result: result})
	c.mu.Unlock()

	c.manager.Release()
	return nil
}

// RefreshCredits fetches the credit profile and records the balance.
// Failures are logged and yield nil; the previous balance is kept.
func (c *Controller) RefreshCredits(ctx context.Context) *types.CreditProfile {
	profile, err := c.refreshCredits(ctx)
	if err != nil {
		c.logger.Debug("credit refresh failed", map[string]any{"error": err.Error()})
		return nil
	}
	return profile
}

func (c *Controller) refreshCredits(ctx context.Context) (*types.CreditProfile, error) {
	profile, err := c.config.API.Profile(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.closed {
		c.dispatchLocked(CreditsObserved{Credits: profile.CreditsRemaining})
	}
	c.mu.Unlock()
	return profile, nil
}

// CreditSource fetches profiles through the controller so every balance it
// sees is also recorded in the session state. It satisfies
// credits.Refresher.
type CreditSource struct {
	c *Controller
}

// CreditSource returns a profile fetcher bound to c.
func (c *Controller) CreditSource() CreditSource {
	return CreditSource{c: c}
}

// Profile fetches the credit profile and records the balance.
func (s CreditSource) Profile(ctx context.Context) (*types.CreditProfile, error) {
	return s.c.refreshCredits(ctx)
}

// Snapshot returns a deep copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe returns a channel that receives the latest state after every
// change. Slow readers see only the most recent state. The channel is
// closed by the returned cancel func or by Close.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	ch <- c.state.Clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Wait blocks until background work (server cancels, archive writes,
// notifications, credit refreshes) has finished.
func (c *Controller) Wait() {
	c.bg.Wait()
}

// Close releases the stream, waits for background work, and closes all
// subscriptions.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.run++
	c.mu.Unlock()

	err := c.manager.Close()
	c.bg.Wait()
	c.stop()

	c.mu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()
	return err
}

// Deliver implements stream.Sink.
func (c *Controller) Deliver(jobID string, e types.Event) {
	c.mu.Lock()
	if c.state.JobID != jobID || c.state.Phase != types.PhaseRunning {
		c.mu.Unlock()
		return
	}
	c.dispatchLocked(Received{JobID: jobID, Event: e, At: c.config.Now()})
	snapshot := c.state
	c.mu.Unlock()

	if snapshot.Phase.IsTerminal() {
		c.finish(snapshot)
	}
}

// Fail implements stream.Sink.
func (c *Controller) Fail(jobID string, message string) {
	c.mu.Lock()
	if c.state.JobID != jobID || c.state.Phase != types.PhaseRunning {
		c.mu.Unlock()
		return
	}
	c.dispatchLocked(Failed{JobID: jobID, Message: message, At: c.config.Now()})
	snapshot := c.state
	c.mu.Unlock()

	c.finish(snapshot)
}

var _ stream.Sink = (*Controller)(nil)

// dispatchLocked applies a and publishes the new state. c.mu must be held.
func (c *Controller) dispatchLocked(a Action) {
	c.state = Reduce(c.state, a)
	for _, ch := range c.subs {
		publish(ch, c.state.Clone())
	}
}

// publish replaces any unread state in ch with s.
func publish(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// spawn runs fn as tracked background work. Work is dropped once the
// controller is closed so Close can wait for a fixed set.
func (c *Controller) spawn(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.bg.Go(fn)
}

// finish runs the side effects of a run reaching a terminal phase.
// s must not be shared with c.state.
func (c *Controller) finish(s State) {
	s = s.Clone()
	logger := c.logger.WithSession(s.Ticker, s.JobID, s.Demo)
	now := c.config.Now()

	switch s.Phase {
	case types.PhaseComplete:
		c.config.Metrics.IncRunCompleted()
		logger.Info("analysis complete", map[string]any{"duration_ms": s.Duration(now).Milliseconds()})
		if !s.Demo {
			c.spawn(func() { c.RefreshCredits(c.ctx) })
		}
		if c.config.Archive != nil && s.Result != nil {
			c.spawn(func() { c.archive(s, logger) })
		}
	case types.PhaseError:
		c.config.Metrics.IncRunFailed()
		logger.Warn("analysis failed", map[string]any{"error": s.Error})
	default:
		return
	}

	if c.config.Notifier != nil && s.JobID != "" {
		event := finishedEvent(s, now)
		c.spawn(func() { c.notify(event, logger) })
	}
}

func (c *Controller) archive(s State, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(c.ctx, DefaultSideEffectTimeout)
	defer cancel()

	rec := &types.SavedAnalysis{
		AnalysisID:  s.JobID,
		Ticker:      s.Ticker,
		Demo:        s.Demo,
		StartedAt:   s.StartedAt,
		CompletedAt: s.FinishedAt,
		Result:      *s.Result,
	}
	if err := c.config.Archive.Save(ctx, rec); err != nil {
		c.config.Metrics.IncArchiveFailure()
		logger.Error("archive write failed", map[string]any{"error": err.Error()})
		return
	}
	c.config.Metrics.IncArchiveWrite()
}

func (c *Controller) notify(event *adapter.AnalysisFinishedEvent, logger *log.Logger) {
	ctx, cancel := context.WithTimeout(c.ctx, DefaultSideEffectTimeout)
	defer cancel()

	if err := c.config.Notifier.Publish(ctx, event); err != nil {
		c.config.Metrics.IncNotifyFailure()
		logger.Warn("notification failed", map[string]any{"error": err.Error()})
	}
}

func finishedEvent(s State, now time.Time) *adapter.AnalysisFinishedEvent {
	event := &adapter.AnalysisFinishedEvent{
		EventType:  adapter.EventTypeAnalysisFinished,
		AnalysisID: s.JobID,
		Ticker:     s.Ticker,
		Demo:       s.Demo,
		Timestamp:  now.UTC().Format(time.RFC3339),
		DurationMs: s.Duration(now).Milliseconds(),
	}
	if s.Phase == types.PhaseError {
		event.Outcome = adapter.OutcomeError
		event.Error = s.Error
		return event
	}
	event.Outcome = adapter.OutcomeComplete
	if s.Result != nil {
		for _, v := range s.Result.Verdicts {
			if !v.Available {
				continue
			}
			event.Verdicts = append(event.Verdicts, adapter.VerdictSummary{
				Persona:    v.PersonaName,
				Rating:     v.Rating,
				Confidence: v.Confidence,
			})
		}
	}
	return event
}
