// Package search provides a debounced, cancelable ticker lookup.
//
// Every keystroke goes through Search. Only the latest query is ever looked
// up: a new query stops the pending timer and aborts the lookup in flight,
// so results always belong to the most recent query.
package search

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/arfor/log"
	"github.com/pithecene-io/arfor/metrics"
	"github.com/pithecene-io/arfor/types"
)

// Defaults for Config.
const (
	DefaultDebounce = 250 * time.Millisecond
	DefaultLimit    = 8
)

// Lookup fetches ticker matches. client.Client implements it.
type Lookup interface {
	SearchTickers(ctx context.Context, query string, limit int) ([]types.TickerInfo, error)
}

// Update is the observable searcher state passed to OnChange.
type Update struct {
	Query   string
	Results []types.TickerInfo
	Loading bool
}

// Config configures a Searcher.
type Config struct {
	Lookup   Lookup
	Debounce time.Duration
	Limit    int
	// OnChange is called after every change to results or loading.
	// It must not call back into the Searcher.
	OnChange func(Update)
	Logger   *log.Logger
	Metrics  *metrics.Collector
}

// Searcher debounces queries and keeps the results of the latest one.
type Searcher struct {
	config Config
	logger *log.Logger

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// notifyMu keeps OnChange calls in state order.
	notifyMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	query   string
	timer   *time.Timer
	abort   context.CancelFunc
	results []types.TickerInfo
	loading bool
	closed  bool
}

// New creates a Searcher.
func New(cfg Config) (*Searcher, error) {
	if cfg.Lookup == nil {
		return nil, errors.New("search: lookup is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Searcher{
		config: cfg,
		logger: cfg.Logger.Named("search"),
		ctx:    ctx,
		stop:   stop,
	}, nil
}

// Search schedules a lookup for query after the debounce delay. A blank
// query clears the results immediately.
func (s *Searcher) Search(query string) {
	query = strings.TrimSpace(query)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.seq++
	s.cancelPendingLocked()
	s.query = query
	if query == "" {
		s.results = nil
		s.loading = false
		s.unlockAndNotify()
		return
	}

	seq := s.seq
	s.loading = true
	s.wg.Add(1)
	s.timer = time.AfterFunc(s.config.Debounce, func() {
		defer s.wg.Done()
		s.fire(seq, query)
	})
	s.unlockAndNotify()
}

// Clear drops any pending or in-flight lookup and empties the results.
func (s *Searcher) Clear() {
	s.Search("")
}

// Results returns the matches for the latest completed query.
func (s *Searcher) Results() []types.TickerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// Loading reports whether a lookup is pending or in flight.
func (s *Searcher) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Close aborts pending work and waits for it to exit.
func (s *Searcher) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.seq++
	s.cancelPendingLocked()
	s.loading = false
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
	return nil
}

// cancelPendingLocked stops the debounce timer and aborts the lookup in
// flight. s.mu must be held.
func (s *Searcher) cancelPendingLocked() {
	if s.timer != nil {
		if s.timer.Stop() {
			s.wg.Done()
		}
		s.timer = nil
	}
	if s.abort != nil {
		s.abort()
		s.abort = nil
		s.config.Metrics.IncSearchAborted()
	}
}

func (s *Searcher) fire(seq uint64, query string) {
	s.mu.Lock()
	if seq != s.seq || s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.timer = nil
	s.abort = cancel
	s.mu.Unlock()
	defer cancel()

	s.config.Metrics.IncSearchDispatched()
	results, err := s.config.Lookup.SearchTickers(ctx, query, s.config.Limit)

	s.mu.Lock()
	// An aborted lookup belongs to a superseded query.
	if seq != s.seq || ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.abort = nil
	s.loading = false
	if err != nil {
		s.logger.Debug("ticker search failed", map[string]any{"query": query, "error": err.Error()})
		s.results = nil
	} else {
		s.results = slices.Clone(results)
	}
	s.unlockAndNotify()
}

// unlockAndNotify releases s.mu and reports the state it guarded.
// notifyMu is taken before the release so updates arrive in order.
func (s *Searcher) unlockAndNotify() {
	u := Update{
		Query:   s.query,
		Results: slices.Clone(s.results),
		Loading: s.loading,
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	if s.config.OnChange != nil {
		s.config.OnChange(u)
	}
}
