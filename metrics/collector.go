// Package metrics provides per-process counters for the analysis client.
//
// The Collector is a leaf package with no internal dependencies. Every
// increment method is nil-receiver safe so components accept an optional
// *Collector without guarding each call.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsCanceled  int64 `json:"runs_canceled"`

	// Stream
	StreamBinds     int64 `json:"stream_binds"`
	EventsReceived  int64 `json:"events_received"`
	TransportErrors int64 `json:"transport_errors"`
	ParseFailures   int64 `json:"parse_failures"`
	StreamGiveUps   int64 `json:"stream_give_ups"`

	// Satellites
	SearchesDispatched int64 `json:"searches_dispatched"`
	SearchesAborted    int64 `json:"searches_aborted"`
	CreditPolls        int64 `json:"credit_polls"`

	// Side effects
	ArchiveWrites   int64 `json:"archive_writes"`
	ArchiveFailures int64 `json:"archive_failures"`
	NotifyFailures  int64 `json:"notify_failures"`

	// EventsByKind counts parsed events per kind.
	EventsByKind map[string]int64 `json:"events_by_kind"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsCanceled  int64

	streamBinds     int64
	eventsReceived  int64
	transportErrors int64
	parseFailures   int64
	streamGiveUps   int64
	eventsByKind    map[string]int64

	searchesDispatched int64
	searchesAborted    int64
	creditPolls        int64

	archiveWrites   int64
	archiveFailures int64
	notifyFailures  int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{eventsByKind: make(map[string]int64)}
}

// add applies fn under the lock; no-op on a nil receiver.
func (c *Collector) add(fn func()) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start (including resumes).
func (c *Collector) IncRunStarted() { c.add(func() { c.runsStarted++ }) }

// IncRunCompleted records a run reaching phase complete.
func (c *Collector) IncRunCompleted() { c.add(func() { c.runsCompleted++ }) }

// IncRunFailed records a run reaching phase error.
func (c *Collector) IncRunFailed() { c.add(func() { c.runsFailed++ }) }

// IncRunCanceled records an explicit cancel.
func (c *Collector) IncRunCanceled() { c.add(func() { c.runsCanceled++ }) }

// --- Stream ---

// IncStreamBind records a new stream binding.
func (c *Collector) IncStreamBind() { c.add(func() { c.streamBinds++ }) }

// IncEventReceived records a parsed inbound event by kind.
func (c *Collector) IncEventReceived(kind string) {
	c.add(func() {
		c.eventsReceived++
		c.eventsByKind[kind]++
	})
}

// IncTransportError records a transport-level stream error.
func (c *Collector) IncTransportError() { c.add(func() { c.transportErrors++ }) }

// IncParseFailure records an unparseable stream payload.
func (c *Collector) IncParseFailure() { c.add(func() { c.parseFailures++ }) }

// IncStreamGiveUp records the stream manager abandoning a connection.
func (c *Collector) IncStreamGiveUp() { c.add(func() { c.streamGiveUps++ }) }

// --- Satellites ---

// IncSearchDispatched records a ticker lookup leaving the debounce window.
func (c *Collector) IncSearchDispatched() { c.add(func() { c.searchesDispatched++ }) }

// IncSearchAborted records an in-flight lookup superseded by a newer query.
func (c *Collector) IncSearchAborted() { c.add(func() { c.searchesAborted++ }) }

// IncCreditPoll records one credit poller re-fetch.
func (c *Collector) IncCreditPoll() { c.add(func() { c.creditPolls++ }) }

// --- Side effects ---

// IncArchiveWrite records a result written to the archive.
func (c *Collector) IncArchiveWrite() { c.add(func() { c.archiveWrites++ }) }

// IncArchiveFailure records a failed archive write.
func (c *Collector) IncArchiveFailure() { c.add(func() { c.archiveFailures++ }) }

// IncNotifyFailure records a failed downstream notification.
func (c *Collector) IncNotifyFailure() { c.add(func() { c.notifyFailures++ }) }

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.eventsByKind))
	for k, v := range c.eventsByKind {
		byKind[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsCanceled:  c.runsCanceled,

		StreamBinds:     c.streamBinds,
		EventsReceived:  c.eventsReceived,
		TransportErrors: c.transportErrors,
		ParseFailures:   c.parseFailures,
		StreamGiveUps:   c.streamGiveUps,

		SearchesDispatched: c.searchesDispatched,
		SearchesAborted:    c.searchesAborted,
		CreditPolls:        c.creditPolls,

		ArchiveWrites:   c.archiveWrites,
		ArchiveFailures: c.archiveFailures,
		NotifyFailures:  c.notifyFailures,
		EventsByKind:    byKind,
	}
}
