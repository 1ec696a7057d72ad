package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	refreshCount    metric.Int64Counter
	refreshErrors   metric.Int64Counter
	refreshSkipped  metric.Int64Counter
	refreshDuration metric.Float64Histogram
	snapshotSize    metric.Int64Gauge
)

func init() {
	meter := otel.Meter("github.com/jacentio/strategystore/store")

	var err error
	refreshCount, err = meter.Int64Counter(
		"strategystore.cache.refresh.count",
		metric.WithDescription("Number of completed snapshot reloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create cache.refresh.count counter: %w", err))
	}

	refreshErrors, err = meter.Int64Counter(
		"strategystore.cache.refresh.errors",
		metric.WithDescription("Number of failed snapshot reloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create cache.refresh.errors counter: %w", err))
	}

	refreshSkipped, err = meter.Int64Counter(
		"strategystore.cache.refresh.skipped",
		metric.WithDescription("Number of reloads skipped because the backend reported no change"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create cache.refresh.skipped counter: %w", err))
	}

	refreshDuration, err = meter.Float64Histogram(
		"strategystore.cache.refresh.duration",
		metric.WithDescription("Duration of snapshot reloads"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create cache.refresh.duration histogram: %w", err))
	}

	snapshotSize, err = meter.Int64Gauge(
		"strategystore.cache.snapshot.size",
		metric.WithDescription("Number of strategies in the published snapshot"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create cache.snapshot.size gauge: %w", err))
	}
}

// State is the lifecycle state of a Cache.
type State int32

const (
	StateUninitialized State = iota
	StateRefreshing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRefreshing:
		return "refreshing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Snapshot is an immutable, complete copy of the stored strategies.
// The documents it holds are shared and must not be modified.
type Snapshot struct {
	docs     map[string]*Document
	loadedAt time.Time
}

func newSnapshot(docs []*Document, loadedAt time.Time) *Snapshot {
	s := &Snapshot{docs: make(map[string]*Document, len(docs)), loadedAt: loadedAt}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

// Len returns the number of strategies in s.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

// Get returns the strategy with the given id.
func (s *Snapshot) Get(id string) (*Document, bool) {
	if s == nil {
		return nil, false
	}
	d, ok := s.docs[id]
	return d, ok
}

// All returns the strategies of s ordered by application and name.
func (s *Snapshot) All() []*Document {
	if s == nil {
		return nil
	}
	out := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	sortDocuments(out)
	return out
}

// LoadedAt returns when the backend listing behind s completed.
// It is zero for a snapshot that was never loaded.
func (s *Snapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// with returns a copy of s with doc added or replaced.
func (s *Snapshot) with(doc *Document) *Snapshot {
	n := &Snapshot{docs: make(map[string]*Document, len(s.docs)+1), loadedAt: s.loadedAt}
	for id, d := range s.docs {
		n.docs[id] = d
	}
	n.docs[doc.ID] = doc
	return n
}

// without returns a copy of s with id removed.
func (s *Snapshot) without(id string) *Snapshot {
	if _, ok := s.docs[id]; !ok {
		return s
	}
	n := &Snapshot{docs: make(map[string]*Document, len(s.docs)), loadedAt: s.loadedAt}
	for k, d := range s.docs {
		if k != id {
			n.docs[k] = d
		}
	}
	return n
}

// localWrite is a write made through this process. doc is nil for removals.
type localWrite struct {
	id  string
	doc *Document
}

// Cache keeps an in-memory snapshot of every strategy in a backend and
// reloads it on a fixed interval from a single background goroutine.
//
// Readers never block: Snapshot returns the last published snapshot, or an
// empty one before the first successful load. A failed reload keeps the
// previous snapshot.
type Cache struct {
	backend  Backend
	interval time.Duration
	maxSkip  time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	current atomic.Pointer[Snapshot]
	state   atomic.Int32

	// refreshMu allows one reload at a time. lastModified is the change
	// marker seen by the last full listing, taken at listedAt.
	refreshMu    sync.Mutex
	lastModified time.Time
	listedAt     time.Time

	// mu serializes snapshot publication. While a reload is in flight,
	// local writes are also recorded in pending so they can be replayed on
	// top of a listing that may predate them.
	mu       sync.Mutex
	inflight bool
	pending  []localWrite

	trigger chan struct{}
	done    chan struct{}

	// lifeMu guards the background goroutine's lifecycle.
	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewCache creates a Cache over backend. It does nothing until Start or
// Refresh is called.
func NewCache(backend Backend, config Config, logger *slog.Logger) *Cache {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		backend:  backend,
		interval: config.RefreshInterval,
		maxSkip:  config.MaxSkipAge,
		timeout:  config.RefreshTimeout,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.current.Store(newSnapshot(nil, time.Time{}))
	return c
}

// Snapshot returns the most recently published snapshot.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	return State(c.state.Load())
}

// Start loads the snapshot once, synchronously, then reloads it every
// refresh interval until Stop is called or ctx is done. A failed first load
// is returned but does not prevent the background reloads. Calls after the
// first are no-ops.
func (c *Cache) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.started {
		return nil
	}
	c.started = true

	err := c.refresh(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(loopCtx)

	c.logger.Info("strategy cache started",
		"interval", c.interval,
		"strategies", c.Snapshot().Len(),
	)
	return err
}

// Stop ends the background reloads and waits for the goroutine to exit.
// A reload in flight is allowed to finish within the refresh timeout.
// Stop before Start, or a repeated Stop, does nothing.
func (c *Cache) Stop() {
	c.lifeMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-c.done
	c.logger.Info("strategy cache stopped")
}

// Trigger asks the background goroutine for an early reload. Requests
// made while one is already pending are coalesced.
func (c *Cache) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Refresh reloads the snapshot synchronously.
func (c *Cache) Refresh(ctx context.Context) error {
	return c.refresh(ctx)
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.trigger:
		}

		// Stop must not interrupt backend calls already in flight.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		_ = c.refresh(rctx)
		cancel()
	}
}

func (c *Cache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	prev := c.State()
	c.state.Store(int32(StateRefreshing))
	start := time.Now()

	c.beginReload()

	var marker time.Time
	if tracker, ok := c.backend.(ChangeTracker); ok {
		lm, err := tracker.LastModified(ctx)
		if err != nil {
			c.logger.Warn("failed to read backend change marker, reloading", "error", err)
		} else {
			marker = lm
			unchanged := !lm.IsZero() && lm.Equal(c.lastModified)
			if unchanged && prev != StateUninitialized && time.Since(c.listedAt) < c.maxSkip {
				c.abortReload()
				c.state.Store(int32(StateReady))
				refreshSkipped.Add(ctx, 1)
				return nil
			}
		}
	}

	docs, err := c.backend.ListAll(ctx)
	if err != nil {
		c.abortReload()
		c.state.Store(int32(StateFailed))
		refreshErrors.Add(ctx, 1)
		c.logger.Error("failed to refresh strategy cache",
			"error", err,
			"previousState", prev.String(),
			"staleStrategies", c.Snapshot().Len(),
		)
		return err
	}

	snap := c.publish(docs)
	c.lastModified = marker
	c.listedAt = start
	c.state.Store(int32(StateReady))

	elapsed := time.Since(start)
	refreshCount.Add(ctx, 1)
	refreshDuration.Record(ctx, elapsed.Seconds())
	snapshotSize.Record(ctx, int64(snap.Len()))
	c.logger.Debug("refreshed strategy cache",
		"strategies", snap.Len(),
		"duration", elapsed,
	)
	return nil
}

func (c *Cache) beginReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = true
	c.pending = nil
}

func (c *Cache) abortReload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	c.pending = nil
}

// publish swaps in a snapshot built from docs plus the local writes made
// while they were being listed.
func (c *Cache) publish(docs []*Document) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := newSnapshot(docs, time.Now())
	for _, w := range c.pending {
		if w.doc != nil {
			snap.docs[w.id] = w.doc
		} else {
			delete(snap.docs, w.id)
		}
	}
	c.inflight = false
	c.pending = nil
	c.current.Store(snap)
	return snap
}

// apply publishes doc immediately after a successful local write.
func (c *Cache) apply(doc *Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight {
		c.pending = append(c.pending, localWrite{id: doc.ID, doc: doc})
	}
	c.current.Store(c.current.Load().with(doc))
}

// remove drops id from the snapshot immediately after a local delete.
func (c *Cache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight {
		c.pending = append(c.pending, localWrite{id: id})
	}
	c.current.Store(c.current.Load().without(id))
}
