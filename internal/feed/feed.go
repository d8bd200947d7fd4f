// Package feed serializes snapshot loads and streamed updates into the token
// collection and fans applied changes out to sinks.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memefeed/engine/internal/ingest"
	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultUpdateBuffer is the size of the buffered update channel.
	DefaultUpdateBuffer = 1000

	// Snapshot origins reported in RefreshResult.
	SourceAPI      = "api"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

var (
	// ErrNoSnapshotSource is returned by Refresh when no fetcher is configured.
	ErrNoSnapshotSource = errors.New("no snapshot source configured")
	// ErrStopped is returned once the dispatcher has exited.
	ErrStopped = errors.New("feed stopped")
	// ErrEmptyPair is returned for a blank trade pair id.
	ErrEmptyPair = errors.New("empty trade pair")
)

// Sink receives every change applied to the collection, in order, on the
// dispatcher goroutine.
type Sink interface {
	Name() string
	HandleChange(ctx context.Context, ch store.Change)
}

// SnapshotCache persists the last good snapshot for degraded starts.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, records []store.TokenRecord) error
	LoadSnapshot(ctx context.Context) ([]store.TokenRecord, error)
}

// Subscriber is the part of the subscription manager the feed drives.
type Subscriber interface {
	TokenChannel() string
	Subscribe(ctx context.Context, channel string) (*ingest.SubscriptionHandle, error)
	SubscribeTrades(ctx context.Context, pairID string) (*ingest.SubscriptionHandle, error)
	UnsubscribeTrades(pairID string) error
	Handles() []ingest.HandleStatus
	Connected() bool
}

// RefreshResult describes a completed snapshot load.
type RefreshResult struct {
	Source   string    `json:"source"`
	Tokens   int       `json:"tokens"`
	Degraded bool      `json:"degraded"`
	Cause    error     `json:"-"`
	At       time.Time `json:"at"`
}

// Options configures a Feed. Zero values disable the optional parts.
type Options struct {
	Snapshots       ingest.SnapshotSource
	Cache           SnapshotCache
	UseFallback     bool
	RefreshInterval time.Duration
	UpdateBuffer    int
	Tracker         *metrics.Tracker
	Sinks           []Sink
	Trades          chan<- store.TradeUpdate
	TradePairs      []string
	Logger          logrus.FieldLogger
	Now             func() time.Time
}

type loadRequest struct {
	records []store.TokenRecord
	done    chan struct{}
}

// Feed owns every mutation of its collection. Run must be running for
// updates and refreshes to land.
type Feed struct {
	coll        *store.Collection
	snapshots   ingest.SnapshotSource
	cache       SnapshotCache
	useFallback bool
	interval    time.Duration
	tracker     *metrics.Tracker
	sinks       []Sink
	trades      chan<- store.TradeUpdate
	log         logrus.FieldLogger
	now         func() time.Time

	updates chan store.TokenUpdateEvent
	loads   chan loadRequest
	stopped chan struct{}
	stop    sync.Once

	mu          sync.RWMutex
	runCtx      context.Context
	subscriber  Subscriber
	pairs       map[string]struct{}
	lastRefresh RefreshResult
	refreshErr  error
}

// New creates a Feed over coll.
func New(coll *store.Collection, opts Options) *Feed {
	if opts.UpdateBuffer < 1 {
		opts.UpdateBuffer = DefaultUpdateBuffer
	}
	if opts.Tracker == nil {
		opts.Tracker = metrics.NewTracker()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	pairs := make(map[string]struct{}, len(opts.TradePairs))
	for _, pair := range opts.TradePairs {
		if pair = strings.TrimSpace(pair); pair != "" {
			pairs[pair] = struct{}{}
		}
	}

	return &Feed{
		coll:        coll,
		snapshots:   opts.Snapshots,
		cache:       opts.Cache,
		useFallback: opts.UseFallback,
		interval:    opts.RefreshInterval,
		tracker:     opts.Tracker,
		sinks:       opts.Sinks,
		trades:      opts.Trades,
		log:         opts.Logger,
		now:         opts.Now,
		updates:     make(chan store.TokenUpdateEvent, opts.UpdateBuffer),
		loads:       make(chan loadRequest),
		stopped:     make(chan struct{}),
		runCtx:      context.Background(),
		pairs:       pairs,
	}
}

// Collection returns the collection the feed writes to.
func (f *Feed) Collection() *store.Collection { return f.coll }

// Tracker returns the feed's metrics tracker.
func (f *Feed) Tracker() *metrics.Tracker { return f.tracker }

// Attach sets the subscriber re-subscribed on every (re)connect.
func (f *Feed) Attach(sub Subscriber) {
	f.mu.Lock()
	f.subscriber = sub
	f.mu.Unlock()
}

// WatchTrades adds pairID to the trade pairs subscribed on every connect,
// subscribing right away when the transport is up.
func (f *Feed) WatchTrades(ctx context.Context, pairID string) error {
	pairID = strings.TrimSpace(pairID)
	if pairID == "" {
		return ErrEmptyPair
	}

	f.mu.Lock()
	f.pairs[pairID] = struct{}{}
	f.mu.Unlock()

	sub := f.attached()
	if sub == nil || !sub.Connected() {
		return nil
	}
	if _, err := sub.SubscribeTrades(ctx, pairID); err != nil {
		return fmt.Errorf("watch trades %s: %w", pairID, err)
	}
	f.log.WithField("pair", pairID).Info("trades_watched")
	return nil
}

// UnwatchTrades stops following pairID.
func (f *Feed) UnwatchTrades(pairID string) error {
	pairID = strings.TrimSpace(pairID)
	if pairID == "" {
		return ErrEmptyPair
	}

	f.mu.Lock()
	delete(f.pairs, pairID)
	f.mu.Unlock()

	sub := f.attached()
	if sub == nil {
		return nil
	}
	if err := sub.UnsubscribeTrades(pairID); err != nil {
		return fmt.Errorf("unwatch trades %s: %w", pairID, err)
	}
	f.log.WithField("pair", pairID).Info("trades_unwatched")
	return nil
}

// TradePairs returns the watched trade pairs in order.
func (f *Feed) TradePairs() []string {
	f.mu.RLock()
	out := make([]string, 0, len(f.pairs))
	for pair := range f.pairs {
		out = append(out, pair)
	}
	f.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Run dispatches loads and updates until ctx is cancelled. It also drives
// the periodic refresh when an interval is configured.
func (f *Feed) Run(ctx context.Context) {
	f.mu.Lock()
	f.runCtx = ctx
	f.mu.Unlock()

	defer f.stop.Do(func() { close(f.stopped) })

	unobserve := f.coll.Observe(func(ch store.Change) { f.dispatch(ctx, ch) })
	defer unobserve()

	if f.interval > 0 {
		go f.refreshLoop(ctx)
	}

	f.log.WithField("buffer", cap(f.updates)).Debug("dispatcher_started")
	defer f.log.Debug("dispatcher_stopped")

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-f.loads:
			f.coll.LoadSnapshot(req.records)
			close(req.done)

		case ev := <-f.updates:
			_, res := f.coll.ApplyUpdate(ev)
			f.tracker.RecordResult(res)
			f.tracker.SetBuffer(len(f.updates), cap(f.updates))
			if res == store.Dropped {
				f.log.WithField("token", ev.TokenID).Debug("update_unknown_token")
			}
		}
	}
}

// Enqueue hands an update to the dispatcher, blocking while the buffer is
// full. Updates for one token are applied in enqueue order.
func (f *Feed) Enqueue(ctx context.Context, ev store.TokenUpdateEvent) error {
	select {
	case <-f.stopped:
		return ErrStopped
	default:
	}

	select {
	case f.updates <- ev:
		f.tracker.RecordReceived()
		return nil
	case <-f.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh fetches a snapshot and loads it. When the fetch fails it falls
// back to the cache and then the static dataset, marking the result
// degraded. The error is returned only when nothing could be loaded, in
// which case the collection is untouched.
func (f *Feed) Refresh(ctx context.Context) (RefreshResult, error) {
	records, res, err := f.fetch(ctx)
	if err != nil {
		f.tracker.RecordError()
		f.setRefresh(RefreshResult{Cause: err, At: f.now()}, err)
		return RefreshResult{Cause: err}, err
	}

	if err := f.load(ctx, records); err != nil {
		return RefreshResult{Cause: err}, err
	}

	res.Tokens = len(records)
	res.At = f.now()
	f.tracker.RecordSnapshot(res.Source, res.Tokens, res.Degraded)
	f.setRefresh(res, nil)

	entry := f.log.WithFields(logrus.Fields{
		"source": res.Source,
		"tokens": res.Tokens,
	})
	if res.Degraded {
		entry.WithError(res.Cause).Warn("snapshot_loaded_degraded")
	} else {
		entry.Info("snapshot_loaded")
	}
	return res, nil
}

// fetch resolves the records to load and where they came from.
func (f *Feed) fetch(ctx context.Context) ([]store.TokenRecord, RefreshResult, error) {
	cause := ErrNoSnapshotSource
	if f.snapshots != nil {
		records, err := f.snapshots.FetchSnapshot(ctx)
		if err == nil {
			if f.cache != nil {
				if err := f.cache.SaveSnapshot(ctx, records); err != nil {
					f.log.WithError(err).Warn("snapshot_cache_save_failed")
				}
			}
			return records, RefreshResult{Source: SourceAPI}, nil
		}
		cause = err
		f.log.WithError(err).Warn("snapshot_fetch_failed")
	}

	if f.cache != nil {
		records, err := f.cache.LoadSnapshot(ctx)
		switch {
		case err != nil:
			f.log.WithError(err).Debug("snapshot_cache_miss")
		case len(records) > 0:
			return records, RefreshResult{Source: SourceCache, Degraded: true, Cause: cause}, nil
		}
	}

	if f.useFallback {
		return ingest.FallbackTokens(f.now()), RefreshResult{Source: SourceFallback, Degraded: true, Cause: cause}, nil
	}

	return nil, RefreshResult{}, fmt.Errorf("refresh snapshot: %w", cause)
}

// load runs LoadSnapshot on the dispatcher and waits for it.
func (f *Feed) load(ctx context.Context, records []store.TokenRecord) error {
	req := loadRequest{records: records, done: make(chan struct{})}
	select {
	case f.loads <- req:
	case <-f.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-f.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := f.Refresh(ctx); err != nil && ctx.Err() == nil {
				f.log.WithError(err).Warn("periodic_refresh_failed")
			}
		}
	}
}

// dispatch hands an applied change to every sink. A panicking sink is
// logged and skipped.
func (f *Feed) dispatch(ctx context.Context, ch store.Change) {
	for _, sink := range f.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.tracker.RecordError()
					f.log.WithFields(logrus.Fields{
						"sink":  sink.Name(),
						"panic": r,
					}).Error("sink_panic")
				}
			}()
			sink.HandleChange(ctx, ch)
		}()
	}
}

func (f *Feed) setRefresh(res RefreshResult, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = err
	if err == nil {
		f.lastRefresh = res
	}
}

func (f *Feed) context() context.Context {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.runCtx
}

func (f *Feed) attached() Subscriber {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.subscriber
}
