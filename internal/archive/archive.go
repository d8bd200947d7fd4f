// Package archive records applied token updates as price ticks.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBatchSize     = 500
	DefaultFlushInterval = 5 * time.Second
	DefaultWriteTimeout  = 10 * time.Second

	// maxPendingBatches bounds the backlog while the writer is slow.
	maxPendingBatches = 10
)

// Tick is one archived token state.
type Tick struct {
	TokenID    string
	Symbol     string
	Version    uint64
	Price      float64
	MarketCap  float64
	Volume     float64
	Holders    int64
	Buys       int64
	Sells      int64
	RecordedAt time.Time
}

// Writer persists a batch of ticks.
type Writer interface {
	WriteTicks(ctx context.Context, ticks []Tick) error
}

// FailureCounter is told how many ticks were lost, either in a failed write
// or dropped from a full backlog.
type FailureCounter interface {
	RecordArchiveFailed(n int)
}

// Option configures an Archive.
type Option func(*Archive)

// WithCounter reports lost ticks to c.
func WithCounter(c FailureCounter) Option {
	return func(a *Archive) {
		a.counter = c
	}
}

// WithWriteTimeout bounds each batch write.
func WithWriteTimeout(d time.Duration) Option {
	return func(a *Archive) {
		if d > 0 {
			a.writeTimeout = d
		}
	}
}

// Archive buffers ticks and writes them in batches from Run, when the
// buffer reaches the batch size or on every flush interval. HandleChange
// never touches the writer.
type Archive struct {
	writer       Writer
	batchSize    int
	maxPending   int
	interval     time.Duration
	writeTimeout time.Duration
	counter      FailureCounter
	log          logrus.FieldLogger
	now          func() time.Time
	flushNow     chan struct{}

	mu      sync.Mutex
	pending []Tick
	written int64
	failed  int64
}

// New creates an Archive over w.
func New(w Writer, batchSize int, interval time.Duration, log logrus.FieldLogger, opts ...Option) *Archive {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Archive{
		writer:       w,
		batchSize:    batchSize,
		maxPending:   batchSize * maxPendingBatches,
		interval:     interval,
		writeTimeout: DefaultWriteTimeout,
		log:          log,
		now:          time.Now,
		flushNow:     make(chan struct{}, 1),
		pending:      make([]Tick, 0, batchSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name identifies the archive as a change sink.
func (a *Archive) Name() string { return "archive" }

// HandleChange buffers a tick for every applied update and wakes Run once a
// batch is ready. When the backlog is full the tick is dropped and counted.
func (a *Archive) HandleChange(_ context.Context, ch store.Change) {
	if ch.Kind != store.ChangeUpdate {
		return
	}

	rec := ch.After
	tick := Tick{
		TokenID:    rec.ID,
		Symbol:     rec.Symbol,
		Version:    ch.Version,
		Price:      rec.Price,
		MarketCap:  rec.MarketCap(),
		Volume:     rec.Volume(),
		Holders:    rec.Holders,
		Buys:       rec.Buys,
		Sells:      rec.Sells,
		RecordedAt: a.now().UTC(),
	}

	a.mu.Lock()
	if len(a.pending) >= a.maxPending {
		a.failed++
		a.mu.Unlock()
		a.lost(1)
		a.log.WithField("token", rec.ID).Debug("archive_backlog_full")
		return
	}
	a.pending = append(a.pending, tick)
	full := len(a.pending) >= a.batchSize
	a.mu.Unlock()

	if full {
		select {
		case a.flushNow <- struct{}{}:
		default:
		}
	}
}

// Flush writes all buffered ticks. A failed batch is dropped and counted.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.pending
	a.pending = make([]Tick, 0, a.batchSize)
	a.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()

	if err := a.writer.WriteTicks(writeCtx, batch); err != nil {
		a.mu.Lock()
		a.failed += int64(len(batch))
		a.mu.Unlock()
		a.lost(len(batch))
		a.log.WithError(err).WithField("ticks", len(batch)).Warn("archive_flush_failed")
		return err
	}

	a.mu.Lock()
	a.written += int64(len(batch))
	a.mu.Unlock()
	a.log.WithField("ticks", len(batch)).Debug("archive_flushed")
	return nil
}

// Run writes batches until ctx is cancelled, then flushes what is left.
func (a *Archive) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.Flush(flushCtx)
			cancel()
			return
		case <-a.flushNow:
			_ = a.Flush(ctx)
		case <-ticker.C:
			_ = a.Flush(ctx)
		}
	}
}

// Stats returns written and failed tick counts and the current backlog.
func (a *Archive) Stats() (written, failed int64, pending int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written, a.failed, len(a.pending)
}

func (a *Archive) lost(n int) {
	if a.counter != nil {
		a.counter.RecordArchiveFailed(n)
	}
}
