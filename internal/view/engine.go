package view

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/memefeed/engine/internal/store"
)

// Source is the read side of the collection store.
type Source interface {
	Version() uint64
	GetAll() []store.TokenRecord
}

// Query is the user-controlled part of a projection.
type Query struct {
	Search  string  `json:"search"`
	Filters Filters `json:"filters"`
	Sort    SortKey `json:"sort"`
}

// normalized is the cache key form: lowercase search, filled filters,
// explicit sort key.
func (q Query) normalized() Query {
	q.Search = normalizeSearch(q.Search)
	q.Filters = q.Filters.normalized()
	if q.Sort == "" {
		q.Sort = DefaultSort
	}
	return q
}

// timeBucket is how long a projection with a bounded time frame stays
// valid without a collection change.
const timeBucket = time.Minute

type projection struct {
	version uint64
	query   Query
	bucket  time.Time
	records []store.TokenRecord
}

// Engine memoizes the last projection. It recomputes when the source version
// or the normalized query changes, and each minute for a bounded time frame.
type Engine struct {
	src Source
	now func() time.Time

	mu         sync.Mutex
	last       *projection
	recomputes atomic.Uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNow overrides the clock used by the time-frame facet.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over src.
func NewEngine(src Source, opts ...EngineOption) *Engine {
	e := &Engine{src: src, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns the projection for q. Callers receive their own copy.
func (e *Engine) Query(q Query) []store.TokenRecord {
	q = q.normalized()

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var bucket time.Time
	if o, ok := LookupOption(FacetTimeFrame, q.Filters.TimeFrame); ok && o.Hours > 0 {
		bucket = now.Truncate(timeBucket)
	}

	version := e.src.Version()
	if e.last == nil || e.last.version != version || e.last.query != q || !e.last.bucket.Equal(bucket) {
		records := e.src.GetAll()
		// The version may have moved between the two reads; key the cache
		// on the older value so the next call recomputes.
		e.last = &projection{
			version: version,
			query:   q,
			bucket:  bucket,
			records: Project(records, q.Search, q.Filters, q.Sort, now),
		}
		e.recomputes.Add(1)
	}

	out := make([]store.TokenRecord, len(e.last.records))
	copy(out, e.last.records)
	return out
}

// Recomputes counts how many projections were computed.
func (e *Engine) Recomputes() uint64 {
	return e.recomputes.Load()
}

// Invalidate drops the cached projection.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.last = nil
	e.mu.Unlock()
}
