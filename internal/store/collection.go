package store

import (
	"sync"
	"time"
)

// ApplyResult reports what ApplyUpdate did with an event.
type ApplyResult int

const (
	// Dropped means the event referenced a token the collection does not know.
	Dropped ApplyResult = iota
	// NoChange means every present field already held the event's value.
	NoChange
	// Applied means the record was replaced.
	Applied
)

func (r ApplyResult) String() string {
	switch r {
	case Dropped:
		return "dropped"
	case NoChange:
		return "no_change"
	case Applied:
		return "applied"
	default:
		return "unknown"
	}
}

// ChangeKind distinguishes snapshot loads from single-record updates.
type ChangeKind int

const (
	ChangeSnapshot ChangeKind = iota
	ChangeUpdate
)

// Change is delivered to observers after every mutation.
type Change struct {
	Kind    ChangeKind
	Version uint64
	// Before and After are set for ChangeUpdate only.
	Before TokenRecord
	After  TokenRecord
	// Size is the collection size after the mutation.
	Size int
}

// Collection is the authoritative map of token id to record.
//
// All mutations are expected to come from a single dispatcher goroutine so
// that updates for the same token apply in arrival order. The lock only makes
// concurrent reads from the API and the dashboard safe.
type Collection struct {
	mu      sync.RWMutex
	order   []string
	records map[string]TokenRecord
	version uint64
	now     func() time.Time

	obsMu     sync.Mutex
	observers map[int]func(Change)
	nextObsID int
}

// Option configures a Collection.
type Option func(*Collection)

// WithClock overrides the clock used to stamp CreatedAt on records that
// arrive without one.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) { c.now = now }
}

// NewCollection creates an empty collection.
func NewCollection(opts ...Option) *Collection {
	c := &Collection{
		records:   make(map[string]TokenRecord),
		now:       time.Now,
		observers: make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Observe registers fn to be called after each mutation. Observers run on the
// mutating goroutine after the lock is released. The returned func removes
// the observer.
func (c *Collection) Observe(fn func(Change)) func() {
	c.obsMu.Lock()
	id := c.nextObsID
	c.nextObsID++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// LoadSnapshot replaces the entire collection with records. Records missing
// from the new set are removed. Duplicate ids keep the position of the first
// occurrence and the values of the last. A record without CreatedAt inherits
// the previous record's CreatedAt, or now for a new token.
func (c *Collection) LoadSnapshot(records []TokenRecord) {
	c.mu.Lock()

	next := make(map[string]TokenRecord, len(records))
	order := make([]string, 0, len(records))
	now := c.now()

	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if rec.CreatedAt.IsZero() {
			if prev, ok := c.records[rec.ID]; ok && !prev.CreatedAt.IsZero() {
				rec.CreatedAt = prev.CreatedAt
			} else {
				rec.CreatedAt = now
			}
		}
		if rec.ShortAddress == "" {
			rec.ShortAddress = ShortAddress(rec.ID)
		}
		if _, seen := next[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		next[rec.ID] = rec
	}

	c.records = next
	c.order = order
	c.version++
	change := Change{Kind: ChangeSnapshot, Version: c.version, Size: len(order)}
	c.mu.Unlock()

	c.notify(change)
}

// ApplyUpdate merges ev into the matching record. Unknown tokens are dropped;
// an event that changes nothing leaves the collection and its version
// untouched and notifies nobody.
func (c *Collection) ApplyUpdate(ev TokenUpdateEvent) (Change, ApplyResult) {
	c.mu.Lock()

	current, ok := c.records[ev.TokenID]
	if !ok {
		c.mu.Unlock()
		return Change{}, Dropped
	}

	next, changed := mergeUpdate(current, ev)
	if !changed {
		c.mu.Unlock()
		return Change{}, NoChange
	}

	c.records[ev.TokenID] = next
	c.version++
	change := Change{
		Kind:    ChangeUpdate,
		Version: c.version,
		Before:  current,
		After:   next,
		Size:    len(c.order),
	}
	c.mu.Unlock()

	c.notify(change)
	return change, Applied
}

// GetByID returns the record for id.
func (c *Collection) GetByID(id string) (TokenRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[id]
	return rec, ok
}

// GetAll returns a copy of every record in snapshot order.
func (c *Collection) GetAll() []TokenRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TokenRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id])
	}
	return out
}

// Len returns the number of records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Version increases by one on every mutation that changed state.
func (c *Collection) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Collection) notify(change Change) {
	c.obsMu.Lock()
	fns := make([]func(Change), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// mergeUpdate applies the present fields of ev onto rec. Bookkeeping
// timestamps (LastTxTime, LastUpdated) ride along with a real change but do
// not count as one, since upstream stamps every message.
func mergeUpdate(rec TokenRecord, ev TokenUpdateEvent) (TokenRecord, bool) {
	changed := false

	setFloat := func(dst *float64, src *float64) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setInt := func(dst *int64, src *int64) {
		if src != nil && *dst != *src {
			*dst = *src
			changed = true
		}
	}
	setPercent := func(dst *float64, fraction *float64) {
		if fraction == nil {
			return
		}
		pct := FractionToPercent(*fraction)
		setFloat(dst, &pct)
	}

	setFloat(&rec.Price, ev.Price)
	setFloat(&rec.VolumeSol, ev.VolumeSol)
	setFloat(&rec.VolumeUSD, ev.VolumeUSD)
	setFloat(&rec.MarketCapUSD, ev.MarketCapUSD)
	setInt(&rec.Holders, ev.Holders)
	setInt(&rec.Buys, ev.Buys)
	setInt(&rec.Sells, ev.Sells)
	setInt(&rec.TxCount, ev.TxCount)
	setPercent(&rec.DevHolderPct, ev.CreatorSharePct)
	setPercent(&rec.Top10HolderPct, ev.TopHoldersPct)

	if !changed {
		return rec, false
	}

	if ev.LastTxTime != nil {
		rec.LastTxTime = *ev.LastTxTime
	}
	if ev.LastUpdated != nil {
		rec.LastUpdated = *ev.LastUpdated
	}
	return rec, true
}
