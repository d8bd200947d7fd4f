package view

import (
	"testing"
	"time"

	"github.com/memefeed/engine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *store.Collection) {
	t.Helper()
	c := store.NewCollection(store.WithClock(func() time.Time { return now }))
	c.LoadSnapshot([]store.TokenRecord{
		{ID: "A", Symbol: "FOO", MarketCapUSD: 5_000, CreatedAt: now.Add(-time.Hour)},
		{ID: "B", Symbol: "BAR", MarketCapUSD: 50_000, CreatedAt: now.Add(-2 * time.Hour)},
	})
	return NewEngine(c, WithNow(func() time.Time { return now })), c
}

func TestEngine_CachesUntilInputsChange(t *testing.T) {
	e, _ := newTestEngine(t)

	first := e.Query(Query{})
	assert.Equal(t, []string{"B", "A"}, ids(first))
	assert.Equal(t, uint64(1), e.Recomputes())

	// Equivalent queries hit the cache.
	e.Query(Query{Sort: SortMarketCap, Filters: DefaultFilters})
	e.Query(Query{Search: "   "})
	assert.Equal(t, uint64(1), e.Recomputes())

	e.Query(Query{Search: "foo"})
	assert.Equal(t, uint64(2), e.Recomputes())
	e.Query(Query{Search: "FOO"})
	assert.Equal(t, uint64(2), e.Recomputes())

	// Trailing spaces are part of the term.
	e.Query(Query{Search: "foo "})
	assert.Equal(t, uint64(3), e.Recomputes())

	e.Query(Query{Search: "foo", Sort: SortCreated})
	assert.Equal(t, uint64(4), e.Recomputes())
}

func TestEngine_TimeFrameFollowsTheClock(t *testing.T) {
	clock := now
	c := store.NewCollection(store.WithClock(func() time.Time { return now }))
	c.LoadSnapshot([]store.TokenRecord{
		{ID: "fresh", CreatedAt: now.Add(-time.Hour)},
		{ID: "aging", CreatedAt: now.Add(-24*time.Hour + 30*time.Second)},
	})
	e := NewEngine(c, WithNow(func() time.Time { return clock }))

	f, err := DefaultFilters.With(FacetTimeFrame, "last-24h")
	require.NoError(t, err)
	q := Query{Filters: f, Sort: SortCreated}

	assert.Equal(t, []string{"fresh", "aging"}, ids(e.Query(q)))

	// Same minute: cached.
	clock = now.Add(10 * time.Second)
	e.Query(q)
	assert.Equal(t, uint64(1), e.Recomputes())

	// A minute later the aging token has left the window with no collection change.
	clock = now.Add(time.Minute)
	assert.Equal(t, []string{"fresh"}, ids(e.Query(q)))
	assert.Equal(t, uint64(2), e.Recomputes())

	// Unbounded queries ignore the clock.
	e.Query(Query{})
	clock = now.Add(time.Hour)
	e.Query(Query{})
	assert.Equal(t, uint64(3), e.Recomputes())
}

func TestEngine_RecomputesOnCollectionChange(t *testing.T) {
	e, c := newTestEngine(t)
	e.Query(Query{})

	_, res := c.ApplyUpdate(store.TokenUpdateEvent{TokenID: "A", MarketCapUSD: store.Float64(90_000)})
	require.Equal(t, store.Applied, res)

	got := e.Query(Query{})
	assert.Equal(t, []string{"A", "B"}, ids(got))
	assert.Equal(t, uint64(2), e.Recomputes())

	// A no-op update leaves the version, and the cache, alone.
	_, res = c.ApplyUpdate(store.TokenUpdateEvent{TokenID: "A", MarketCapUSD: store.Float64(90_000)})
	require.Equal(t, store.NoChange, res)
	e.Query(Query{})
	assert.Equal(t, uint64(2), e.Recomputes())
}

func TestEngine_ReturnsCopies(t *testing.T) {
	e, c := newTestEngine(t)

	got := e.Query(Query{})
	got[0].Name = "mutated"

	again := e.Query(Query{})
	assert.NotEqual(t, "mutated", again[0].Name)

	rec, _ := c.GetByID(again[0].ID)
	assert.NotEqual(t, "mutated", rec.Name)
}

func TestEngine_Invalidate(t *testing.T) {
	e, _ := newTestEngine(t)
	e.Query(Query{})
	e.Invalidate()
	e.Query(Query{})
	assert.Equal(t, uint64(2), e.Recomputes())
}
