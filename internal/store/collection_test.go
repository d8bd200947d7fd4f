package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestCollection() *Collection {
	return NewCollection(WithClock(func() time.Time { return fixedNow }))
}

func sampleRecords() []TokenRecord {
	return []TokenRecord{
		{ID: "So1aTokenAAAA1111", Name: "Alpha", Symbol: "ALP", Price: 0.002, MarketCapUSD: 5000, Holders: 10, CreatedAt: fixedNow.Add(-2 * time.Hour)},
		{ID: "So1aTokenBBBB2222", Name: "Beta", Symbol: "BET", Price: 0.5, MarketCapUSD: 50000, Holders: 200, CreatedAt: fixedNow.Add(-1 * time.Hour)},
	}
}

func TestLoadSnapshot_SetEquality(t *testing.T) {
	c := newTestCollection()
	recs := sampleRecords()
	c.LoadSnapshot(recs)

	got := c.GetAll()
	require.Len(t, got, len(recs))

	byID := make(map[string]TokenRecord)
	for _, r := range got {
		byID[r.ID] = r
	}
	for _, want := range recs {
		have, ok := byID[want.ID]
		require.True(t, ok, "missing %s", want.ID)
		assert.Equal(t, want.Name, have.Name)
		assert.Equal(t, want.Price, have.Price)
		assert.Equal(t, want.MarketCapUSD, have.MarketCapUSD)
		assert.Equal(t, want.CreatedAt, have.CreatedAt)
	}
}

func TestLoadSnapshot_ReplacesAndRemoves(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())

	c.LoadSnapshot([]TokenRecord{{ID: "So1aTokenCCCC3333", Name: "Gamma"}})

	assert.Equal(t, 1, c.Len())
	_, ok := c.GetByID("So1aTokenAAAA1111")
	assert.False(t, ok)
	rec, ok := c.GetByID("So1aTokenCCCC3333")
	require.True(t, ok)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, "So1a...3333", rec.ShortAddress)
}

func TestLoadSnapshot_KeepsCreatedAtAcrossRefresh(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())

	// Refresh without createdAt must not reset the token's age.
	c.LoadSnapshot([]TokenRecord{{ID: "So1aTokenAAAA1111", Name: "Alpha"}})

	rec, ok := c.GetByID("So1aTokenAAAA1111")
	require.True(t, ok)
	assert.Equal(t, fixedNow.Add(-2*time.Hour), rec.CreatedAt)
}

func TestLoadSnapshot_DuplicateIDs(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot([]TokenRecord{
		{ID: "A", Name: "first"},
		{ID: "B", Name: "b"},
		{ID: "A", Name: "second"},
	})

	all := c.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "A", all[0].ID)
	assert.Equal(t, "second", all[0].Name)
}

func TestApplyUpdate_Applied(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())
	v := c.Version()

	change, res := c.ApplyUpdate(TokenUpdateEvent{
		TokenID:      "So1aTokenAAAA1111",
		MarketCapUSD: Float64(7500),
		Holders:      Int64(12),
		LastUpdated:  Int64(1700000000000),
	})

	require.Equal(t, Applied, res)
	assert.Equal(t, v+1, c.Version())
	assert.Equal(t, float64(5000), change.Before.MarketCapUSD)
	assert.Equal(t, float64(7500), change.After.MarketCapUSD)

	rec, _ := c.GetByID("So1aTokenAAAA1111")
	assert.Equal(t, float64(7500), rec.MarketCap())
	assert.Equal(t, int64(12), rec.Holders)
	assert.Equal(t, int64(1700000000000), rec.LastUpdated)
	assert.Equal(t, "Alpha", rec.Name)
}

func TestApplyUpdate_Idempotent(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())

	ev := TokenUpdateEvent{TokenID: "So1aTokenBBBB2222", Price: Float64(0.75), Buys: Int64(3)}

	_, first := c.ApplyUpdate(ev)
	afterFirst := c.GetAll()
	version := c.Version()

	_, second := c.ApplyUpdate(ev)

	assert.Equal(t, Applied, first)
	assert.Equal(t, NoChange, second)
	assert.Equal(t, afterFirst, c.GetAll())
	assert.Equal(t, version, c.Version())
}

func TestApplyUpdate_NoChangeDoesNotNotify(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())

	notifications := 0
	cancel := c.Observe(func(Change) { notifications++ })
	defer cancel()

	_, res := c.ApplyUpdate(TokenUpdateEvent{
		TokenID:      "So1aTokenAAAA1111",
		Price:        Float64(0.002),
		MarketCapUSD: Float64(5000),
		Holders:      Int64(10),
		// A fresh timestamp alone is not a change.
		LastUpdated: Int64(1700000009999),
	})

	assert.Equal(t, NoChange, res)
	assert.Equal(t, 0, notifications)

	_, res = c.ApplyUpdate(TokenUpdateEvent{TokenID: "So1aTokenAAAA1111", Holders: Int64(11)})
	assert.Equal(t, Applied, res)
	assert.Equal(t, 1, notifications)
}

func TestApplyUpdate_AbsentCountersUntouched(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot([]TokenRecord{{ID: "A", Price: 1.5, Holders: 500, Buys: 40, Sells: 12}})
	version := c.Version()

	_, res := c.ApplyUpdate(TokenUpdateEvent{TokenID: "A", Price: Float64(1.5)})
	assert.Equal(t, NoChange, res)
	assert.Equal(t, version, c.Version())

	rec, ok := c.GetByID("A")
	require.True(t, ok)
	assert.Equal(t, int64(500), rec.Holders)
	assert.Equal(t, int64(40), rec.Buys)
	assert.Equal(t, int64(12), rec.Sells)
}

func TestApplyUpdate_ZeroIsAValue(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())

	_, res := c.ApplyUpdate(TokenUpdateEvent{TokenID: "So1aTokenBBBB2222", Price: Float64(0)})
	require.Equal(t, Applied, res)

	rec, _ := c.GetByID("So1aTokenBBBB2222")
	assert.Equal(t, float64(0), rec.Price)
}

func TestApplyUpdate_DropUnknown(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())
	size := c.Len()

	_, res := c.ApplyUpdate(TokenUpdateEvent{TokenID: "unknown", Price: Float64(1)})

	assert.Equal(t, Dropped, res)
	assert.Equal(t, size, c.Len())
	_, ok := c.GetByID("unknown")
	assert.False(t, ok)
}

func TestApplyUpdate_DerivedPercentages(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())

	_, res := c.ApplyUpdate(TokenUpdateEvent{
		TokenID:         "So1aTokenAAAA1111",
		CreatorSharePct: Float64(0.1978),
		TopHoldersPct:   Float64(0.4321),
	})
	require.Equal(t, Applied, res)

	rec, _ := c.GetByID("So1aTokenAAAA1111")
	assert.Equal(t, 19.78, rec.DevHolderPct)
	assert.Equal(t, 43.21, rec.Top10HolderPct)

	// Same raw fraction again compares equal after conversion.
	_, res = c.ApplyUpdate(TokenUpdateEvent{TokenID: "So1aTokenAAAA1111", CreatorSharePct: Float64(0.1978)})
	assert.Equal(t, NoChange, res)
}

func TestGetAll_StableOrderAcrossUpdates(t *testing.T) {
	c := newTestCollection()
	c.LoadSnapshot(sampleRecords())
	before := c.GetAll()

	c.ApplyUpdate(TokenUpdateEvent{TokenID: "So1aTokenAAAA1111", MarketCapUSD: Float64(1e9)})

	after := c.GetAll()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
	}
}

func TestObserve_Cancel(t *testing.T) {
	c := newTestCollection()
	calls := 0
	cancel := c.Observe(func(ch Change) {
		calls++
		assert.Equal(t, ChangeSnapshot, ch.Kind)
	})

	c.LoadSnapshot(sampleRecords())
	cancel()
	c.LoadSnapshot(sampleRecords())

	assert.Equal(t, 1, calls)
}

func TestFractionToPercent(t *testing.T) {
	assert.Equal(t, 19.78, FractionToPercent(0.1978))
	assert.Equal(t, 0.0, FractionToPercent(0))
	assert.Equal(t, 100.0, FractionToPercent(1))
	assert.Equal(t, 12.35, FractionToPercent(0.123456))
}

func TestRecordAliases(t *testing.T) {
	r := TokenRecord{VolumeUSD: 900, MarketCapUSD: 1234, Progress: 140}
	assert.Equal(t, float64(900), r.Volume())
	r.VolumeSol = 12
	assert.Equal(t, float64(12), r.Volume())
	assert.Equal(t, float64(1234), r.MarketCap())
	assert.Equal(t, float64(100), r.ClampedProgress())
	r.Progress = -3
	assert.Equal(t, float64(0), r.ClampedProgress())
}
