package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/store"
	"github.com/memefeed/engine/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControls(t *testing.T) {
	c := NewControls()
	assert.Equal(t, view.DefaultSort, c.Query().Sort)
	assert.Equal(t, view.DefaultFilters, c.Query().Filters)

	c.CycleSort()
	assert.Equal(t, view.SortVolume, c.Query().Sort)

	c.CycleFacet(1)
	assert.Equal(t, "mc-0-10k", c.Query().Filters.MarketCap)
	c.CycleFacet(9) // out of range is ignored
	c.SetSearch("dog")

	desc := c.Describe()
	assert.Contains(t, desc, "Sort: [yellow]Volume[-]")
	assert.Contains(t, desc, "Search: [yellow]dog[-]")
	assert.Contains(t, desc, "2:$0 - $10K")

	c.Clear()
	assert.Empty(t, c.Query().Search)
	assert.Equal(t, view.DefaultFilters, c.Query().Filters)
	assert.Equal(t, view.SortVolume, c.Query().Sort)
}

func TestTokenRow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := store.TokenRecord{
		ID:           "So11111111111111111111111111111111111111112",
		Name:         "Wrapped Doge",
		Symbol:       "WDOGE",
		ShortAddress: "So11...1112",
		Price:        0.0005,
		VolumeSol:    1_300,
		VolumeUSD:    90_000,
		MarketCapUSD: 500_000,
		Progress:     140,
		Holders:      42,
		Buys:         7,
		Sells:        3,
		CreatedAt:    now.Add(-2 * time.Hour),
	}

	row := tokenRow(rec, now)
	require.Len(t, row, len(tokenHeaders))
	assert.Equal(t, "WDOGE Wrapped Doge", row[0])
	assert.Equal(t, "2h ago", row[2])
	assert.Equal(t, "$0.000500", row[3])
	assert.Equal(t, "$1.3K", row[4]) // streamed volume wins
	assert.Equal(t, "$500.0K", row[5])
	assert.Equal(t, "100.0%", row[6])
	assert.Equal(t, "7/3", row[8])
}

func TestFormatAlert(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	main, secondary := formatAlert(store.Alert{
		Token:     store.TokenRecord{Symbol: "PEPE", ShortAddress: "Pe...pe", Price: 0.02, Holders: 300},
		AlertType: store.AlertHolderSurge,
		At:        at,
		Meta:      map[string]interface{}{"prev_holders": int64(200)},
	})

	assert.Equal(t, "09:30:00 👥 HOLDER_SURGE PEPE", main)
	assert.Contains(t, secondary, "holders 200→300")
	assert.Contains(t, secondary, "$0.0200")
}

func TestRenderStats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	text := renderStats(metrics.MetricsSnapshot{
		UpdatesReceived: 10,
		UpdatesApplied:  7,
		AlertsByType:    map[string]int64{store.AlertHotToken: 2},
		WebSocketStatus: "connected",
		LastSnapshot:    now.Add(-30 * time.Second),
		SnapshotSource:  "fallback",
		SnapshotSize:    2,
		Degraded:        true,
		BufferUsed:      25,
		BufferCap:       100,
		ArchiveFailed:   3,
		PublishDropped:  1,
	}, now)

	assert.Contains(t, text, "[green]connected[-]")
	assert.Contains(t, text, "fallback (degraded)")
	assert.Contains(t, text, "2 tokens, 30s ago")
	assert.Contains(t, text, "Hot Token: 2")
	assert.True(t, strings.Contains(text, "25/100 (25.0%)"))
	assert.Contains(t, text, "Archive lost: 3  Publish dropped: 1")
}
