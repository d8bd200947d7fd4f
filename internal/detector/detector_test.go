package detector

import (
	"context"
	"testing"
	"time"

	"github.com/memefeed/engine/internal/config"
	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		PriceShockPct:    5,
		HolderSurgeCount: 50,
		BurstCount:       3,
		BurstWindow:      60 * time.Second,
	}
}

func update(before, after store.TokenRecord) store.Change {
	return store.Change{Kind: store.ChangeUpdate, Before: before, After: after}
}

func alertTypes(alerts []store.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.AlertType
	}
	return out
}

func TestDetector_PriceShock(t *testing.T) {
	d := NewDetector(testConfig())

	alerts := d.Detect(update(
		store.TokenRecord{ID: "A", Price: 1.00},
		store.TokenRecord{ID: "A", Price: 1.06},
	))
	require.Equal(t, []string{store.AlertPriceShock}, alertTypes(alerts))
	assert.InDelta(t, 0.06, alerts[0].Meta["pct_change"].(float64), 1e-9)

	// Below threshold.
	alerts = d.Detect(update(
		store.TokenRecord{ID: "B", Price: 1.00},
		store.TokenRecord{ID: "B", Price: 1.04},
	))
	assert.Empty(t, alerts)

	// Unknown previous price never shocks.
	alerts = d.Detect(update(
		store.TokenRecord{ID: "C"},
		store.TokenRecord{ID: "C", Price: 4},
	))
	assert.Empty(t, alerts)
}

func TestDetector_HolderSurge(t *testing.T) {
	d := NewDetector(testConfig())

	alerts := d.Detect(update(
		store.TokenRecord{ID: "A", Holders: 100},
		store.TokenRecord{ID: "A", Holders: 150},
	))
	assert.Equal(t, []string{store.AlertHolderSurge}, alertTypes(alerts))

	alerts = d.Detect(update(
		store.TokenRecord{ID: "B", Holders: 100},
		store.TokenRecord{ID: "B", Holders: 149},
	))
	assert.Empty(t, alerts)
}

func TestDetector_HotTokenFiresOnce(t *testing.T) {
	d := NewDetector(testConfig())
	rec := store.TokenRecord{ID: "HOT", Buys: 1}

	var fired int
	for i := 0; i < 5; i++ {
		for _, a := range d.Detect(update(rec, rec)) {
			if a.AlertType == store.AlertHotToken {
				fired++
			}
		}
	}
	assert.Equal(t, 1, fired)
}

func TestDetector_IgnoresSnapshots(t *testing.T) {
	d := NewDetector(testConfig())
	assert.Nil(t, d.Detect(store.Change{Kind: store.ChangeSnapshot, Size: 10}))
}

type countingSink map[string]int

func (c countingSink) IncrementAlert(alertType string) { c[alertType]++ }

func TestDetector_HandleChangeForwards(t *testing.T) {
	out := make(chan store.Alert, 1)
	counts := countingSink{}
	log, hook := test.NewNullLogger()

	d := NewDetector(testConfig(), WithOutput(out), WithCounter(counts), WithLogger(log))

	shock := update(store.TokenRecord{ID: "A", Price: 1}, store.TokenRecord{ID: "A", Price: 2})
	d.HandleChange(context.Background(), shock)
	d.HandleChange(context.Background(), shock)

	assert.Equal(t, 2, counts[store.AlertPriceShock])
	require.Len(t, out, 1)
	assert.Equal(t, "A", (<-out).Token.ID)

	// Second alert found the channel full and was logged, not blocked on.
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "alert_channel_full", hook.LastEntry().Message)
}

func TestBurstTracker(t *testing.T) {
	b := NewBurstTracker(time.Minute)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }

	assert.Equal(t, 1, b.Record("A"))
	assert.Equal(t, 2, b.Record("A"))
	assert.Equal(t, 1, b.Record("B"))

	clock = clock.Add(61 * time.Second)
	assert.Equal(t, 1, b.Record("A"))

	b.Cleanup()
	assert.Equal(t, 1, b.Len())
}
