// Package metrics provides real-time metrics tracking for the feed.
package metrics

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/memefeed/engine/internal/store"
)

// PricePoint represents a price at a specific time.
type PricePoint struct {
	Price     float64
	Timestamp time.Time
}

// TokenActivity tracks applied updates for a single token.
type TokenActivity struct {
	TokenID     string
	Symbol      string
	UpdateCount int
	LastPrice   float64
	MarketCap   float64
	PricePoints []PricePoint
	LastUpdate  time.Time
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	UpdatesReceived int64            `json:"updatesReceived"`
	UpdatesApplied  int64            `json:"updatesApplied"`
	UpdatesNoChange int64            `json:"updatesNoChange"`
	UpdatesDropped  int64            `json:"updatesDropped"`
	Malformed       int64            `json:"malformed"`
	TradesTotal     int64            `json:"tradesTotal"`
	Errors          int64            `json:"errors"`
	ArchiveFailed   int64            `json:"archiveFailed"`
	PublishDropped  int64            `json:"publishDropped"`
	AlertsByType    map[string]int64 `json:"alertsByType"`
	UpdateRate      float64          `json:"updateRate"` // applied updates per second
	TopMovers       []MoverStats     `json:"topMovers"`
	Uptime          time.Duration    `json:"uptime"`
	WebSocketStatus string           `json:"webSocketStatus"`
	LastSnapshot    time.Time        `json:"lastSnapshot"`
	SnapshotSource  string           `json:"snapshotSource"`
	SnapshotSize    int              `json:"snapshotSize"`
	Degraded        bool             `json:"degraded"`
	BufferUsed      int              `json:"bufferUsed"`
	BufferCap       int              `json:"bufferCap"`
}

// MoverStats represents a token with significant price movement.
type MoverStats struct {
	TokenID      string  `json:"tokenId"`
	Symbol       string  `json:"symbol"`
	PriceChange  float64 `json:"priceChange"` // percentage
	UpdateCount  int     `json:"updateCount"`
	CurrentPrice float64 `json:"currentPrice"`
	MarketCap    float64 `json:"marketCap"`
}

// Tracker provides thread-safe metrics tracking.
type Tracker struct {
	mu              sync.RWMutex
	updatesReceived int64
	updatesApplied  int64
	updatesNoChange int64
	updatesDropped  int64
	malformed       int64
	tradesTotal     int64
	errors          int64
	archiveFailed   int64
	publishDropped  int64
	alertsByType    map[string]int64
	tokenActivity   map[string]*TokenActivity
	startTime       time.Time
	appliedTimes    []time.Time // for rate calculation
	wsStatus        string
	lastSnapshot    time.Time
	snapshotSource  string
	snapshotSize    int
	degraded        bool
	bufferUsed      int
	bufferCap       int
	historyWindow   time.Duration
	now             func() time.Time
}

// NewTracker creates a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		alertsByType:  make(map[string]int64),
		tokenActivity: make(map[string]*TokenActivity),
		startTime:     time.Now(),
		appliedTimes:  make([]time.Time, 0, 1000),
		wsStatus:      "disconnected",
		historyWindow: 60 * time.Minute,
		now:           time.Now,
	}
}

// RecordReceived counts an event handed to the dispatcher.
func (m *Tracker) RecordReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatesReceived++
}

// RecordResult counts the outcome of a merge.
func (m *Tracker) RecordResult(res store.ApplyResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch res {
	case store.Applied:
		m.updatesApplied++
		now := m.now()
		m.appliedTimes = append(m.appliedTimes, now)
		m.appliedTimes = trimTimes(m.appliedTimes, now.Add(-60*time.Second))
	case store.NoChange:
		m.updatesNoChange++
	case store.Dropped:
		m.updatesDropped++
	}
}

// RecordMalformed counts a publication rejected before reaching the store.
func (m *Tracker) RecordMalformed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformed++
}

// RecordTrade counts a trade publication.
func (m *Tracker) RecordTrade() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradesTotal++
}

// RecordError counts a transport or subscription error.
func (m *Tracker) RecordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

// RecordArchiveFailed counts ticks the archive could not write.
func (m *Tracker) RecordArchiveFailed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiveFailed += int64(n)
}

// RecordPublishDropped counts change messages that never reached Redis.
func (m *Tracker) RecordPublishDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishDropped++
}

// IncrementAlert increments the counter for a specific alert type.
func (m *Tracker) IncrementAlert(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertsByType[alertType]++
}

// SetWebSocketStatus sets the WebSocket connection status.
func (m *Tracker) SetWebSocketStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsStatus = status
}

// RecordSnapshot notes a loaded snapshot and where it came from.
func (m *Tracker) RecordSnapshot(source string, size int, degraded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSnapshot = m.now()
	m.snapshotSource = source
	m.snapshotSize = size
	m.degraded = degraded
}

// SetBuffer sets the update channel usage.
func (m *Tracker) SetBuffer(used, capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bufferUsed = used
	m.bufferCap = capacity
}

// Name identifies the tracker as a change sink.
func (m *Tracker) Name() string { return "metrics" }

// HandleChange records price movement for applied updates.
func (m *Tracker) HandleChange(_ context.Context, ch store.Change) {
	if ch.Kind != store.ChangeUpdate {
		return
	}
	m.recordPrice(ch.After)
}

func (m *Tracker) recordPrice(rec store.TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	activity, exists := m.tokenActivity[rec.ID]
	if !exists {
		activity = &TokenActivity{
			TokenID:     rec.ID,
			PricePoints: make([]PricePoint, 0, 100),
		}
		m.tokenActivity[rec.ID] = activity
	}

	activity.Symbol = rec.Symbol
	activity.UpdateCount++
	activity.MarketCap = rec.MarketCap()
	activity.LastUpdate = now

	if rec.Price > 0 && rec.Price != activity.LastPrice {
		activity.PricePoints = append(activity.PricePoints, PricePoint{Price: rec.Price, Timestamp: now})
	}
	activity.LastPrice = rec.Price

	cutoff := now.Add(-m.historyWindow)
	validIdx := 0
	for i, p := range activity.PricePoints {
		if p.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx > 0 {
		activity.PricePoints = activity.PricePoints[validIdx:]
	}
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *Tracker) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Applied updates per second over the last 60s
	updateRate := 0.0
	if len(m.appliedTimes) > 0 {
		duration := m.now().Sub(m.appliedTimes[0]).Seconds()
		if duration > 0 {
			updateRate = float64(len(m.appliedTimes)) / duration
		}
	}

	alertsCopy := make(map[string]int64, len(m.alertsByType))
	for k, v := range m.alertsByType {
		alertsCopy[k] = v
	}

	return MetricsSnapshot{
		UpdatesReceived: m.updatesReceived,
		UpdatesApplied:  m.updatesApplied,
		UpdatesNoChange: m.updatesNoChange,
		UpdatesDropped:  m.updatesDropped,
		Malformed:       m.malformed,
		TradesTotal:     m.tradesTotal,
		Errors:          m.errors,
		ArchiveFailed:   m.archiveFailed,
		PublishDropped:  m.publishDropped,
		AlertsByType:    alertsCopy,
		UpdateRate:      updateRate,
		TopMovers:       m.calculateTopMovers(),
		Uptime:          time.Since(m.startTime),
		WebSocketStatus: m.wsStatus,
		LastSnapshot:    m.lastSnapshot,
		SnapshotSource:  m.snapshotSource,
		SnapshotSize:    m.snapshotSize,
		Degraded:        m.degraded,
		BufferUsed:      m.bufferUsed,
		BufferCap:       m.bufferCap,
	}
}

// calculateTopMovers finds tokens with the largest price changes, largest
// absolute move first. Must be called with lock held.
func (m *Tracker) calculateTopMovers() []MoverStats {
	movers := make([]MoverStats, 0, len(m.tokenActivity))

	for tokenID, activity := range m.tokenActivity {
		if len(activity.PricePoints) < 2 {
			continue
		}

		firstPrice := activity.PricePoints[0].Price
		lastPrice := activity.PricePoints[len(activity.PricePoints)-1].Price
		if firstPrice == 0 {
			continue
		}

		movers = append(movers, MoverStats{
			TokenID:      tokenID,
			Symbol:       activity.Symbol,
			PriceChange:  ((lastPrice - firstPrice) / firstPrice) * 100,
			UpdateCount:  activity.UpdateCount,
			CurrentPrice: lastPrice,
			MarketCap:    activity.MarketCap,
		})
	}

	sort.Slice(movers, func(i, j int) bool {
		ai, aj := math.Abs(movers[i].PriceChange), math.Abs(movers[j].PriceChange)
		if ai != aj {
			return ai > aj
		}
		return movers[i].TokenID < movers[j].TokenID
	})
	return movers
}

// Cleanup removes tokens with no recent updates.
func (m *Tracker) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.historyWindow)
	for id, activity := range m.tokenActivity {
		if activity.LastUpdate.Before(cutoff) {
			delete(m.tokenActivity, id)
		}
	}
}

// trimTimes drops timestamps at or before cutoff. The slice is ordered.
func trimTimes(times []time.Time, cutoff time.Time) []time.Time {
	for i, ts := range times {
		if ts.After(cutoff) {
			return times[i:]
		}
	}
	return times[:0]
}
