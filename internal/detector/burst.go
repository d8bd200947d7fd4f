package detector

import (
	"sync"
	"time"
)

// BurstTracker counts applied updates per token inside a sliding window.
type BurstTracker struct {
	mu      sync.Mutex
	updates map[string][]time.Time
	window  time.Duration
	now     func() time.Time
}

// NewBurstTracker creates a new BurstTracker with the specified window.
func NewBurstTracker(window time.Duration) *BurstTracker {
	return &BurstTracker{
		updates: make(map[string][]time.Time),
		window:  window,
		now:     time.Now,
	}
}

// Record adds an update for the token and returns the number of updates
// within the window, including the new one.
func (b *BurstTracker) Record(tokenID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	timestamps := expire(b.updates[tokenID], now.Add(-b.window))
	timestamps = append(timestamps, now)
	b.updates[tokenID] = timestamps

	return len(timestamps)
}

// Cleanup removes tokens with no updates inside the window.
// Should be called periodically to bound memory.
func (b *BurstTracker) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.window)
	for id, timestamps := range b.updates {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(b.updates, id)
		}
	}
}

// Len returns the number of tracked tokens.
func (b *BurstTracker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates)
}

// expire drops ordered timestamps at or before cutoff.
func expire(timestamps []time.Time, cutoff time.Time) []time.Time {
	for i, t := range timestamps {
		if t.After(cutoff) {
			return timestamps[i:]
		}
	}
	return timestamps[:0]
}
