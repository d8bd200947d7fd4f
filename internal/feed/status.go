package feed

import (
	"time"

	"github.com/memefeed/engine/internal/ingest"
)

// Status is a point-in-time view of the feed for the API and dashboard.
type Status struct {
	Connected     bool                  `json:"connected"`
	Degraded      bool                  `json:"degraded"`
	Tokens        int                   `json:"tokens"`
	Version       uint64                `json:"version"`
	LastRefresh   *RefreshResult        `json:"lastRefresh,omitempty"`
	RefreshError  string                `json:"refreshError,omitempty"`
	Subscriptions []ingest.HandleStatus `json:"subscriptions"`
	TradePairs    []string              `json:"tradePairs"`
	BufferUsed    int                   `json:"bufferUsed"`
	BufferCap     int                   `json:"bufferCap"`
	CheckedAt     time.Time             `json:"checkedAt"`
}

// Status reports the feed's current state.
func (f *Feed) Status() Status {
	st := Status{
		Tokens:        f.coll.Len(),
		Version:       f.coll.Version(),
		Subscriptions: []ingest.HandleStatus{},
		TradePairs:    f.TradePairs(),
		BufferUsed:    len(f.updates),
		BufferCap:     cap(f.updates),
		CheckedAt:     f.now(),
	}

	if sub := f.attached(); sub != nil {
		st.Connected = sub.Connected()
		st.Subscriptions = sub.Handles()
	}

	f.mu.RLock()
	if !f.lastRefresh.At.IsZero() {
		last := f.lastRefresh
		st.LastRefresh = &last
		st.Degraded = last.Degraded
	}
	if f.refreshErr != nil {
		st.RefreshError = f.refreshErr.Error()
	}
	f.mu.RUnlock()

	return st
}
