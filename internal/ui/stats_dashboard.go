package ui

import (
	"fmt"
	"time"

	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/store"
	"github.com/rivo/tview"
)

// StatsDashboardView displays feed health and throughput.
type StatsDashboardView struct {
	textView *tview.TextView
}

// NewStatsDashboardView creates a new stats dashboard view.
func NewStatsDashboardView() *StatsDashboardView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Feed Stats ").SetBorder(true)

	return &StatsDashboardView{
		textView: textView,
	}
}

// Widget returns the tview primitive.
func (v *StatsDashboardView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *StatsDashboardView) Update(snapshot metrics.MetricsSnapshot, now time.Time) {
	v.textView.Clear()
	fmt.Fprint(v.textView, renderStats(snapshot, now))
}

// renderStats builds the dashboard text.
func renderStats(snapshot metrics.MetricsSnapshot, now time.Time) string {
	wsColor := "red"
	switch snapshot.WebSocketStatus {
	case "connected":
		wsColor = "green"
	case "reconnecting":
		wsColor = "yellow"
	}

	source := snapshot.SnapshotSource
	if source == "" {
		source = "none"
	}
	if snapshot.Degraded {
		source = fmt.Sprintf("[yellow]%s (degraded)[-]", source)
	}

	bufferPct := 0.0
	if snapshot.BufferCap > 0 {
		bufferPct = (float64(snapshot.BufferUsed) / float64(snapshot.BufferCap)) * 100
	}

	return fmt.Sprintf(`[yellow]System Status[-]
Uptime: %s
WebSocket: [%s]%s[-]
Snapshot: %s, %d tokens, %s

[yellow]Updates[-]
Received: %d
Applied: %d  Unchanged: %d
Unknown token: %d  Malformed: %d
Rate: %.2f updates/sec
Trades: %d  Errors: %d

[yellow]Alerts[-]
Price Shock: %d
Holder Surge: %d
Hot Token: %d

[yellow]Performance[-]
Update Buffer: %d/%d (%.1f%%)
Archive lost: %d  Publish dropped: %d
`,
		formatDuration(snapshot.Uptime),
		wsColor, snapshot.WebSocketStatus,
		source, snapshot.SnapshotSize, FormatTimeAgo(snapshot.LastSnapshot, now),
		snapshot.UpdatesReceived,
		snapshot.UpdatesApplied, snapshot.UpdatesNoChange,
		snapshot.UpdatesDropped, snapshot.Malformed,
		snapshot.UpdateRate,
		snapshot.TradesTotal, snapshot.Errors,
		snapshot.AlertsByType[store.AlertPriceShock],
		snapshot.AlertsByType[store.AlertHolderSurge],
		snapshot.AlertsByType[store.AlertHotToken],
		snapshot.BufferUsed, snapshot.BufferCap, bufferPct,
		snapshot.ArchiveFailed, snapshot.PublishDropped,
	)
}
