package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/memefeed/engine/internal/store"
	"github.com/rivo/tview"
)

var tradeHeaders = []string{"Time", "Pair", "Side", "Price", "Amount", "Trader"}

// LiveTradesView displays a scrolling feed of incoming trades.
type LiveTradesView struct {
	table   *tview.Table
	trades  []store.TradeUpdate
	maxRows int
}

// NewLiveTradesView creates a new live trades view.
func NewLiveTradesView() *LiveTradesView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Live Trades ").SetBorder(true)

	v := &LiveTradesView{
		table:   table,
		trades:  make([]store.TradeUpdate, 0, 100),
		maxRows: 100,
	}
	v.updateTable()
	return v
}

// Widget returns the tview primitive.
func (v *LiveTradesView) Widget() tview.Primitive {
	return v.table
}

// AddTrade adds a new trade to the view.
func (v *LiveTradesView) AddTrade(trade store.TradeUpdate) {
	// Newest first
	v.trades = append([]store.TradeUpdate{trade}, v.trades...)

	// Trim to max rows
	if len(v.trades) > v.maxRows {
		v.trades = v.trades[:v.maxRows]
	}

	// Update display
	v.updateTable()
}

// Refresh redraws the table.
func (v *LiveTradesView) Refresh() {
	v.updateTable()
}

// updateTable rebuilds the table from the trade list.
func (v *LiveTradesView) updateTable() {
	// Clear table and re-add header
	v.table.Clear()

	for col, header := range tradeHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}

	// Add trades
	for i, trade := range v.trades {
		row := i + 1

		// Format side
		side := trade.Type
		sideColor := tcell.ColorWhite
		switch side {
		case "buy":
			sideColor = tcell.ColorGreen
		case "sell":
			sideColor = tcell.ColorRed
		case "":
			side = "?"
		}

		// Truncate trader
		trader := truncateAddress(trade.Trader)
		if trader == "" {
			trader = "unknown"
		}

		cells := []string{
			truncate(trade.Timestamp, 19), // upstream string, display only
			truncateAddress(trade.PairID),
			side,
			FormatPrice(trade.Price),
			FormatNumber(trade.Amount, 2),
			trader,
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft)
			if col == 2 {
				cell.SetTextColor(sideColor)
			}
			v.table.SetCell(row, col, cell)
		}
	}

	// Update title with count
	v.table.SetTitle(fmt.Sprintf(" Live Trades (%d) ", len(v.trades)))
}

// truncateAddress truncates an address for display.
func truncateAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}
