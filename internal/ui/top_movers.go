package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/memefeed/engine/internal/metrics"
	"github.com/rivo/tview"
)

var moverHeaders = []string{"Token", "Change", "Updates", "Price", "MCap"}

// TopMoversView displays tokens with the largest recent price changes.
type TopMoversView struct {
	table *tview.Table
}

// NewTopMoversView creates a new top movers view.
func NewTopMoversView() *TopMoversView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Top Movers ").SetBorder(true)

	return &TopMoversView{
		table: table,
	}
}

// Widget returns the tview primitive.
func (v *TopMoversView) Widget() tview.Primitive {
	return v.table
}

// Update refreshes the top movers display. Movers arrive sorted by absolute
// change.
func (v *TopMoversView) Update(snapshot metrics.MetricsSnapshot) {
	// Clear table and re-add header
	v.table.Clear()

	for col, header := range moverHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}

	// Show top 10
	movers := snapshot.TopMovers
	limit := min(len(movers), 10)

	if limit == 0 {
		// No data yet
		cell := tview.NewTableCell("No data yet...").
			SetAlign(tview.AlignCenter).
			SetExpansion(1)
		v.table.SetCell(1, 0, cell)
		return
	}

	for i, mover := range movers[:limit] {
		row := i + 1

		// Format price change with color
		changeColor := tcell.ColorWhite
		if mover.PriceChange > 0 {
			changeColor = tcell.ColorGreen
		} else if mover.PriceChange < 0 {
			changeColor = tcell.ColorRed
		}

		// Token symbol
		v.table.SetCell(row, 0, tview.NewTableCell(truncate(mover.Symbol, 12)).SetAlign(tview.AlignLeft))

		// Price change
		v.table.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%+.2f%%", mover.PriceChange)).
			SetAlign(tview.AlignRight).
			SetTextColor(changeColor))

		// Update count, price and market cap
		v.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", mover.UpdateCount)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 3, tview.NewTableCell(FormatPrice(mover.CurrentPrice)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 4, tview.NewTableCell(FormatCurrency(mover.MarketCap)).SetAlign(tview.AlignRight))
	}
}
