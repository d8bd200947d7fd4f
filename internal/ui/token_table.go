package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/memefeed/engine/internal/store"
	"github.com/rivo/tview"
)

var tokenHeaders = []string{"Token", "Address", "Age", "Price", "Volume", "MCap", "Progress", "Holders", "B/S"}

// TokenTableView displays the projected token list.
type TokenTableView struct {
	table   *tview.Table
	maxRows int
}

// NewTokenTableView creates a new token table view.
func NewTokenTableView() *TokenTableView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0).
		SetSelectable(true, false)

	table.SetTitle(" Tokens ").SetBorder(true)

	v := &TokenTableView{table: table, maxRows: 200}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *TokenTableView) Widget() tview.Primitive {
	return v.table
}

func (v *TokenTableView) setHeader() {
	for col, header := range tokenHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false).
			SetExpansion(1)
		v.table.SetCell(0, col, cell)
	}
}

// Update redraws the table with the projection.
func (v *TokenTableView) Update(records []store.TokenRecord, total int, now time.Time) {
	v.table.Clear()
	v.setHeader()

	if len(records) == 0 {
		cell := tview.NewTableCell("No tokens match").
			SetAlign(tview.AlignCenter).
			SetSelectable(false).
			SetExpansion(1)
		v.table.SetCell(1, 0, cell)
		v.table.SetTitle(" Tokens (0) ")
		return
	}

	limit := min(len(records), v.maxRows)
	for i, rec := range records[:limit] {
		row := i + 1

		cells := tokenRow(rec, now)
		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft).
				SetExpansion(1)
			if col == 6 {
				cell.SetTextColor(progressColor(rec.ClampedProgress()))
			}
			v.table.SetCell(row, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Tokens (%d/%d) ", limit, total))
}

// tokenRow formats one record in tokenHeaders order.
func tokenRow(rec store.TokenRecord, now time.Time) []string {
	return []string{
		fmt.Sprintf("%s %s", rec.Symbol, truncate(rec.Name, 18)),
		rec.ShortAddress,
		FormatTimeAgo(rec.CreatedAt, now),
		FormatPrice(rec.Price),
		FormatCurrency(rec.Volume()),
		FormatCurrency(rec.MarketCap()),
		fmt.Sprintf("%.1f%%", rec.ClampedProgress()),
		fmt.Sprintf("%d", rec.Holders),
		fmt.Sprintf("%d/%d", rec.Buys, rec.Sells),
	}
}

func progressColor(p float64) tcell.Color {
	switch {
	case p >= 75:
		return tcell.ColorGreen
	case p >= 25:
		return tcell.ColorYellow
	default:
		return tcell.ColorWhite
	}
}
