package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/memefeed/engine/internal/store"
	"github.com/rivo/tview"
)

// AlertsView displays detected token alerts.
type AlertsView struct {
	list     *tview.List
	alerts   []store.Alert
	maxItems int
}

// NewAlertsView creates a new alerts view.
func NewAlertsView() *AlertsView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" Alerts ").SetBorder(true)
	list.SetMainTextColor(tcell.ColorWhite)

	v := &AlertsView{
		list:     list,
		alerts:   make([]store.Alert, 0, 50),
		maxItems: 50,
	}
	v.rebuildList()
	return v
}

// Widget returns the tview primitive.
func (v *AlertsView) Widget() tview.Primitive {
	return v.list
}

// AddAlert adds a new alert to the front of the list.
func (v *AlertsView) AddAlert(alert store.Alert) {
	v.alerts = append([]store.Alert{alert}, v.alerts...)
	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}
	v.rebuildList()
}

// Refresh redraws the list.
func (v *AlertsView) Refresh() {
	v.rebuildList()
}

func (v *AlertsView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No alerts yet", "", 0, nil)
		return
	}

	for _, alert := range v.alerts {
		mainText, secondaryText := formatAlert(alert)
		v.list.AddItem(mainText, secondaryText, 0, nil)
	}

	v.list.SetTitle(fmt.Sprintf(" Alerts (%d) ", len(v.alerts)))
}

// formatAlert renders an alert as list main and secondary text.
func formatAlert(alert store.Alert) (string, string) {
	var icon string
	switch alert.AlertType {
	case store.AlertPriceShock:
		icon = "📈"
	case store.AlertHolderSurge:
		icon = "👥"
	case store.AlertHotToken:
		icon = "🔥"
	default:
		icon = "❓"
	}

	mainText := fmt.Sprintf("%s %s %s %s",
		alert.At.Format("15:04:05"), icon, alert.AlertType, alert.Token.Symbol)

	secondaryText := fmt.Sprintf("%s | %s | MCap %s",
		alert.Token.ShortAddress, FormatPrice(alert.Token.Price), FormatCurrency(alert.Token.MarketCap()))

	if pct, ok := alert.Meta["pct_change"].(float64); ok {
		secondaryText += fmt.Sprintf(" | Δ%.2f%%", pct*100)
	}
	if prev, ok := alert.Meta["prev_holders"].(int64); ok {
		secondaryText += fmt.Sprintf(" | holders %d→%d", prev, alert.Token.Holders)
	}
	if n, ok := alert.Meta["updates_in_window"].(int); ok {
		secondaryText += fmt.Sprintf(" | %d updates", n)
	}

	return mainText, secondaryText
}
