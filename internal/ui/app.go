// Package ui provides the terminal dashboard.
package ui

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/memefeed/engine/internal/metrics"
	"github.com/memefeed/engine/internal/store"
	"github.com/memefeed/engine/internal/view"
	"github.com/rivo/tview"
	"github.com/sirupsen/logrus"
)

const helpText = "[gray]/ search  s sort  1-4 filters  c clear  r refresh  q quit[-]"

// Projector answers projection queries.
type Projector interface {
	Query(q view.Query) []store.TokenRecord
}

// Deps are the data sources the dashboard reads.
type Deps struct {
	View        Projector
	Tracker     *metrics.Tracker
	Alerts      <-chan store.Alert
	Trades      <-chan store.TradeUpdate
	Refresh     func(ctx context.Context) error
	RefreshRate time.Duration
	Logger      logrus.FieldLogger
}

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	search     *tview.InputField
	statusLine *tview.TextView
	tokens     *TokenTableView
	alerts     *AlertsView
	trades     *LiveTradesView
	stats      *StatsDashboardView
	movers     *TopMoversView

	deps Deps
	log  logrus.FieldLogger

	mu       sync.Mutex
	controls *Controls

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application.
func NewApp(deps Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())

	if deps.RefreshRate <= 0 {
		deps.RefreshRate = 500 * time.Millisecond
	}
	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	a := &App{
		app:      tview.NewApplication(),
		deps:     deps,
		log:      log,
		controls: NewControls(),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.tokens = NewTokenTableView()
	a.alerts = NewAlertsView()
	a.trades = NewLiveTradesView()
	a.stats = NewStatsDashboardView()
	a.movers = NewTopMoversView()

	a.search = tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(30)
	a.search.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			a.search.SetText("")
		}
		a.app.SetFocus(a.tokens.Widget())
	})
	a.search.SetChangedFunc(func(text string) {
		a.mu.Lock()
		a.controls.SetSearch(text)
		a.mu.Unlock()
		a.redraw()
	})

	a.statusLine = tview.NewTextView().SetDynamicColors(true)

	a.setupLayout()
	a.setupKeyboard()
	a.renderStatusLine()

	return a
}

// setupLayout creates the dashboard layout.
func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.search, 45, 0, false).
		AddItem(a.statusLine, 0, 1, false)

	// Middle row: Tokens (left) | Alerts (right)
	middleRow := tview.NewFlex().
		AddItem(a.tokens.Widget(), 0, 3, true).
		AddItem(a.alerts.Widget(), 0, 1, false)

	// Bottom row: Stats | Top Movers | Live Trades
	bottomRow := tview.NewFlex().
		AddItem(a.stats.Widget(), 0, 1, false).
		AddItem(a.movers.Widget(), 0, 1, false).
		AddItem(a.trades.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(middleRow, 0, 3, true).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true).SetFocus(a.tokens.Widget())
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			a.Stop()
			return nil
		}

		// The search box gets every key while focused.
		if a.app.GetFocus() == a.search {
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		switch r := event.Rune(); r {
		case 'q', 'Q':
			a.Stop()
		case '/':
			a.app.SetFocus(a.search)
		case 's', 'S':
			a.update(func(c *Controls) { c.CycleSort() })
		case '1', '2', '3', '4':
			a.update(func(c *Controls) { c.CycleFacet(int(r - '1')) })
		case 'c', 'C':
			a.search.SetText("")
			a.update(func(c *Controls) { c.Clear() })
		case 'r', 'R':
			go a.refresh()
		default:
			return event
		}
		return nil
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.processAlerts()
	go a.processTrades()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// update applies fn to the controls and redraws. Runs on the UI goroutine.
func (a *App) update(fn func(*Controls)) {
	a.mu.Lock()
	fn(a.controls)
	a.mu.Unlock()
	a.renderStatusLine()
	a.redraw()
}

func (a *App) query() view.Query {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.controls.Query()
}

func (a *App) renderStatusLine() {
	a.mu.Lock()
	desc := a.controls.Describe()
	a.mu.Unlock()
	a.statusLine.SetText(" " + desc + "  " + helpText)
}

// redraw re-renders the token table from the current query. Runs on the UI
// goroutine.
func (a *App) redraw() {
	records := a.deps.View.Query(a.query())
	a.tokens.Update(records, len(records), time.Now())
}

// processAlerts reads from the alert channel and updates the alerts view.
func (a *App) processAlerts() {
	if a.deps.Alerts == nil {
		return
	}
	for {
		select {
		case <-a.ctx.Done():
			return
		case alert, ok := <-a.deps.Alerts:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.alerts.AddAlert(alert)
			})
		}
	}
}

// processTrades reads from the trade channel and updates the trades view.
func (a *App) processTrades() {
	if a.deps.Trades == nil {
		return
	}
	for {
		select {
		case <-a.ctx.Done():
			return
		case trade, ok := <-a.deps.Trades:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.trades.AddTrade(trade)
			})
		}
	}
}

// updateLoop periodically refreshes views. The projection is cached by
// collection version so unchanged ticks are cheap.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.deps.RefreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			records := a.deps.View.Query(a.query())
			snapshot := a.deps.Tracker.Snapshot()
			now := time.Now()

			a.app.QueueUpdateDraw(func() {
				a.tokens.Update(records, len(records), now)
				a.stats.Update(snapshot, now)
				a.movers.Update(snapshot)
			})
		}
	}
}

// refresh reloads the snapshot on demand.
func (a *App) refresh() {
	if a.deps.Refresh == nil {
		return
	}
	if err := a.deps.Refresh(a.ctx); err != nil {
		a.log.WithError(err).Warn("manual_refresh_failed")
	}
}
