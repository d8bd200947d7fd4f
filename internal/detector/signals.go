// Package detector raises alerts over applied token updates.
package detector

import (
	"context"
	"math"
	"time"

	"github.com/memefeed/engine/internal/config"
	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus"
)

// AlertCounter receives a tick per raised alert.
type AlertCounter interface {
	IncrementAlert(alertType string)
}

// Detector applies rules to applied collection changes.
type Detector struct {
	priceShock   float64 // fraction, 0.05 = 5%
	holderSurge  int64
	burstCount   int
	burstTracker *BurstTracker

	alerts  chan<- store.Alert
	counter AlertCounter
	log     logrus.FieldLogger
	now     func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithOutput sends raised alerts to ch. Sends never block.
func WithOutput(ch chan<- store.Alert) Option {
	return func(d *Detector) { d.alerts = ch }
}

// WithCounter counts raised alerts.
func WithCounter(c AlertCounter) Option {
	return func(d *Detector) { d.counter = c }
}

// WithLogger sets the detector's logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Detector) { d.log = log }
}

// NewDetector creates a new Detector.
func NewDetector(cfg *config.Config, opts ...Option) *Detector {
	d := &Detector{
		priceShock:   cfg.PriceShockPct / 100,
		holderSurge:  cfg.HolderSurgeCount,
		burstCount:   cfg.BurstCount,
		burstTracker: NewBurstTracker(cfg.BurstWindow),
		log:          logrus.StandardLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect analyzes an applied change and returns any alerts found.
func (d *Detector) Detect(ch store.Change) []store.Alert {
	if ch.Kind != store.ChangeUpdate {
		return nil
	}

	before, after := ch.Before, ch.After
	now := d.now()
	var alerts []store.Alert

	// Check 1: Price Shock
	if before.Price > 0 && after.Price != before.Price {
		pctChange := math.Abs(after.Price-before.Price) / before.Price
		if pctChange >= d.priceShock {
			alerts = append(alerts, store.Alert{
				Token:     after,
				AlertType: store.AlertPriceShock,
				At:        now,
				Meta: map[string]interface{}{
					"prev_price": before.Price,
					"new_price":  after.Price,
					"pct_change": pctChange,
				},
			})
		}
	}

	// Check 2: Holder Surge
	if d.holderSurge > 0 {
		if gained := after.Holders - before.Holders; gained >= d.holderSurge {
			alerts = append(alerts, store.Alert{
				Token:     after,
				AlertType: store.AlertHolderSurge,
				At:        now,
				Meta: map[string]interface{}{
					"prev_holders": before.Holders,
					"new_holders":  after.Holders,
				},
			})
		}
	}

	// Check 3: Hot Token
	// Fires once when the token crosses the burst threshold inside the window.
	if count := d.burstTracker.Record(after.ID); count == d.burstCount {
		alerts = append(alerts, store.Alert{
			Token:     after,
			AlertType: store.AlertHotToken,
			At:        now,
			Meta:      map[string]interface{}{"updates_in_window": count},
		})
	}

	return alerts
}

// Name identifies the detector as a change sink.
func (d *Detector) Name() string { return "detector" }

// HandleChange runs Detect and forwards the alerts.
func (d *Detector) HandleChange(_ context.Context, ch store.Change) {
	for _, alert := range d.Detect(ch) {
		if d.counter != nil {
			d.counter.IncrementAlert(alert.AlertType)
		}

		d.log.WithFields(logrus.Fields{
			"type":   alert.AlertType,
			"token":  alert.Token.ID,
			"symbol": alert.Token.Symbol,
		}).Debug("alert_raised")

		if d.alerts == nil {
			continue
		}
		select {
		case d.alerts <- alert:
		default:
			d.log.WithField("alert_type", alert.AlertType).Warn("alert_channel_full")
		}
	}
}

// Cleanup expires burst state.
func (d *Detector) Cleanup() {
	d.burstTracker.Cleanup()
}
