package feed

import (
	"github.com/memefeed/engine/internal/ingest"
	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus"
)

// OnConnected re-subscribes the token channel, every watched trade pair and
// any other channel left idle by the previous connection.
func (f *Feed) OnConnected() {
	f.tracker.SetWebSocketStatus("connected")

	sub := f.attached()
	if sub == nil {
		return
	}

	ctx := f.context()
	token := sub.TokenChannel()
	f.resubscribe(token, func() error {
		_, err := sub.Subscribe(ctx, token)
		return err
	})

	covered := map[string]bool{token: true}
	for _, pair := range f.TradePairs() {
		channel := ingest.TradeChannelPrefix + pair
		covered[channel] = true
		f.resubscribe(channel, func() error {
			_, err := sub.SubscribeTrades(ctx, pair)
			return err
		})
	}

	for _, h := range sub.Handles() {
		if covered[h.Channel] || h.State != ingest.Idle.String() {
			continue
		}
		channel := h.Channel
		f.resubscribe(channel, func() error {
			_, err := sub.Subscribe(ctx, channel)
			return err
		})
	}
}

func (f *Feed) resubscribe(channel string, subscribe func() error) {
	if err := subscribe(); err != nil {
		f.log.WithError(err).WithField("channel", channel).Warn("resubscribe_failed")
		return
	}
	f.log.WithField("channel", channel).Info("subscribed")
}

// OnDisconnected implements ingest.EventSink.
func (f *Feed) OnDisconnected(err error) {
	f.tracker.SetWebSocketStatus("reconnecting")
}

// OnError marks the feed as not connected until the next successful connect.
func (f *Feed) OnError(err error) {
	f.tracker.RecordError()
	f.tracker.SetWebSocketStatus("error")
	f.log.WithError(err).Warn("feed_error")
}

// OnTokenUpdate implements ingest.EventSink. It blocks while the update
// buffer is full so no update is lost.
func (f *Feed) OnTokenUpdate(ev store.TokenUpdateEvent) {
	if err := f.Enqueue(f.context(), ev); err != nil {
		f.log.WithError(err).WithField("token", ev.TokenID).Debug("update_discarded")
	}
}

// OnTrade implements ingest.EventSink.
func (f *Feed) OnTrade(tr store.TradeUpdate) {
	f.tracker.RecordTrade()
	if f.trades == nil {
		return
	}
	select {
	case f.trades <- tr:
	default:
		f.log.WithField("pair", tr.PairID).Warn("trade_channel_full")
	}
}

// OnDropped implements ingest.EventSink.
func (f *Feed) OnDropped(channel string, err error) {
	f.tracker.RecordMalformed()
	f.log.WithFields(logrus.Fields{
		"channel": channel,
		"error":   err,
	}).Debug("publication_dropped")
}
