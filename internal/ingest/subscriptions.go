package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/memefeed/engine/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTokenChannel carries per-token metric updates.
	DefaultTokenChannel = "meteora-tokenUpdates"
	// TradeChannelPrefix prefixes per-pair trade channels.
	TradeChannelPrefix = "trades:"
)

var (
	// ErrNoSubscription marks a publication for a channel with no live handle.
	ErrNoSubscription = errors.New("no live subscription for channel")
	// ErrUnknownChannel marks a publication on a channel nothing decodes.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrSubscriptionReleased is returned when Disconnect raced a Subscribe.
	ErrSubscriptionReleased = errors.New("subscription released")
)

// SubscriptionState is the lifecycle state of a SubscriptionHandle.
type SubscriptionState int

const (
	Idle SubscriptionState = iota
	Subscribing
	Active
	Unsubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Unsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// live reports whether the state holds the channel's single live slot.
func (s SubscriptionState) live() bool {
	return s == Subscribing || s == Active
}

// SubscriptionHandle tracks one channel subscription.
type SubscriptionHandle struct {
	channel string

	mu    sync.RWMutex
	state SubscriptionState
}

// Channel returns the channel name.
func (h *SubscriptionHandle) Channel() string { return h.channel }

// State returns the current state.
func (h *SubscriptionHandle) State() SubscriptionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *SubscriptionHandle) setState(s SubscriptionState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// transition moves from one state to another and reports whether it did.
func (h *SubscriptionHandle) transition(from, to SubscriptionState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != from {
		return false
	}
	h.state = to
	return true
}

// HandleStatus is a point-in-time view of a handle.
type HandleStatus struct {
	Channel string `json:"channel"`
	State   string `json:"state"`
}

// EventSink consumes everything the manager produces. Methods may be called
// from the transport's goroutines and must not block for long.
type EventSink interface {
	OnConnected()
	OnDisconnected(err error)
	OnError(err error)
	OnTokenUpdate(ev store.TokenUpdateEvent)
	OnTrade(tr store.TradeUpdate)
	OnDropped(channel string, err error)
}

// SinkFuncs adapts optional functions to EventSink.
type SinkFuncs struct {
	Connected    func()
	Disconnected func(err error)
	Error        func(err error)
	TokenUpdate  func(ev store.TokenUpdateEvent)
	Trade        func(tr store.TradeUpdate)
	Dropped      func(channel string, err error)
}

func (s SinkFuncs) OnConnected() {
	if s.Connected != nil {
		s.Connected()
	}
}

func (s SinkFuncs) OnDisconnected(err error) {
	if s.Disconnected != nil {
		s.Disconnected(err)
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

func (s SinkFuncs) OnTokenUpdate(ev store.TokenUpdateEvent) {
	if s.TokenUpdate != nil {
		s.TokenUpdate(ev)
	}
}

func (s SinkFuncs) OnTrade(tr store.TradeUpdate) {
	if s.Trade != nil {
		s.Trade(tr)
	}
}

func (s SinkFuncs) OnDropped(channel string, err error) {
	if s.Dropped != nil {
		s.Dropped(channel, err)
	}
}

// SubscriptionManager owns the transport connection and at most one live
// handle per channel.
type SubscriptionManager struct {
	transport    Transport
	sink         EventSink
	tokenChannel string
	log          logrus.FieldLogger

	mu      sync.Mutex
	handles map[string]*SubscriptionHandle
}

// ManagerOption configures a SubscriptionManager.
type ManagerOption func(*SubscriptionManager)

// WithTokenChannel overrides DefaultTokenChannel.
func WithTokenChannel(channel string) ManagerOption {
	return func(m *SubscriptionManager) {
		if channel != "" {
			m.tokenChannel = channel
		}
	}
}

// WithLogger sets the manager's logger.
func WithLogger(log logrus.FieldLogger) ManagerOption {
	return func(m *SubscriptionManager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewSubscriptionManager creates a manager over transport delivering to sink.
func NewSubscriptionManager(transport Transport, sink EventSink, opts ...ManagerOption) *SubscriptionManager {
	m := &SubscriptionManager{
		transport:    transport,
		sink:         sink,
		tokenChannel: DefaultTokenChannel,
		log:          logrus.StandardLogger(),
		handles:      make(map[string]*SubscriptionHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TokenChannel returns the channel carrying token updates.
func (m *SubscriptionManager) TokenChannel() string { return m.tokenChannel }

// Connect starts the transport. Repeated calls are no-ops.
func (m *SubscriptionManager) Connect(ctx context.Context) error {
	if err := m.transport.Connect(ctx, m); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	return nil
}

// Connected reports the transport state.
func (m *SubscriptionManager) Connected() bool {
	return m.transport.Connected()
}

// Disconnect releases every handle and closes the transport. It is safe to
// call in any state.
func (m *SubscriptionManager) Disconnect() error {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*SubscriptionHandle)
	m.mu.Unlock()

	for channel, h := range handles {
		wasLive := h.State().live()
		h.setState(Unsubscribed)
		if wasLive && m.transport.Connected() {
			if err := m.transport.Unsubscribe(channel); err != nil {
				m.log.WithError(err).WithField("channel", channel).Debug("unsubscribe_failed")
			}
		}
	}

	return m.transport.Close()
}

// Subscribe ensures a live subscription to channel. An existing Active or
// Subscribing handle is returned unchanged. On failure the handle falls back
// to Idle and the error is also reported to the sink.
func (m *SubscriptionManager) Subscribe(ctx context.Context, channel string) (*SubscriptionHandle, error) {
	m.mu.Lock()
	h, ok := m.handles[channel]
	if ok && h.State().live() {
		m.mu.Unlock()
		return h, nil
	}
	if !ok {
		h = &SubscriptionHandle{channel: channel}
		m.handles[channel] = h
	}
	h.setState(Subscribing)
	m.mu.Unlock()

	if err := m.transport.Subscribe(ctx, channel); err != nil {
		h.transition(Subscribing, Idle)
		m.log.WithError(err).WithField("channel", channel).Warn("subscribe_failed")
		m.sink.OnError(fmt.Errorf("subscribe %s: %w", channel, err))
		return h, err
	}

	if !h.transition(Subscribing, Active) {
		return h, ErrSubscriptionReleased
	}
	return h, nil
}

// Unsubscribe releases the channel's handle. Without a live handle it does
// nothing on the wire.
func (m *SubscriptionManager) Unsubscribe(channel string) error {
	m.mu.Lock()
	h, ok := m.handles[channel]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.handles, channel)
	wasLive := h.State().live()
	h.setState(Unsubscribed)
	m.mu.Unlock()

	if !wasLive || !m.transport.Connected() {
		return nil
	}
	return m.transport.Unsubscribe(channel)
}

// SubscribeTokenUpdates subscribes to the token update channel.
func (m *SubscriptionManager) SubscribeTokenUpdates(ctx context.Context) (*SubscriptionHandle, error) {
	return m.Subscribe(ctx, m.tokenChannel)
}

// SubscribeTrades subscribes to trades for one pair.
func (m *SubscriptionManager) SubscribeTrades(ctx context.Context, pairID string) (*SubscriptionHandle, error) {
	return m.Subscribe(ctx, TradeChannelPrefix+pairID)
}

// UnsubscribeTrades releases the trade subscription for one pair.
func (m *SubscriptionManager) UnsubscribeTrades(pairID string) error {
	return m.Unsubscribe(TradeChannelPrefix + pairID)
}

// Handle returns the handle for channel, if any.
func (m *SubscriptionManager) Handle(channel string) (*SubscriptionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[channel]
	return h, ok
}

// Handles returns the status of every tracked handle ordered by channel.
func (m *SubscriptionManager) Handles() []HandleStatus {
	m.mu.Lock()
	out := make([]HandleStatus, 0, len(m.handles))
	for channel, h := range m.handles {
		out = append(out, HandleStatus{Channel: channel, State: h.State().String()})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// OnTransportConnected implements TransportEvents.
func (m *SubscriptionManager) OnTransportConnected() {
	m.log.Info("feed_connected")
	m.sink.OnConnected()
}

// OnTransportDisconnected implements TransportEvents. Live handles fall back
// to Idle; subscription intent is kept.
func (m *SubscriptionManager) OnTransportDisconnected(err error) {
	m.mu.Lock()
	for _, h := range m.handles {
		if !h.transition(Active, Idle) {
			h.transition(Subscribing, Idle)
		}
	}
	m.mu.Unlock()

	m.log.WithError(err).Warn("feed_disconnected")
	m.sink.OnDisconnected(err)
}

// OnTransportError implements TransportEvents.
func (m *SubscriptionManager) OnTransportError(err error) {
	m.sink.OnError(err)
}

// OnPublication implements TransportEvents.
func (m *SubscriptionManager) OnPublication(channel string, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{"channel": channel, "panic": r}).Error("publication_panic")
			m.sink.OnDropped(channel, fmt.Errorf("panic handling publication: %v", r))
		}
	}()

	m.mu.Lock()
	h, ok := m.handles[channel]
	m.mu.Unlock()
	if !ok || !h.State().live() {
		m.sink.OnDropped(channel, ErrNoSubscription)
		return
	}

	switch {
	case channel == m.tokenChannel:
		ev, err := Normalize(data)
		if err != nil {
			m.log.WithError(err).WithField("raw", truncate(string(data), 200)).Debug("update_dropped")
			m.sink.OnDropped(channel, err)
			return
		}
		m.sink.OnTokenUpdate(ev)

	case strings.HasPrefix(channel, TradeChannelPrefix):
		tr, err := decodeTrade(channel, data)
		if err != nil {
			m.log.WithError(err).WithField("channel", channel).Debug("trade_dropped")
			m.sink.OnDropped(channel, err)
			return
		}
		m.sink.OnTrade(tr)

	default:
		m.sink.OnDropped(channel, ErrUnknownChannel)
	}
}

// decodeTrade parses a trade publication. The pair id falls back to the
// channel suffix.
func decodeTrade(channel string, data json.RawMessage) (store.TradeUpdate, error) {
	var tr store.TradeUpdate
	if err := json.Unmarshal(data, &tr); err != nil {
		return store.TradeUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if tr.PairID == "" {
		tr.PairID = strings.TrimPrefix(channel, TradeChannelPrefix)
	}
	return tr, nil
}
