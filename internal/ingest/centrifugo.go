package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DefaultWSURL is the launchpad Centrifugo endpoint.
const DefaultWSURL = "wss://launch.meme/connection/websocket"

// Reconnection constants
const (
	InitialBackoff = 1 * time.Second
	MaxBackoff     = 60 * time.Second
	BackoffFactor  = 2.0
	JitterPercent  = 0.2
)

var (
	// ErrNotConnected is returned for commands issued without a live session.
	ErrNotConnected = errors.New("transport not connected")
	// ErrReplyTimeout is returned when the server never acknowledged a command.
	ErrReplyTimeout = errors.New("timed out waiting for reply")
)

// ProtocolError is an error reply sent by the server.
type ProtocolError struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// TransportEvents receives connection-level callbacks. OnPublication runs on
// the read goroutine; the others run on the connection loop.
type TransportEvents interface {
	OnTransportConnected()
	OnTransportDisconnected(err error)
	OnTransportError(err error)
	OnPublication(channel string, data json.RawMessage)
}

// Transport is a channel-oriented publish/subscribe connection.
type Transport interface {
	// Connect starts the connection loop in the background. Calling it while
	// a loop is running is a no-op.
	Connect(ctx context.Context, events TransportEvents) error
	// Subscribe returns once the server acknowledged the subscription.
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(channel string) error
	Connected() bool
	Close() error
}

// CentrifugoConfig configures a CentrifugoTransport.
type CentrifugoConfig struct {
	URL   string
	Token string
	// Name is reported to the server in the connect command.
	Name string

	HandshakeTimeout time.Duration
	ReplyTimeout     time.Duration
	// ReadTimeout must exceed the server ping interval.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *CentrifugoConfig) withDefaults() CentrifugoConfig {
	out := *c
	if out.URL == "" {
		out.URL = DefaultWSURL
	}
	if out.Name == "" {
		out.Name = "go"
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.ReplyTimeout <= 0 {
		out.ReplyTimeout = 10 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 60 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = InitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = MaxBackoff
	}
	return out
}

// CentrifugoTransport speaks the Centrifugo JSON protocol over gorilla/websocket.
// It reconnects with backoff but never resubscribes on its own.
type CentrifugoTransport struct {
	cfg CentrifugoConfig
	log logrus.FieldLogger

	conn   *websocket.Conn
	connMu sync.Mutex

	connected atomic.Bool
	nextID    atomic.Uint32

	pending   map[uint32]chan *ProtocolError
	pendingMu sync.Mutex

	lifeMu   sync.Mutex
	running  bool
	events   TransportEvents
	stopChan chan struct{}
	wg       sync.WaitGroup

	backoff time.Duration
}

// NewCentrifugoTransport creates a transport. Nothing is dialed until Connect.
func NewCentrifugoTransport(cfg CentrifugoConfig, log logrus.FieldLogger) *CentrifugoTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg = cfg.withDefaults()
	return &CentrifugoTransport{
		cfg:     cfg,
		log:     log.WithField("component", "centrifugo"),
		pending: make(map[uint32]chan *ProtocolError),
		backoff: cfg.InitialBackoff,
	}
}

type command struct {
	ID          uint32      `json:"id"`
	Connect     *connectReq `json:"connect,omitempty"`
	Subscribe   *channelReq `json:"subscribe,omitempty"`
	Unsubscribe *channelReq `json:"unsubscribe,omitempty"`
}

type connectReq struct {
	Token string `json:"token,omitempty"`
	Name  string `json:"name,omitempty"`
}

type channelReq struct {
	Channel string `json:"channel"`
}

type inbound struct {
	ID    uint32         `json:"id"`
	Error *ProtocolError `json:"error"`
	Push  *struct {
		Channel string `json:"channel"`
		Pub     *struct {
			Data json.RawMessage `json:"data"`
		} `json:"pub"`
	} `json:"push"`
}

// Connect starts the connection loop. The loop runs until ctx is cancelled or
// Close is called.
func (t *CentrifugoTransport) Connect(ctx context.Context, events TransportEvents) error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.running {
		return nil
	}
	if events == nil {
		return errors.New("transport events are required")
	}

	t.events = events
	t.running = true
	t.stopChan = make(chan struct{})

	t.wg.Add(1)
	go t.runLoop(ctx, t.stopChan)
	return nil
}

// Close stops the loop and waits for it to exit. Safe to call repeatedly.
func (t *CentrifugoTransport) Close() error {
	t.lifeMu.Lock()
	if !t.running {
		t.lifeMu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopChan)
	t.lifeMu.Unlock()

	t.closeConnection()
	t.wg.Wait()
	return nil
}

// Connected reports whether the handshake has completed on the current socket.
func (t *CentrifugoTransport) Connected() bool {
	return t.connected.Load()
}

// Subscribe sends a subscribe command and waits for its reply.
func (t *CentrifugoTransport) Subscribe(ctx context.Context, channel string) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	if err := t.call(ctx, command{Subscribe: &channelReq{Channel: channel}}); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	t.log.WithField("channel", channel).Info("ws_subscribed")
	return nil
}

// Unsubscribe sends an unsubscribe command without waiting for the reply.
func (t *CentrifugoTransport) Unsubscribe(channel string) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}
	cmd := command{ID: t.nextID.Add(1), Unsubscribe: &channelReq{Channel: channel}}
	if err := t.write(cmd); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	t.log.WithField("channel", channel).Info("ws_unsubscribed")
	return nil
}

func (t *CentrifugoTransport) runLoop(ctx context.Context, stop chan struct{}) {
	defer t.wg.Done()
	defer func() {
		t.lifeMu.Lock()
		if t.stopChan == stop {
			t.running = false
		}
		t.lifeMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			t.log.WithField("reason", "context cancelled").Info("ws_loop_stopping")
			return
		case <-stop:
			t.log.WithField("reason", "stop signal").Info("ws_loop_stopping")
			return
		default:
		}

		readErr, err := t.session(ctx, stop)
		if err != nil {
			t.log.WithError(err).WithField("backoff", t.backoff).Error("ws_connect_failed")
			t.events.OnTransportError(err)
		} else {
			if readErr != nil {
				t.log.WithError(readErr).Warn("ws_read_error")
			}
			t.events.OnTransportDisconnected(readErr)
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
			t.waitBackoff(ctx, stop)
		}
	}
}

// session runs one connection from dial to teardown. A non-nil err means the
// session never reached the connected state.
func (t *CentrifugoTransport) session(ctx context.Context, stop chan struct{}) (readErr, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	done := make(chan error, 1)
	go t.readLoop(conn, done)

	defer func() {
		t.connected.Store(false)
		t.closeConnection()
		t.failPending()
	}()

	hctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	err = t.call(hctx, command{Connect: &connectReq{Token: t.cfg.Token, Name: t.cfg.Name}})
	cancel()
	if err != nil {
		t.closeConnection()
		<-done
		return nil, fmt.Errorf("connect handshake: %w", err)
	}

	t.backoff = t.cfg.InitialBackoff
	t.connected.Store(true)
	t.log.WithField("endpoint", t.cfg.URL).Info("ws_connected")
	t.events.OnTransportConnected()

	select {
	case readErr = <-done:
	case <-ctx.Done():
		t.closeConnection()
		<-done
	case <-stop:
		t.closeConnection()
		<-done
	}
	t.log.Info("ws_disconnected")
	return readErr, nil
}

func (t *CentrifugoTransport) readLoop(conn *websocket.Conn, done chan<- error) {
	for {
		conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			t.connected.Store(false)
			t.failPending()
			done <- fmt.Errorf("read error: %w", err)
			return
		}

		// Replies and pushes may be batched one JSON object per line.
		for _, line := range bytes.Split(message, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			t.handleFrame(line)
		}
	}
}

func (t *CentrifugoTransport) handleFrame(line []byte) {
	if bytes.Equal(line, []byte("{}")) {
		if err := t.writeRaw(line); err != nil {
			t.log.WithError(err).Warn("ws_pong_failed")
		}
		return
	}

	var msg inbound
	if err := json.Unmarshal(line, &msg); err != nil {
		t.log.WithError(err).WithField("raw", truncate(string(line), 200)).Debug("ws_parse_error")
		return
	}

	if msg.ID > 0 {
		t.resolve(msg.ID, msg.Error)
		return
	}

	if msg.Push != nil && msg.Push.Pub != nil {
		t.events.OnPublication(msg.Push.Channel, msg.Push.Pub.Data)
	}
}

// call sends cmd with a fresh id and waits for the matching reply.
func (t *CentrifugoTransport) call(ctx context.Context, cmd command) error {
	cmd.ID = t.nextID.Add(1)

	replyCh := make(chan *ProtocolError, 1)
	t.pendingMu.Lock()
	t.pending[cmd.ID] = replyCh
	t.pendingMu.Unlock()

	if err := t.write(cmd); err != nil {
		t.forget(cmd.ID)
		return err
	}

	timer := time.NewTimer(t.cfg.ReplyTimeout)
	defer timer.Stop()

	select {
	case perr, ok := <-replyCh:
		if !ok {
			return ErrNotConnected
		}
		if perr != nil {
			return perr
		}
		return nil
	case <-timer.C:
		t.forget(cmd.ID)
		return ErrReplyTimeout
	case <-ctx.Done():
		t.forget(cmd.ID)
		return ctx.Err()
	}
}

func (t *CentrifugoTransport) resolve(id uint32, perr *ProtocolError) {
	t.pendingMu.Lock()
	ch, ok := t.pending[id]
	delete(t.pending, id)
	t.pendingMu.Unlock()

	if ok {
		ch <- perr
	}
}

func (t *CentrifugoTransport) forget(id uint32) {
	t.pendingMu.Lock()
	delete(t.pending, id)
	t.pendingMu.Unlock()
}

// failPending releases every waiter with ErrNotConnected.
func (t *CentrifugoTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func (t *CentrifugoTransport) write(cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return t.writeRaw(data)
}

func (t *CentrifugoTransport) writeRaw(data []byte) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return ErrNotConnected
	}
	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (t *CentrifugoTransport) closeConnection() {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// waitBackoff waits for the backoff duration with jitter.
func (t *CentrifugoTransport) waitBackoff(ctx context.Context, stop chan struct{}) {
	jitter := time.Duration(float64(t.backoff) * JitterPercent * (rand.Float64()*2 - 1))
	wait := t.backoff + jitter

	t.log.WithField("duration", wait).Debug("ws_waiting_backoff")

	select {
	case <-ctx.Done():
	case <-stop:
	case <-time.After(wait):
	}

	t.backoff = time.Duration(float64(t.backoff) * BackoffFactor)
	if t.backoff > t.cfg.MaxBackoff {
		t.backoff = t.cfg.MaxBackoff
	}
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
