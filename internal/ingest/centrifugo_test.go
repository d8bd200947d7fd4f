package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCentrifugo answers connect and subscribe commands the way a Centrifugo
// server does and publishes one token update after every subscribe.
type fakeCentrifugo struct {
	upgrader  websocket.Upgrader
	conns     atomic.Int32
	dropFirst bool
	pongs     chan struct{}
	tokens    chan string
}

func newFakeCentrifugo() *fakeCentrifugo {
	return &fakeCentrifugo{
		pongs:  make(chan struct{}, 4),
		tokens: make(chan string, 4),
	}
}

func (f *fakeCentrifugo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := f.conns.Add(1)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "{}" {
			select {
			case f.pongs <- struct{}{}:
			default:
			}
			continue
		}

		var cmd struct {
			ID      uint32 `json:"id"`
			Connect *struct {
				Token string `json:"token"`
			} `json:"connect"`
			Subscribe *struct {
				Channel string `json:"channel"`
			} `json:"subscribe"`
		}
		if err := json.Unmarshal(msg, &cmd); err != nil {
			return
		}

		switch {
		case cmd.Connect != nil:
			select {
			case f.tokens <- cmd.Connect.Token:
			default:
			}
			reply, _ := json.Marshal(map[string]interface{}{
				"id":      cmd.ID,
				"connect": map[string]interface{}{"client": "c1", "ping": 25, "pong": true},
			})
			_ = conn.WriteMessage(websocket.TextMessage, reply)
			if f.dropFirst && n == 1 {
				return
			}
			_ = conn.WriteMessage(websocket.TextMessage, []byte("{}"))

		case cmd.Subscribe != nil:
			if cmd.Subscribe.Channel == "forbidden" {
				reply, _ := json.Marshal(map[string]interface{}{
					"id":    cmd.ID,
					"error": map[string]interface{}{"code": 103, "message": "permission denied"},
				})
				_ = conn.WriteMessage(websocket.TextMessage, reply)
				continue
			}
			reply, _ := json.Marshal(map[string]interface{}{"id": cmd.ID, "subscribe": map[string]interface{}{}})
			push, _ := json.Marshal(map[string]interface{}{
				"push": map[string]interface{}{
					"channel": cmd.Subscribe.Channel,
					"pub":     map[string]interface{}{"data": map[string]interface{}{"token": "A", "price": 1.25}},
				},
			})
			// Reply and push batched in one frame.
			frame := append(append(reply, '\n'), push...)
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
	}
}

type publication struct {
	channel string
	data    json.RawMessage
}

type eventRecorder struct {
	connected    chan struct{}
	disconnected chan error
	errs         chan error
	pubs         chan publication
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		connected:    make(chan struct{}, 4),
		disconnected: make(chan error, 4),
		errs:         make(chan error, 16),
		pubs:         make(chan publication, 16),
	}
}

func (e *eventRecorder) OnTransportConnected()             { e.connected <- struct{}{} }
func (e *eventRecorder) OnTransportDisconnected(err error) { e.disconnected <- err }
func (e *eventRecorder) OnTransportError(err error) {
	select {
	case e.errs <- err:
	default:
	}
}
func (e *eventRecorder) OnPublication(channel string, data json.RawMessage) {
	e.pubs <- publication{channel: channel, data: data}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitConnected(t *testing.T, rec *eventRecorder) {
	t.Helper()
	select {
	case <-rec.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("transport never connected")
	}
}

func newTestTransport(srv *httptest.Server) *CentrifugoTransport {
	return NewCentrifugoTransport(CentrifugoConfig{
		URL:            wsURL(srv),
		Token:          "jwt-token",
		ReplyTimeout:   time.Second,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}, quietLogger())
}

func TestCentrifugo_SubscribeAndReceive(t *testing.T) {
	fake := newFakeCentrifugo()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	tr := newTestTransport(srv)
	rec := newEventRecorder()
	require.NoError(t, tr.Connect(context.Background(), rec))
	defer tr.Close()

	waitConnected(t, rec)
	assert.True(t, tr.Connected())
	assert.Equal(t, "jwt-token", <-fake.tokens)

	require.NoError(t, tr.Subscribe(context.Background(), DefaultTokenChannel))

	select {
	case pub := <-rec.pubs:
		assert.Equal(t, DefaultTokenChannel, pub.channel)
		ev, err := Normalize(pub.data)
		require.NoError(t, err)
		assert.Equal(t, "A", ev.TokenID)
		assert.Equal(t, 1.25, *ev.Price)
	case <-time.After(2 * time.Second):
		t.Fatal("no publication received")
	}
}

func TestCentrifugo_AnswersPing(t *testing.T) {
	fake := newFakeCentrifugo()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	tr := newTestTransport(srv)
	rec := newEventRecorder()
	require.NoError(t, tr.Connect(context.Background(), rec))
	defer tr.Close()

	select {
	case <-fake.pongs:
	case <-time.After(2 * time.Second):
		t.Fatal("ping was not answered")
	}
}

func TestCentrifugo_SubscribeErrorReply(t *testing.T) {
	srv := httptest.NewServer(newFakeCentrifugo())
	defer srv.Close()

	tr := newTestTransport(srv)
	rec := newEventRecorder()
	require.NoError(t, tr.Connect(context.Background(), rec))
	defer tr.Close()
	waitConnected(t, rec)

	err := tr.Subscribe(context.Background(), "forbidden")
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, uint32(103), perr.Code)
}

func TestCentrifugo_NotConnected(t *testing.T) {
	tr := NewCentrifugoTransport(CentrifugoConfig{URL: "ws://127.0.0.1:1"}, quietLogger())
	assert.ErrorIs(t, tr.Subscribe(context.Background(), "x"), ErrNotConnected)
	assert.ErrorIs(t, tr.Unsubscribe("x"), ErrNotConnected)
	assert.NoError(t, tr.Close())
}

func TestCentrifugo_ReconnectsWithoutResubscribing(t *testing.T) {
	fake := newFakeCentrifugo()
	fake.dropFirst = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	tr := newTestTransport(srv)
	rec := newEventRecorder()
	require.NoError(t, tr.Connect(context.Background(), rec))
	defer tr.Close()

	waitConnected(t, rec)
	select {
	case <-rec.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not reported")
	}
	waitConnected(t, rec)

	assert.Equal(t, int32(2), fake.conns.Load())
	assert.Empty(t, rec.pubs)
}

func TestCentrifugo_CloseStopsLoop(t *testing.T) {
	srv := httptest.NewServer(newFakeCentrifugo())
	defer srv.Close()

	tr := newTestTransport(srv)
	rec := newEventRecorder()
	require.NoError(t, tr.Connect(context.Background(), rec))
	waitConnected(t, rec)

	require.NoError(t, tr.Close())
	assert.False(t, tr.Connected())
	require.NoError(t, tr.Close())

	// Connect again after Close starts a fresh loop.
	require.NoError(t, tr.Connect(context.Background(), rec))
	waitConnected(t, rec)
	require.NoError(t, tr.Close())
}
