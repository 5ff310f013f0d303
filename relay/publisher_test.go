package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/checkout-go/giftwrap"
	"github.com/shopkit/checkout-go/signers"
)

// newTestRelay answers every EVENT with ["OK", id, accept, ""].
func newTestRelay(t *testing.T, accept bool) (*httptest.Server, chan giftwrap.Event) {
	received := make(chan giftwrap.Event, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg []json.RawMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			var ev giftwrap.Event
			if len(msg) != 2 || json.Unmarshal(msg[1], &ev) != nil {
				continue
			}
			received <- ev
			conn.WriteJSON([]interface{}{"NOTICE", "hello"})
			conn.WriteJSON([]interface{}{"OK", ev.ID, accept, "blocked: test"})
		}
	}))
	return srv, received
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newSignedEvent(t *testing.T) *giftwrap.Event {
	s, err := signers.NewRandomLocalSigner()
	require.NoError(t, err)
	ev := &giftwrap.Event{CreatedAt: time.Now().Unix(), Kind: giftwrap.KindGiftWrap, Content: "x"}
	require.NoError(t, s.SignEvent(context.Background(), ev))
	return ev
}

func newPublisher(relays ...string) *WebsocketPublisher {
	return NewWebsocketPublisher(&Config{Relays: relays, DialTimeout: time.Second, AckTimeout: time.Second})
}

func TestWebsocketPublish(t *testing.T) {
	srv, received := newTestRelay(t, true)
	defer srv.Close()

	p := newPublisher(wsURL(srv))
	defer p.Close()

	ev := newSignedEvent(t)
	require.NoError(t, p.Publish(context.Background(), ev))
	got := <-received
	assert.Equal(t, ev.ID, got.ID)

	// connection is reused
	ev2 := newSignedEvent(t)
	require.NoError(t, p.Publish(context.Background(), ev2))
	assert.Equal(t, ev2.ID, (<-received).ID)
}

func TestWebsocketPublishRejected(t *testing.T) {
	srv, _ := newTestRelay(t, false)
	defer srv.Close()

	p := newPublisher(wsURL(srv))
	defer p.Close()

	err := p.Publish(context.Background(), newSignedEvent(t))
	assert.ErrorIs(t, err, ErrRejected)
}

func TestWebsocketPublishOneRelayEnough(t *testing.T) {
	srv, _ := newTestRelay(t, true)
	defer srv.Close()

	p := newPublisher("ws://127.0.0.1:1", wsURL(srv))
	defer p.Close()
	assert.NoError(t, p.Publish(context.Background(), newSignedEvent(t)))
}

func TestWebsocketPublishDefaultTimeouts(t *testing.T) {
	srv, received := newTestRelay(t, true)
	defer srv.Close()

	p := NewWebsocketPublisher(&Config{Relays: []string{wsURL(srv)}})
	defer p.Close()
	assert.Equal(t, DefaultAckTimeout, p.cfg.AckTimeout)
	assert.Equal(t, DefaultDialTimeout, p.cfg.DialTimeout)

	ev := newSignedEvent(t)
	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, ev.ID, (<-received).ID)
}

func TestWebsocketPublishNoRelays(t *testing.T) {
	assert.ErrorIs(t, newPublisher().Publish(context.Background(), newSignedEvent(t)), ErrNoRelays)
}

func TestMemoryPublisherFailHook(t *testing.T) {
	m := NewMemoryPublisher()
	m.SetFailHook(func(_ *giftwrap.Event, attempt int) error {
		if attempt == 1 {
			return ErrRejected
		}
		return nil
	})
	ev := newSignedEvent(t)
	assert.ErrorIs(t, m.Publish(context.Background(), ev), ErrRejected)
	assert.NoError(t, m.Publish(context.Background(), ev))
	assert.Equal(t, 2, m.Attempts())
	assert.Len(t, m.Events(), 1)
}
