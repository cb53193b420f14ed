package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// wsServer is a minimal realtime server double: it records the control
// frames clients send and lets tests push events downstream.
type wsServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	frames   chan frame

	mu    sync.Mutex
	conns []*websocket.Conn
	token string
}

func newWSServer(t *testing.T) (*wsServer, *httptest.Server) {
	t.Helper()
	s := &wsServer{t: t, frames: make(chan frame, 16)}
	srv := httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *wsServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.token = r.URL.Query().Get("token")
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.frames <- f
	}
}

func (s *wsServer) push(ev Event) {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	require.NoError(s.t, conn.WriteJSON(ev))
}

func (s *wsServer) dropConnection() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	conn.Close()
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) nextFrame(t *testing.T) frame {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no frame from client")
		return frame{}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	c := NewClient(wsURL(srv), token, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func TestSubscribeDeliversEvents(t *testing.T) {
	server, srv := newWSServer(t)
	c := newTestClient(t, srv, "secret-token")
	c.Start()

	sub := c.Subscribe("private-conversation-1")
	f := server.nextFrame(t)
	require.Equal(t, frameSubscribe, f.Event)
	require.Equal(t, "private-conversation-1", f.Channel)

	server.mu.Lock()
	token := server.token
	server.mu.Unlock()
	require.Equal(t, "secret-token", token)

	server.push(Event{
		Channel: "private-conversation-1",
		Event:   "new-message",
		Data:    json.RawMessage(`{"id":"m1"}`),
	})

	select {
	case ev := <-sub.Events():
		require.Equal(t, "new-message", ev.Event)
		require.JSONEq(t, `{"id":"m1"}`, string(ev.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeBeforeStartIsQueued(t *testing.T) {
	server, srv := newWSServer(t)
	c := newTestClient(t, srv, "")

	sub := c.Subscribe("private-user-7")
	c.Start()

	f := server.nextFrame(t)
	require.Equal(t, frameSubscribe, f.Event)
	require.Equal(t, "private-user-7", f.Channel)

	server.push(Event{Channel: "private-user-7", Event: "new-message", Data: json.RawMessage(`{}`)})
	select {
	case ev := <-sub.Events():
		require.Equal(t, "private-user-7", ev.Channel)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestCloseLastSubscriptionUnsubscribes(t *testing.T) {
	server, srv := newWSServer(t)
	c := newTestClient(t, srv, "")
	c.Start()

	first := c.Subscribe("private-conversation-1")
	second := c.Subscribe("private-conversation-1")
	require.Equal(t, frameSubscribe, server.nextFrame(t).Event)

	// Closing one of two subscribers must not tear the channel down.
	first.Close()
	select {
	case f := <-server.frames:
		t.Fatalf("unexpected frame %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
	_, open := <-first.Events()
	require.False(t, open)

	second.Close()
	f := server.nextFrame(t)
	require.Equal(t, frameUnsubscribe, f.Event)
	require.Equal(t, "private-conversation-1", f.Channel)

	// Close is safe to call twice.
	second.Close()
}

func TestReconnectResubscribes(t *testing.T) {
	server, srv := newWSServer(t)
	c := newTestClient(t, srv, "")
	c.Start()

	sub := c.Subscribe("private-conversation-1")
	require.Equal(t, frameSubscribe, server.nextFrame(t).Event)

	server.dropConnection()

	// The client redials after the fixed delay and replays its channels.
	require.Eventually(t, func() bool {
		return server.connCount() == 2
	}, 10*time.Second, 50*time.Millisecond)
	f := server.nextFrame(t)
	require.Equal(t, frameSubscribe, f.Event)
	require.Equal(t, "private-conversation-1", f.Channel)

	server.push(Event{Channel: "private-conversation-1", Event: "new-message", Data: json.RawMessage(`{}`)})
	select {
	case <-sub.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered after reconnect")
	}
}

func TestEventsForOtherChannelsAreNotDelivered(t *testing.T) {
	server, srv := newWSServer(t)
	c := newTestClient(t, srv, "")
	c.Start()

	sub := c.Subscribe("private-conversation-1")
	server.nextFrame(t)

	server.push(Event{Channel: "private-conversation-2", Event: "new-message", Data: json.RawMessage(`{}`)})
	server.push(Event{Channel: "private-conversation-1", Event: "new-message", Data: json.RawMessage(`{}`)})

	ev := <-sub.Events()
	require.Equal(t, "private-conversation-1", ev.Channel)
	select {
	case extra := <-sub.Events():
		t.Fatalf("unexpected event %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelNames(t *testing.T) {
	require.Equal(t, "private-conversation-42", ConversationChannel("42"))
	require.Equal(t, "private-user-7", UserChannel("7"))
}
