package realtime

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 64 * 1024

	// reconnectDelay is the single fixed delay before redialing after a
	// dropped connection. Deeper backoff belongs to the transport layer.
	reconnectDelay = time.Second

	eventBuffer = 256
)

// Transport hands out live channel subscriptions.
type Transport interface {
	Subscribe(channel string) Subscription
}

// Subscription is one live channel. Events are delivered on a buffered
// channel; if a consumer stops draining, events for it are dropped rather
// than stalling the connection.
type Subscription interface {
	Channel() string
	Events() <-chan Event
	// Close unsubscribes and closes the event channel. Safe to call twice.
	Close()
}

type channelSub struct {
	channel string
	events  chan Event
	client  *Client
	once    sync.Once
}

func (s *channelSub) Channel() string      { return s.channel }
func (s *channelSub) Events() <-chan Event { return s.events }

func (s *channelSub) Close() {
	s.once.Do(func() { s.client.unsubscribe(s) })
}

// Client maintains one websocket connection and multiplexes named channel
// subscriptions over it. On disconnect it schedules a single delayed
// reconnect and resubscribes every live channel.
type Client struct {
	wsURL string
	token string
	log   *zap.Logger

	outbound chan frame

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string][]*channelSub
	closed bool
}

func NewClient(wsURL, token string, log *zap.Logger) *Client {
	return &Client{
		wsURL:    wsURL,
		token:    token,
		log:      log,
		outbound: make(chan frame, 64),
		subs:     make(map[string][]*channelSub),
	}
}

// Start dials the server. A failed dial is treated like a disconnect: the
// client retries after the fixed delay until Close is called.
func (c *Client) Start() {
	if err := c.dial(); err != nil {
		c.log.Warn("realtime connect failed", zap.Error(err))
		time.AfterFunc(reconnectDelay, c.Start)
	}
}

func (c *Client) dial() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.dialURL(), nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readPump(conn, done)
	go c.writePump(conn, done)

	for _, ch := range channels {
		c.enqueue(frame{Event: frameSubscribe, Channel: ch})
	}
	return nil
}

func (c *Client) dialURL() string {
	if c.token == "" {
		return c.wsURL
	}
	return c.wsURL + "?token=" + url.QueryEscape(c.token)
}

// Subscribe registers interest in a channel. The subscribe frame is sent
// right away when connected, or on the next (re)connect otherwise.
func (c *Client) Subscribe(channel string) Subscription {
	sub := &channelSub{
		channel: channel,
		events:  make(chan Event, eventBuffer),
		client:  c,
	}

	c.mu.Lock()
	first := len(c.subs[channel]) == 0
	c.subs[channel] = append(c.subs[channel], sub)
	connected := c.conn != nil
	c.mu.Unlock()

	if first && connected {
		c.enqueue(frame{Event: frameSubscribe, Channel: channel})
	}
	return sub
}

func (c *Client) unsubscribe(sub *channelSub) {
	c.mu.Lock()
	remaining := c.subs[sub.channel][:0]
	for _, s := range c.subs[sub.channel] {
		if s != sub {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(c.subs, sub.channel)
	} else {
		c.subs[sub.channel] = remaining
	}
	last := len(remaining) == 0
	connected := c.conn != nil
	close(sub.events)
	c.mu.Unlock()

	if last && connected {
		c.enqueue(frame{Event: frameUnsubscribe, Channel: sub.channel})
	}
}

// Close shuts the connection down for good; no reconnect is scheduled.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) enqueue(f frame) {
	select {
	case c.outbound <- f:
	default:
		c.log.Warn("outbound frame dropped", zap.String("event", f.Event), zap.String("channel", f.Channel))
	}
}

// readPump pumps frames from the connection to subscribers until the
// connection dies, then schedules the reconnect.
func (c *Client) readPump(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		close(done)
		conn.Close()
		c.onDisconnect(conn)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("realtime read error", zap.Error(err))
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.log.Warn("bad realtime frame", zap.Error(err))
			continue
		}
		c.dispatch(ev)
	}
}

// writePump pumps control frames and heartbeats to the connection.
func (c *Client) writePump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case f := <-c.outbound:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs[ev.Channel] {
		select {
		case sub.events <- ev:
		default:
			c.log.Warn("subscriber buffer full, event dropped",
				zap.String("channel", ev.Channel), zap.String("event", ev.Event))
		}
	}
}

func (c *Client) onDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	c.log.Info("realtime disconnected, scheduling reconnect", zap.Duration("delay", reconnectDelay))
	time.AfterFunc(reconnectDelay, c.Start)
}
