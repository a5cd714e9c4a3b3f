// Package push maintains the websocket connection to the push-messaging
// provider and bridges its channel events onto the bus. Payload shapes
// vary between provider bindings; everything is normalized into the
// canonical Message before leaving this package.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ridelink/ridechat/internal/bus"
	"github.com/ridelink/ridechat/internal/chat"
	"go.uber.org/zap"
)

const (
	// DefaultMaxBackoff bounds the reconnect backoff.
	DefaultMaxBackoff = 60 * time.Second

	initialBackoff = time.Second
	pingInterval   = 15 * time.Second
	writeTimeout   = 10 * time.Second
)

// Delivery is the bus payload for an inbound channel event.
type Delivery struct {
	Channel string
	Message chat.Message
}

// frame is the provider's wire envelope in both directions.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client manages the provider connection and the set of subscribed
// channels. A channel is subscribed at most once regardless of how many
// times Subscribe is called; the full set is replayed after every
// reconnect.
type Client struct {
	url        string
	token      string
	bus        *bus.Bus
	logger     *zap.Logger
	dialer     *websocket.Dialer
	maxBackoff time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	channels  map[string]bool
	connected bool

	// writeMu serializes data frames; the websocket implementation does
	// not allow concurrent writers.
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithMaxBackoff bounds the reconnect backoff interval.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) { c.maxBackoff = d }
}

// New creates a push client for the given websocket URL.
func New(url, token string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:        url,
		token:      token,
		bus:        b,
		logger:     logger,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		maxBackoff: DefaultMaxBackoff,
		channels:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the connection loop. It returns immediately; connection
// state is reported via "push.connected"/"push.disconnected" bus events.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx)
}

// Stop tears the connection down and stops reconnecting.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.done
}

// Connected reports whether the provider connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers interest in a channel. Idempotent: an already
// subscribed channel is not re-sent to the provider.
func (c *Client) Subscribe(channel string) error {
	c.mu.Lock()
	if c.channels[channel] {
		c.mu.Unlock()
		return nil
	}
	c.channels[channel] = true
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Will be replayed by the next (re)connect.
		return nil
	}
	return c.writeFrame(frame{Event: "subscribe", Data: channelData(channel)})
}

// Leave unsubscribes from a channel. Must be called on peer change and on
// teardown; a leaked registration means duplicate delivery after the next
// subscribe.
func (c *Client) Leave(channel string) error {
	c.mu.Lock()
	if !c.channels[channel] {
		c.mu.Unlock()
		return nil
	}
	delete(c.channels, channel)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.writeFrame(frame{Event: "unsubscribe", Data: channelData(channel)})
}

// Subscribed returns the current channel set, for diagnostics.
func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	return out
}

// run owns connect / read / reconnect. Backoff grows exponentially with
// jitter and is reset after every successful connect; the provider layers
// its own lower-level retry underneath.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("push connect failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(jitter(backoff)):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = initialBackoff

		c.bus.Publish(bus.NewEvent("push.connected", nil))
		c.readLoop(ctx)
		c.bus.Publish(bus.NewEvent("push.disconnected", nil))
	}
}

func (c *Client) connect(ctx context.Context) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	// Replay the subscription set on the fresh connection.
	for _, ch := range channels {
		if err := c.writeFrame(frame{Event: "subscribe", Data: channelData(ch)}); err != nil {
			c.closeConn()
			return fmt.Errorf("resubscribe %s: %w", ch, err)
		}
	}

	c.logger.Info("push connected", zap.Int("channels", len(channels)))
	return nil
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.closeConn()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	// Periodic pings double as the connection-state probe: a dead peer
	// fails the write and drops us into the reconnect path.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("push read failed", zap.Error(err))
			}
			return
		}
		c.handleFrame(raw)
	}
}

func (c *Client) handleFrame(raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Warn("push frame not JSON", zap.Error(err))
		return
	}

	// Some client bindings dot-prefix event names.
	event := f.Event
	if len(event) > 0 && event[0] == '.' {
		event = event[1:]
	}

	switch event {
	case chat.EventMessageSent:
		msg, err := chat.DecodeMessage(unquoteData(f.Data))
		if err != nil {
			c.logger.Warn("push payload unreadable", zap.Error(err), zap.String("channel", f.Channel))
			return
		}
		c.bus.Publish(bus.NewEvent("push.message", Delivery{Channel: f.Channel, Message: msg}))
	case "pong", "connection.established":
		// Keepalive / handshake frames carry no domain payload.
	default:
		c.logger.Debug("push event ignored", zap.String("event", f.Event))
	}
}

func (c *Client) writeFrame(f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("push: not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func channelData(channel string) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"channel": channel})
	return raw
}

// unquoteData handles providers that double-encode the event payload as a
// JSON string.
func unquoteData(raw json.RawMessage) []byte {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return []byte(s)
		}
	}
	return raw
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}
