// Package client is a small signaling client used by the example program
// and the end-to-end tests.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rendezvous/internal/core/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("client closed")

type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

type Client struct {
	conn   *websocket.Conn
	logger *zap.SugaredLogger

	autoPong     bool
	writeTimeout time.Duration

	writeMu sync.Mutex
	events  chan Event
	done    chan struct{}
	once    sync.Once
	err     error
}

type Option func(*Client)

// WithAutoPong controls whether probe pings are echoed back automatically.
// It is on by default.
func WithAutoPong(enabled bool) Option {
	return func(c *Client) {
		c.autoPong = enabled
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithBuffer(size int) Option {
	return func(c *Client) {
		c.events = make(chan Event, size)
	}
}

// Dial opens a signaling session. The token is sent as a bearer header;
// url is the ws:// or wss:// address of the signaling endpoint.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	c := &Client{
		logger:       zap.NewNop().Sugar(),
		autoPong:     true,
		writeTimeout: 5 * time.Second,
		events:       make(chan Event, 64),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c.conn = conn

	go c.readLoop()
	return c, nil
}

// Events yields inbound events until the connection closes, at which point
// the channel is closed. Err then reports why.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.shutdown(nil)

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(ErrClosed)
			} else {
				c.shutdown(err)
			}
			return
		}

		if env.Event == domain.EventPing && c.autoPong {
			if err := c.send(domain.EventPing, env.Data); err != nil {
				c.logger.Debugw("pong failed", "error", err)
			}
			continue
		}

		select {
		case c.events <- Event{Name: env.Event, Data: env.Data}:
		case <-c.done:
			return
		}
	}
}

func (c *Client) shutdown(err error) {
	c.once.Do(func() {
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) send(event string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	raw, ok := data.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return fmt.Errorf("encode %s: %w", event, err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(domain.Envelope{Event: event, Data: raw})
}

// Ready registers the session under peerID.
func (c *Client) Ready(peerID string, peerType any) error {
	return c.send(domain.EventReady, map[string]any{
		"peerId":   peerID,
		"peerType": peerType,
	})
}

// Broadcast relays payload to every other connection.
func (c *Client) Broadcast(payload any) error {
	return c.send(domain.EventMessage, payload)
}

// SendTo relays payload to one peer. The target field is added to the
// payload, which must encode as a JSON object.
func (c *Client) SendTo(target string, payload map[string]any) error {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["target"] = target
	return c.send(domain.EventMessageOne, msg)
}

func (c *Client) Countdown(outOf, intervalMs int) error {
	return c.send(domain.EventCountdown, map[string]int{
		"outOf":      outOf,
		"intervalMs": intervalMs,
	})
}

func (c *Client) Clock() error {
	return c.send(domain.EventClock, struct{}{})
}

// Next waits for the next event with the given name, discarding others.
func (c *Client) Next(ctx context.Context, name string) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-c.events:
			if !ok {
				return Event{}, c.Err()
			}
			if ev.Name == name {
				return ev, nil
			}
		}
	}
}

// Close sends a normal closure and tears the connection down.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
