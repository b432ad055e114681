package wswire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codplayer/codplayer/internal/wire"
)

// dialTimeout bounds a single command round trip from the client side.
const dialTimeout = 10 * time.Second

// Client is a websocket client for a Server, used by the daemon's own
// integration tests in place of a dedicated ZeroMQ REQ socket per
// caller. Production clients (a web UI, a remote control script) speak
// the same JSON frame protocol directly; nothing else in this module
// needs a Go client.
type Client struct {
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]chan wire.Reply
	topics  map[string]chan json.RawMessage
}

// Dial connects to a Server mounted at url (e.g. "ws://host:port/wire").
func Dial(ctx context.Context, url string) (*Client, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wswire: dial %s: %w", url, err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:      ws,
		ctx:     cctx,
		cancel:  cancel,
		pending: make(map[string]chan wire.Reply),
		topics:  make(map[string]chan json.RawMessage),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the connection.
func (c *Client) Close() {
	c.cancel()
	c.ws.Close(websocket.StatusNormalClosure, "")
}

// Call sends a command and blocks for its reply.
func (c *Client) Call(cmd string, args ...string) (wire.Reply, error) {
	id := NewRequestID()
	reply := make(chan wire.Reply, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(requestFrame{ID: id, Cmd: cmd, Args: args})
	if err != nil {
		return wire.Reply{}, fmt.Errorf("wswire: marshal request: %w", err)
	}

	wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	err = c.ws.Write(wctx, websocket.MessageText, data)
	cancel()
	if err != nil {
		return wire.Reply{}, fmt.Errorf("wswire: write request: %w", err)
	}

	select {
	case r := <-reply:
		return r, nil
	case <-time.After(dialTimeout):
		return wire.Reply{}, fmt.Errorf("wswire: call %s: timed out waiting for reply", cmd)
	}
}

// Subscribe returns a single-slot channel holding the latest push
// frame payload the server has sent for topic ("state", "rip_state" or
// "disc"), left undecoded so the caller can unmarshal it into whichever
// model type the topic carries. Repeated calls for the same topic
// return the same channel.
func (c *Client) Subscribe(topic string) <-chan json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.topics[topic]
	if !ok {
		ch = make(chan json.RawMessage, 1)
		c.topics[topic] = ch
	}
	return ch
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}

		var raw struct {
			ID      string          `json:"id"`
			Topic   string          `json:"topic"`
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			continue
		}

		if raw.ID != "" {
			c.mu.Lock()
			reply, ok := c.pending[raw.ID]
			c.mu.Unlock()
			if ok {
				var v any
				_ = json.Unmarshal(raw.Payload, &v)
				reply <- wire.Reply{Type: raw.Type, Value: v}
			}
			continue
		}

		if raw.Topic != "" {
			c.mu.Lock()
			ch, ok := c.topics[raw.Topic]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- raw.Payload:
				default:
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- raw.Payload:
					default:
					}
				}
			}
		}
	}
}
