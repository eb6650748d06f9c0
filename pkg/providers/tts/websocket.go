package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// WebSocketClient is the primary TTS transport: a publish/subscribe channel
// over a websocket connection. Commands are written as JSON; status events
// arrive as JSON frames on the same connection's read side.
type WebSocketClient struct {
	url string

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Event
	lastID string

	cancel context.CancelFunc
}

type sayCommand struct {
	Cmd  string `json:"cmd"`
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

type statusFrame struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// DialWebSocket connects to the TTS backend's pub/sub endpoint and starts
// the background reader that fans status frames into Events().
func DialWebSocket(ctx context.Context, endpoint string) (*WebSocketClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("tts: invalid endpoint %q: %w", endpoint, err)
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tts: dial %s: %w", endpoint, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &WebSocketClient{
		url:    endpoint,
		conn:   conn,
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go c.readLoop(readCtx)
	return c, nil
}

func (c *WebSocketClient) readLoop(ctx context.Context) {
	defer close(c.events)
	for {
		var frame statusFrame
		if err := wsjson.Read(ctx, c.conn, &frame); err != nil {
			return
		}
		select {
		case c.events <- Event{ID: frame.ID, Status: Status(frame.Status), Err: frame.Error}:
		case <-ctx.Done():
			return
		}
	}
}

// Say publishes a say command for id, or a fresh id if empty.
func (c *WebSocketClient) Say(ctx context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		id = fmt.Sprintf("say-%d", len(text)) // caller normally supplies a real id
	}
	c.lastID = id
	cmd := sayCommand{Cmd: "say", ID: id, Text: text}
	if err := wsjson.Write(ctx, c.conn, cmd); err != nil {
		return fmt.Errorf("tts: say: %w", err)
	}
	return nil
}

// Cancel publishes a cancel command for id, or the last said id if empty.
func (c *WebSocketClient) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	if id == "" {
		id = c.lastID
	}
	c.mu.Unlock()
	cmd := sayCommand{Cmd: "cancel", ID: id}
	if err := wsjson.Write(ctx, c.conn, cmd); err != nil {
		return fmt.Errorf("tts: cancel: %w", err)
	}
	return nil
}

// Events returns the lifecycle event stream.
func (c *WebSocketClient) Events() <-chan Event {
	return c.events
}

// Close cancels the reader and closes the websocket connection.
func (c *WebSocketClient) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
