package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"teamchat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 8 * 1024
	sendBuffer     = 16
	actionTimeout  = 5 * time.Second
)

// Stream names, also used as metric labels
const (
	StreamChats    = "chats"
	StreamMessages = "messages"
)

// Frame types
const (
	FrameChats    = "chats"
	FrameMessages = "messages"
	FrameMessage  = "message"
	FrameRead     = "read"
	FrameError    = "error"
)

// Actions are the writes a client may make over its socket
type Actions interface {
	Send(ctx context.Context, text, imageURL string) error
	MarkRead(ctx context.Context) error
}

// ClientFrame is sent by browsers on a message stream
type ClientFrame struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ServerFrame carries a snapshot or an error to the browser
type ServerFrame struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Client is one socket bound to one live read-model stream
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	userID  string
	stream  string
	actions Actions
	writeMu sync.Mutex
	closed  atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewClient wraps conn. actions may be nil for read-only streams.
func NewClient(ctx context.Context, conn *websocket.Conn, userID, stream string, actions Actions) *Client {
	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		userID:  userID,
		stream:  stream,
		actions: actions,
		ctx:     clientCtx,
		cancel:  cancel,
	}
}

// Context is cancelled when the client goes away
func (c *Client) Context() context.Context {
	return c.ctx
}

// Close ends the client. It is safe to call from any goroutine, repeatedly.
func (c *Client) Close() {
	c.cancel()
	if c.closed.CompareAndSwap(false, true) {
		c.writeMu.Lock()
		c.conn.Close()
		c.writeMu.Unlock()
	}
}

// Enqueue queues a frame for the write pump. A client whose buffer is full
// cannot keep up with snapshots and is disconnected.
func (c *Client) Enqueue(frame ServerFrame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal frame",
			slog.String("error", err.Error()),
			slog.String("type", frame.Type))
		return false
	}

	select {
	case <-c.ctx.Done():
		return false
	case c.send <- data:
		return true
	default:
		slog.Warn("client too slow, disconnecting",
			slog.String("user", c.userID),
			slog.String("stream", c.stream))
		c.Close()
		return false
	}
}

// Forward relays snapshots to the socket until the stream or the client ends.
// view, when set, shapes each snapshot before it is encoded.
func Forward[T any](c *Client, frameType string, snapshots <-chan []T, view func([]T) any) {
	defer c.Close()
	for {
		select {
		case <-c.ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if snap == nil {
				snap = []T{}
			}
			var data any = snap
			if view != nil {
				data = view(snap)
			}
			if !c.Enqueue(ServerFrame{Type: frameType, Data: data}) {
				return
			}
		}
	}
}

// ReadPump handles inbound frames until the socket closes
func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("user", c.userID))
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket error",
					slog.String("error", err.Error()),
					slog.String("user", c.userID))
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			c.Enqueue(ServerFrame{Type: FrameError, Error: "invalid frame"})
			continue
		}

		if err := c.handle(frame); err != nil {
			observability.FromContext(c.ctx).Warn("websocket action failed",
				slog.String("type", frame.Type),
				observability.Err(err))
			c.Enqueue(ServerFrame{Type: FrameError, Error: err.Error()})
		}
	}
}

func (c *Client) handle(frame ClientFrame) error {
	if c.actions == nil {
		return errReadOnly
	}

	ctx, cancel := context.WithTimeout(c.ctx, actionTimeout)
	defer cancel()

	switch frame.Type {
	case FrameMessage:
		return c.actions.Send(ctx, frame.Text, frame.ImageURL)
	case FrameRead:
		return c.actions.MarkRead(ctx)
	default:
		return errUnknownFrame
	}
}

// WritePump pumps queued frames and keepalive pings to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.writeMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			if err := c.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}
			observability.WebSocketFramesSent.WithLabelValues(c.stream).Inc()

		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a message to the WebSocket connection in a thread-safe manner
func (c *Client) writeMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
