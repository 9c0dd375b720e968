package shell

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// timeout for writing a single frame.
	writeWait = 10 * time.Second

	// how long the server waits for a pong.
	pongWait = 60 * time.Second

	// ping interval; must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maximum size of an inbound frame.
	maxFrameSize = 16 << 10

	// outbound queue length per connection.
	sendBuffer = 256
)

// Close codes in the application range.
const (
	CloseCodeBanned    = 4003
	CloseCodeSignedOut = 4000
)

// ErrClientClosed is returned by Send after Close.
var ErrClientClosed = errors.New("shell: client closed")

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client owns one websocket connection: a read pump feeding a frame handler and a
// write pump draining the outbound queue.
type Client struct {
	conn Conn

	mu          sync.Mutex
	send        chan []byte
	closed      bool
	closeCode   int
	closeReason string

	logger zerolog.Logger
}

// NewClient wraps conn.
func NewClient(conn Conn, logger zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger,
	}
}

// Send queues f without blocking. A full queue drops the frame.
func (c *Client) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		c.logger.Error().Err(err).Str("frame_type", f.Type).Msg("Error marshaling frame")
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, dropping frame")
		return errors.New("client send queue full")
	}
}

// Close stops accepting frames. The write pump flushes what is queued, then sends a
// close frame with code and reason. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// ReadPump reads frames until the connection fails, passing each to handle.
// onDone runs once the loop exits.
func (c *Client) ReadPump(handle func(Inbound), onDone func()) {
	defer func() {
		onDone()
		c.Close(websocket.CloseNormalClosure, "")
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error")
		}
	}()

	c.conn.SetReadLimit(maxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Unexpected close while reading")
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			c.logger.Warn().Err(err).Msg("Client sent invalid frame")
			continue
		}
		handle(in)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Connection close error in write pump")
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.mu.Lock()
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				c.mu.Unlock()
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
					c.logger.Debug().Err(err).Msg("Failed to write close frame")
				}
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("Failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("Error writing frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug().Err(err).Msg("Error writing ping")
				return
			}
		}
	}
}
