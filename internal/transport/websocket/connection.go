package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/roadsight/viewer/pkg/streaming"
)

const (
	sendChSize = 64
	writeWait  = 10 * time.Second
)

var errClosed = errors.New("connection closed")

// inboundFunc receives every envelope read from the socket.
type inboundFunc func(env streaming.Envelope, receivedAt time.Time)

// connection manages a WebSocket connection with a single write goroutine.
type connection struct {
	mu        sync.Mutex
	conn      *ws.Conn
	sendCh    chan []byte
	done      chan struct{} // closed on shutdown
	closed    bool
	connected bool

	wsURL        string
	apiKey       string
	maxReconnect int
	backoff      time.Duration
	maxBackoff   time.Duration

	// Cached start_stream message for reconnect replay.
	cachedStartMsg []byte

	inbound inboundFunc
	now     func() time.Time
	logger  *slog.Logger
}

func newConnection(logger *slog.Logger, inbound inboundFunc) *connection {
	return &connection{
		sendCh:     make(chan []byte, sendChSize),
		done:       make(chan struct{}),
		backoff:    time.Second,
		maxBackoff: 30 * time.Second,
		inbound:    inbound,
		now:        time.Now,
		logger:     logger,
	}
}

// dial connects to the WebSocket server, replays the cached start message
// and starts the read/write loops.
func (c *connection) dial() error {
	conn, err := c.dialOnce()
	if err != nil {
		return err
	}
	if err := c.replay(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errClosed
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the api key query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("api_key", c.apiKey)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) replay(conn *ws.Conn) error {
	c.mu.Lock()
	cached := c.cachedStartMsg
	c.mu.Unlock()

	if cached == nil {
		return nil
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set deadline for start_stream: %w", err)
	}
	if err := conn.WriteMessage(ws.TextMessage, cached); err != nil {
		return fmt.Errorf("send start_stream: %w", err)
	}
	return nil
}

// writeLoop drains sendCh and writes messages to conn. It returns on error,
// shutdown, or when conn has been replaced.
func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if !c.current(conn) {
				// Put it back for the loop serving the new connection.
				c.send(data)
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop reads envelopes from conn and hands them to inbound.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.logger.Debug("Non-envelope message received", "bytes", len(message))
			continue
		}
		c.inbound(env, c.now())
	}
}

func (c *connection) current(conn *ws.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

// reconnect re-establishes the connection with exponential backoff after
// failed broke. Only the first caller for a given connection proceeds.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; c.maxReconnect <= 0 || attempt <= c.maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		if err := c.dial(); err != nil {
			c.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", c.maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
	}
}

func (c *connection) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		return conn.Close()
	}
	return nil
}
