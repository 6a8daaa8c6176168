// Package websocket is the real-time channel to the prediction backend. It
// subscribes to the stream, keeps the connection alive across backend
// restarts and hands every inbound envelope to a dispatcher.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadsight/viewer/internal/dispatcher"
	"github.com/roadsight/viewer/pkg/streaming"
)

// Config holds the stream connection settings.
type Config struct {
	URL     string
	APIKey  string
	Quality string

	// MaxReconnect bounds reconnect attempts after a drop; 0 retries forever.
	MaxReconnect int
	// Backoff is the first reconnect delay, doubled per failed attempt up to
	// MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Dispatcher routes inbound events.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) error
}

// Client is a stream subscription.
type Client struct {
	conn   *connection
	cfg    Config
	sink   Dispatcher
	logger *slog.Logger
}

// New creates a client delivering inbound envelopes to sink.
func New(cfg Config, sink Dispatcher, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Quality == "" {
		cfg.Quality = "high"
	}

	c := &Client{cfg: cfg, sink: sink, logger: logger}
	c.conn = newConnection(logger, c.deliver)
	c.conn.wsURL = cfg.URL
	c.conn.apiKey = cfg.APIKey
	c.conn.maxReconnect = cfg.MaxReconnect
	if cfg.Backoff > 0 {
		c.conn.backoff = cfg.Backoff
	}
	if cfg.MaxBackoff > 0 {
		c.conn.maxBackoff = cfg.MaxBackoff
	}
	return c
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Connect dials the backend and requests the stream. The start_stream
// request is replayed after every reconnect.
func (c *Client) Connect() error {
	data, err := marshalEnvelope(streaming.TypeStartStream, streaming.StartStreamPayload{Quality: c.cfg.Quality})
	if err != nil {
		return err
	}

	c.conn.mu.Lock()
	c.conn.cachedStartMsg = data
	c.conn.mu.Unlock()

	if err := c.conn.dial(); err != nil {
		return err
	}
	c.logger.Info("Subscribed to stream", "url", c.cfg.URL, "quality", c.cfg.Quality)
	return nil
}

// Send pushes an outbound envelope (fire-and-forget).
func (c *Client) Send(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	c.conn.send(data)
	return nil
}

// Connected reports whether a live connection currently exists.
func (c *Client) Connected() bool {
	return c.conn.isConnected()
}

// Close disconnects from the backend.
func (c *Client) Close() error {
	return c.conn.close()
}

func (c *Client) deliver(env streaming.Envelope, receivedAt time.Time) {
	err := c.sink.Dispatch(dispatcher.Event{
		Type:       env.Type,
		Payload:    env.Payload,
		ReceivedAt: receivedAt,
	})
	switch {
	case err == nil:
	case errors.Is(err, dispatcher.ErrUnknownType):
		c.logger.Debug("Ignoring stream message", "type", env.Type)
	case errors.Is(err, dispatcher.ErrQueueFull):
		c.logger.Warn("Stream message dropped", "type", env.Type)
	default:
		c.logger.Error("Stream message failed", "type", env.Type, "error", err)
	}
}
