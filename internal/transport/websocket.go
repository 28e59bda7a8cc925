package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/newsync/internal/events"
)

// WSClient reads JSON frames from a newsync server stream.
type WSClient struct {
	url    string
	logger *events.Logger

	// Connection state
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// Channels
	frames chan json.RawMessage
	errors chan error
	done   chan struct{}

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWSClient creates a stream client. An http(s) URL is converted to ws(s).
func NewWSClient(streamURL string, logger *events.Logger) *WSClient {
	if strings.HasPrefix(streamURL, "http") {
		streamURL = "ws" + strings.TrimPrefix(streamURL, "http")
	}

	return &WSClient{
		url:          streamURL,
		logger:       logger.WithField("component", "ws_client"),
		frames:       make(chan json.RawMessage, 100),
		errors:       make(chan error, 1),
		done:         make(chan struct{}),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
	}
}

// Connect dials the stream and sends request as the first message.
func (c *WSClient) Connect(ctx context.Context, request interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil || c.closed {
		return fmt.Errorf("already connected")
	}

	c.logger.WithField("url", c.url).Debug("Connecting to stream")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("stream connect failed: %w", err)
	}

	if err := conn.WriteJSON(request); err != nil {
		conn.Close()
		return fmt.Errorf("send request: %w", err)
	}

	c.conn = conn

	go c.readLoop()
	go c.pingLoop()

	return nil
}

// Frames returns received frames. It is closed when the stream ends.
func (c *WSClient) Frames() <-chan json.RawMessage {
	return c.frames
}

// Errors reports an abnormal stream end.
func (c *WSClient) Errors() <-chan error {
	return c.errors
}

// Close closes the connection.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)

	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))

		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

func (c *WSClient) readLoop() {
	defer func() {
		c.Close()
		close(c.frames)
		close(c.errors)
	}()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("Stream read error")
				c.errors <- err
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.pongTimeout + c.pingInterval))

		select {
		case c.frames <- json.RawMessage(data):
		case <-c.done:
			return
		}
	}
}

func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			if conn == nil {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.pongTimeout))
			c.mu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("Ping failed")
				return
			}

		case <-c.done:
			return
		}
	}
}
