// Package websocket provides a reusable WebSocket client with automatic reconnection.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futuresbot/internal/core"

	"github.com/gorilla/websocket"
)

// MessageHandler handles incoming WebSocket messages.
type MessageHandler func(message []byte)

const (
	initialReconnectWait = 1 * time.Second
	maxReconnectWait     = 30 * time.Second
	// idleTimeout is the read deadline; a silent connection is torn down and redialed.
	idleTimeout = 120 * time.Second
)

// Client is a resilient WebSocket client. Reconnects use exponential backoff
// starting at 1s and capped at 30s; the backoff resets after a clean read.
type Client struct {
	url     string
	handler MessageHandler

	conn *websocket.Conn
	mu   sync.Mutex

	onConnected func()

	logger core.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a new WebSocket client for the given stream URL.
func NewClient(url string, handler MessageHandler, logger core.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:     url,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetURL replaces the dial target before the next (re)connect.
func (c *Client) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

// SetOnConnected sets the callback invoked after each successful dial.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes a JSON message on the current connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop.
func (c *Client) Stop() {
	c.cancel()
	c.wg.Wait()
	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	wait := initialReconnectWait
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			if c.logger != nil {
				c.logger.Error("WebSocket connection failed", "error", err, "url", c.currentURL(), "retry_in", wait)
			}
			if !c.sleep(wait) {
				return
			}
			wait = min(wait*2, maxReconnectWait)
			continue
		}

		wait = initialReconnectWait
		c.readLoop()

		// readLoop returns on connection loss; redial after a beat
		if !c.sleep(initialReconnectWait) {
			return
		}
	}
}

// sleep waits for d unless the client is stopped first.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) currentURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn

	if c.onConnected != nil {
		go c.onConnected()
	}
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("WebSocket read failed, reconnecting", "error", err, "url", c.currentURL())
			}
			return
		}

		if c.handler != nil {
			c.handler(message)
		}
	}
}
