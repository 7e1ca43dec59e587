// Package client publishes wrench commands to a forcebridge server over WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zeusync/forcebridge/internal/core/wrench"
)

var ErrClientClosed = errors.New("client is closed")

// Config holds connection settings.
type Config struct {
	// ServerURL is the ws:// or wss:// URL of the ingress, including its path.
	ServerURL      string
	Channel        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns a config for a local server on the default path.
func DefaultConfig() Config {
	return Config{
		ServerURL:      "ws://127.0.0.1:8080/ws",
		Channel:        "force_bridge",
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   time.Second,
	}
}

// Client is safe for concurrent use.
type Client struct {
	config Config

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Dial connects to the ingress and binds the connection to config.Channel.
func Dial(ctx context.Context, config Config) (*Client, error) {
	if config.Channel == "" {
		return nil, errors.New("channel is required")
	}
	u, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("channel", config.Channel)
	u.RawQuery = q.Encode()

	if config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.ServerURL, err)
	}
	return &Client{config: config, conn: conn}, nil
}

// Send publishes one wrench command.
func (c *Client) Send(w wrench.Wrench) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.conn.WriteJSON(wrench.ToMessage(w))
}

// SendRaw writes an arbitrary frame; useful for probing how the server treats
// malformed input.
func (c *Client) SendRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure and closes the connection. Multiple calls are safe.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
