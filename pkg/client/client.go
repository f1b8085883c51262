// Package client manages the NATS connection the dispatcher submits plans and
// receives completion events on.
package client

import (
	"context"
	"fmt"

	natsclient "github.com/nats-io/nats.go"
	"github.com/wehubfusion/Daedalus/internal/nats"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// Client owns one NATS connection. It satisfies sink.Requester and push.Conn
// so both can share it.
//
// Example usage:
//
//	c := client.NewClient("nats://localhost:4222")
//	if err := c.Connect(ctx); err != nil {
//	    logger.Fatal("Failed to connect", zap.Error(err))
//	}
//	defer c.Close()
type Client struct {
	conn   *natsclient.Conn
	config *nats.ConnectionConfig
	logger *zap.Logger
}

// NewClient creates a client with the default connection configuration
func NewClient(url string) *Client {
	return NewClientWithConfig(nats.DefaultConnectionConfig(url))
}

// NewClientWithConfig creates a client with a custom connection configuration
func NewClientWithConfig(config *nats.ConnectionConfig) *Client {
	logger, _ := zap.NewProduction()
	return &Client{
		config: config,
		logger: logger,
	}
}

// SetLogger sets a custom zap logger for the client
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Connect establishes the connection. Calling it while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}

	conn, err := nats.Connect(ctx, c.config, c.logger)
	if err != nil {
		return sdkerrors.NewInternalError("", "failed to connect to NATS", "CONNECTION_FAILED", err)
	}
	c.conn = conn
	return nil
}

// Close drains and closes the connection
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := nats.Close(c.conn); err != nil {
		return sdkerrors.NewInternalError("", "failed to close connection", "CLOSE_FAILED", err)
	}
	c.conn = nil
	return nil
}

// IsConnected returns true if the client is currently connected
func (c *Client) IsConnected() bool {
	return nats.IsConnected(c.conn)
}

// Connection returns the underlying NATS connection
func (c *Client) Connection() *natsclient.Conn {
	return c.conn
}

// RequestMsgWithContext sends msg and waits for a single reply
func (c *Client) RequestMsgWithContext(ctx context.Context, msg *natsclient.Msg) (*natsclient.Msg, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.conn.RequestMsgWithContext(ctx, msg)
}

// Subscribe registers an asynchronous handler on subject
func (c *Client) Subscribe(subject string, handler natsclient.MsgHandler) (*natsclient.Subscription, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	return c.conn.Subscribe(subject, handler)
}

// ConnectionStats holds connection statistics for monitoring and debugging
type ConnectionStats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}

// Stats returns current connection statistics
func (c *Client) Stats() ConnectionStats {
	if c.conn == nil {
		return ConnectionStats{}
	}

	stats := c.conn.Stats()
	return ConnectionStats{
		InMsgs:     stats.InMsgs,
		OutMsgs:    stats.OutMsgs,
		InBytes:    stats.InBytes,
		OutBytes:   stats.OutBytes,
		Reconnects: stats.Reconnects,
	}
}

func (c *Client) ensureConnected() error {
	if !c.IsConnected() {
		return sdkerrors.NewUnavailableError("not connected to NATS", sdkerrors.CodeNotConnected, sdkerrors.ErrNotConnected)
	}
	return nil
}

// Ping flushes the connection as a health check, bounded by ctx
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- c.conn.FlushTimeout(c.config.Timeout)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("ping cancelled: %w", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			return sdkerrors.NewInternalError("", "ping failed", "PING_FAILED", err)
		}
		return nil
	}
}
