// Package nats opens the NATS connection shared by the sink and the
// completion subscription.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectionConfig holds configuration for the NATS connection
type ConnectionConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222")
	URL string

	// Name identifies this client to the server
	Name string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for unlimited reconnects
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration

	// Token takes precedence over Username/Password
	Token    string
	Username string
	Password string
}

// DefaultConnectionConfig returns a configuration with sensible defaults
func DefaultConnectionConfig(url string) *ConnectionConfig {
	return &ConnectionConfig{
		URL:           url,
		Name:          "daedalus",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Validate checks the fields Connect needs
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("connection config cannot be nil")
	}
	if c.URL == "" {
		return fmt.Errorf("NATS URL cannot be empty")
	}
	if c.Username != "" && c.Password == "" {
		return fmt.Errorf("NATS password required when username is set")
	}
	return nil
}

// options builds the nats.Options for config, logging connection state changes to logger
func (c *ConnectionConfig) options(logger *zap.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(c.Name),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
		nats.Timeout(c.Timeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS async error", zap.String("subject", subject), zap.Error(err))
		}),
	}

	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	} else if c.Username != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}
	return opts
}

// Connect establishes a connection to NATS with the provided configuration
func Connect(ctx context.Context, config *ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	logger = logger.With(zap.String("nats_url", config.URL))

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := nats.Connect(config.URL, config.options(logger)...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		// the dial goroutine may still succeed; close whatever it returns
		go func() {
			if res := <-resultCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		logger.Info("Connected to NATS", zap.String("server", res.conn.ConnectedUrl()))
		return res.conn, nil
	}
}

// Close drains a NATS connection, closing it outright if the drain fails
func Close(conn *nats.Conn) error {
	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}

// IsConnected checks if the connection is active
func IsConnected(conn *nats.Conn) bool {
	return conn != nil && conn.IsConnected()
}

// WaitForConnection waits for the connection to be established or context to expire
func WaitForConnection(ctx context.Context, conn *nats.Conn, checkInterval time.Duration) error {
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		if conn.IsConnected() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection wait cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
