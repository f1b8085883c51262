package push

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the part of *nats.Conn the NATS monitor uses
type Conn interface {
	IsConnected() bool
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSMonitor treats the NATS connection as the push channel and listens for
// completion events on a subject
type NATSMonitor struct {
	conn    Conn
	subject string
	logger  *zap.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewNATSMonitor creates a monitor over conn. Completion events are read from
// subject once Start is called.
func NewNATSMonitor(conn Conn, subject string, logger *zap.Logger) (*NATSMonitor, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection cannot be nil")
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &NATSMonitor{conn: conn, subject: subject, logger: logger}, nil
}

// IsActive reports whether the NATS connection is up
func (m *NATSMonitor) IsActive() bool {
	return m.conn.IsConnected()
}

// Start subscribes to the completion subject
func (m *NATSMonitor) Start(onFinished CompletionHandler) error {
	if m.subject == "" {
		return fmt.Errorf("completion subject cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return nil
	}

	sub, err := m.conn.Subscribe(m.subject, func(msg *nats.Msg) {
		m.handle(msg, onFinished)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.subject, err)
	}
	m.sub = sub

	m.logger.Info("Listening for completed executions", zap.String("subject", m.subject))
	return nil
}

// Stop drops the completion subscription
func (m *NATSMonitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return nil
	}
	err := m.sub.Unsubscribe()
	m.sub = nil
	return err
}

func (m *NATSMonitor) handle(msg *nats.Msg, onFinished CompletionHandler) {
	event, err := decodeFinished(msg.Data)
	if err != nil {
		m.logger.Warn("Ignoring malformed completion event",
			zap.String("subject", msg.Subject),
			zap.Error(err))
		return
	}
	m.logger.Debug("Execution finished",
		zap.String("execution_id", event.ExecutionID),
		zap.String("status", event.Status))
	if onFinished != nil {
		onFinished(event)
	}
}
