package push

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
	"go.uber.org/zap"
)

// SocketConfig configures the socket.io push channel
type SocketConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// SocketMonitor keeps a socket.io connection to the runner's push endpoint.
// The connection counts as active between its connect and disconnect events.
type SocketMonitor struct {
	cfg    SocketConfig
	logger *zap.Logger

	connected  atomic.Bool
	onFinished atomic.Pointer[CompletionHandler]

	mu sync.Mutex
	io *socket.Socket
}

// NewSocketMonitor validates cfg and creates a disconnected monitor
func NewSocketMonitor(cfg SocketConfig, logger *zap.Logger) (*SocketMonitor, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("push URL cannot be empty")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("failed to parse push URL: %w", err)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &SocketMonitor{cfg: cfg, logger: logger.With(zap.String("push_url", cfg.URL))}, nil
}

// OnFinished sets the handler for completion events
func (m *SocketMonitor) OnFinished(h CompletionHandler) {
	m.onFinished.Store(&h)
}

// IsActive reports whether the socket is connected
func (m *SocketMonitor) IsActive() bool {
	return m.connected.Load()
}

// Connect opens the socket and waits for the first connect or connect_error
// event. Handlers stay registered, so later reconnects update IsActive.
func (m *SocketMonitor) Connect(ctx context.Context) error {
	parsed, err := url.Parse(m.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse push URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsed.Path)
	if m.cfg.InsecureSkipVerify {
		m.logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host), opts)
	io := manager.Socket(m.cfg.Namespace, opts)

	result := make(chan error, 1)
	io.On(types.EventName("connect"), func(...any) {
		m.handleConnect(io.Id())
		select {
		case result <- nil:
		default:
		}
	})
	io.On(types.EventName("connect_error"), func(args ...any) {
		err := fmt.Errorf("connect error")
		if len(args) > 0 {
			if e, ok := args[0].(error); ok {
				err = e
			}
		}
		select {
		case result <- err:
		default:
		}
	})
	io.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprint(args[0])
		}
		m.handleDisconnect(reason)
	})
	io.On(types.EventName(EventExecutionFinished), func(args ...any) {
		var payload any
		if len(args) > 0 {
			payload = args[0]
		}
		m.handleFinished(payload)
	})

	m.mu.Lock()
	m.io = io
	m.mu.Unlock()

	io.Connect()

	select {
	case err := <-result:
		if err != nil {
			io.Disconnect()
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		io.Disconnect()
		return fmt.Errorf("push connection cancelled: %w", ctx.Err())
	case <-time.After(m.cfg.ConnectTimeout):
		io.Disconnect()
		return fmt.Errorf("timed out after %s waiting for socket.io connection", m.cfg.ConnectTimeout)
	}
}

// Close disconnects the socket
func (m *SocketMonitor) Close() {
	m.mu.Lock()
	io := m.io
	m.io = nil
	m.mu.Unlock()

	if io != nil {
		io.Disconnect()
	}
	m.connected.Store(false)
}

func (m *SocketMonitor) handleConnect(sid any) {
	m.connected.Store(true)
	m.logger.Info("Push channel connected", zap.Any("sid", sid))
}

func (m *SocketMonitor) handleDisconnect(reason string) {
	m.connected.Store(false)
	m.logger.Warn("Push channel disconnected", zap.String("reason", reason))
}

func (m *SocketMonitor) handleFinished(payload any) {
	event, err := decodeFinished(payload)
	if err != nil {
		m.logger.Warn("Ignoring malformed completion event", zap.Error(err))
		return
	}
	m.logger.Debug("Execution finished",
		zap.String("execution_id", event.ExecutionID),
		zap.String("status", event.Status))

	if h := m.onFinished.Load(); h != nil && *h != nil {
		(*h)(event)
	}
}
