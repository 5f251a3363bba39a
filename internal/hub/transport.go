package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// TransportConfig holds websocket transport settings.
type TransportConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration // 0 disables keepalive pings
	PongTimeout  time.Duration // read deadline, extended on every pong
}

// DefaultTransportConfig returns the default websocket transport settings.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
	}
}

// WSTransport adapts a server-side websocket connection to Transport and Reader.
type WSTransport struct {
	cfg    TransportConfig
	logger *slog.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSTransport wraps an upgraded connection and starts its keepalive loop.
func NewWSTransport(conn *websocket.Conn, cfg TransportConfig, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultTransportConfig().WriteTimeout
	}

	t := &WSTransport{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		done:   make(chan struct{}),
	}

	if cfg.PingInterval > 0 && cfg.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		})
		go t.keepaliveLoop()
	}

	return t
}

// Send writes one text frame.
func (t *WSTransport) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage blocks for the next data frame.
func (t *WSTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

// Close sends a close frame and closes the underlying connection.
func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = t.conn.Close()
	})
	return err
}

func (t *WSTransport) keepaliveLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.cfg.WriteTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				t.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}
