package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/romarket/internal/hub"
)

// Stream is one WebSocket connection to a romarket server.
//
// Dial waits for the server's connected envelope, so a Stream always knows its
// client ID. Every later frame is decoded into an Event. Events is closed when
// the connection ends, after which Err reports why.
type Stream struct {
	cfg    ClientConfig
	logger *slog.Logger

	ws       *websocket.Conn
	clientID string
	events   chan Event

	writeMu sync.Mutex

	closeOnce sync.Once
	closing   chan struct{}

	done chan struct{}
	err  error // set before done is closed
}

// Dial connects to cfg.URL and completes the connected handshake.
func Dial(ctx context.Context, cfg ClientConfig, logger *slog.Logger) (*Stream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withClientDefaults(cfg)

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	ack, err := readHello(ctx, ws, cfg.HandshakeTimeout)
	if err != nil {
		ws.Close()
		return nil, err
	}

	s := &Stream{
		cfg:      cfg,
		logger:   logger.With("client_id", ack.ClientID),
		ws:       ws,
		clientID: ack.ClientID,
		events:   make(chan Event, cfg.BufferSize),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.events <- ack

	ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go s.readLoop()

	s.logger.Debug("stream connected", "url", cfg.URL)
	return s, nil
}

func withClientDefaults(cfg ClientConfig) ClientConfig {
	def := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return cfg
}

// readHello reads the first frame, which must be the connected envelope.
func readHello(ctx context.Context, ws *websocket.Conn, timeout time.Duration) (Event, error) {
	ws.SetReadDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(ctx, func() { ws.SetReadDeadline(time.Now()) })
	defer stop()

	_, data, err := ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Event{}, ctxErr
		}
		return Event{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	ev, err := decodeEvent(data, time.Now())
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if ev.Type != hub.TypeConnected || ev.ClientID == "" {
		return Event{}, fmt.Errorf("%w: first message was %q", ErrHandshake, ev.Type)
	}
	return ev, nil
}

// ClientID returns the ID the server assigned to this connection.
func (s *Stream) ClientID() string {
	return s.clientID
}

// Events returns decoded envelopes, starting with the connected ack.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once the connection has ended.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns why the connection ended, or nil while it is alive.
// It is ErrClosed after Close and wraps ErrStaleConnection after a silent server.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Send writes cmd as one JSON text frame.
func (s *Stream) Send(cmd Command) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.ws.WriteJSON(cmd); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Action, err)
	}
	return nil
}

// Subscribe sends the subscribe command for w.
func (s *Stream) Subscribe(w Watch) error {
	return s.Send(w.SubscribeCommand())
}

// Close sends a close frame and tears the connection down. It is safe to call
// more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closing)
		s.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = s.ws.Close()
	})
	return err
}

func (s *Stream) readLoop() {
	// events is closed after done so a reader that sees it closed can trust Err.
	defer close(s.events)
	defer close(s.done)

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			s.err = s.endReason(err)
			return
		}
		s.ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		ev, err := decodeEvent(data, time.Now())
		if err != nil {
			s.logger.Warn("invalid message from server", "error", err)
			continue
		}

		select {
		case s.events <- ev:
		case <-s.closing:
			s.err = ErrClosed
			return
		}
	}
}

func (s *Stream) endReason(err error) error {
	select {
	case <-s.closing:
		return ErrClosed
	default:
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: no frames for %v", ErrStaleConnection, s.cfg.IdleTimeout)
	}
	return err
}
