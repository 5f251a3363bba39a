package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher keeps a stream connection alive and subscribed to a watch list.
type Watcher struct {
	cfg    WatcherConfig
	logger *slog.Logger

	events chan Event

	mu     sync.Mutex
	stream *Stream

	reconnects atomic.Int64
	received   atomic.Int64
	dropped    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher.
func NewWatcher(cfg WatcherConfig, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWatcherConfig()
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = def.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = def.ReconnectMaxWait
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = def.EventBufferSize
	}

	return &Watcher{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, cfg.EventBufferSize),
	}
}

// Start connects, subscribes and begins delivering events.
// The first connection must succeed; later failures are retried.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	s, err := w.connect()
	if err != nil {
		w.cancel()
		return err
	}

	w.wg.Add(1)
	go w.forward(s)

	w.logger.Info("watcher started", "url", w.cfg.Client.URL, "watches", len(w.cfg.Watches))
	return nil
}

// Stop closes the connection and waits for background work to finish.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}

	w.mu.Lock()
	if w.stream != nil {
		w.stream.Close()
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("watcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns server envelopes from every connection in order, including a
// connected event after each reconnect.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Send sends cmd on the current connection.
func (w *Watcher) Send(cmd Command) error {
	w.mu.Lock()
	s := w.stream
	w.mu.Unlock()

	if s == nil {
		return ErrNotConnected
	}
	return s.Send(cmd)
}

// Stats returns watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	s := w.stream
	w.mu.Unlock()

	stats := WatcherStats{
		Reconnects: w.reconnects.Load(),
		Events:     w.received.Load(),
		Dropped:    w.dropped.Load(),
	}
	if s != nil && s.Err() == nil {
		stats.Connected = true
		stats.ClientID = s.ClientID()
	}
	return stats
}

// connect dials a fresh stream and subscribes the watch list.
func (w *Watcher) connect() (*Stream, error) {
	s, err := Dial(w.ctx, w.cfg.Client, w.logger)
	if err != nil {
		return nil, err
	}

	for _, watch := range w.cfg.Watches {
		if err := s.Subscribe(watch); err != nil {
			s.Close()
			return nil, err
		}
	}

	w.mu.Lock()
	w.stream = s
	w.mu.Unlock()

	if err := w.ctx.Err(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// forward relays events from s until it ends, then hands off to reconnect.
func (w *Watcher) forward(s *Stream) {
	defer w.wg.Done()

	for ev := range s.Events() {
		w.received.Add(1)
		select {
		case w.events <- ev:
		case <-w.ctx.Done():
			return
		default:
			w.dropped.Add(1)
			w.logger.Warn("event buffer full, dropping", "type", ev.Type)
		}
	}

	if w.ctx.Err() != nil {
		return
	}
	w.logger.Warn("stream ended", "client_id", s.ClientID(), "error", s.Err())
	w.wg.Add(1)
	go w.reconnect(s)
}

// reconnect redials with exponential backoff until it succeeds or the watcher stops.
func (w *Watcher) reconnect(old *Stream) {
	defer w.wg.Done()

	old.Close()

	wait := w.cfg.ReconnectBaseWait
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(wait):
		}

		s, err := w.connect()
		if err != nil {
			wait = min(wait*2, w.cfg.ReconnectMaxWait)
			w.logger.Warn("reconnection failed", "error", err, "retry_in", wait)
			continue
		}

		w.reconnects.Add(1)
		w.logger.Info("reconnected", "client_id", s.ClientID(), "watches", len(w.cfg.Watches))

		w.wg.Add(1)
		go w.forward(s)
		return
	}
}
