package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrClosed          = errors.New("stream closed")
	ErrStaleConnection = errors.New("connection stale")
	ErrHandshake       = errors.New("stream handshake failed")
)

// Command is a control message sent to the server.
type Command struct {
	Action   string `json:"action"`
	ItemName string `json:"item_name,omitempty"`
	ServerID *int   `json:"server_id,omitempty"`
}

// Watch is one (item, server) subscription. ServerID -1 watches every server.
type Watch struct {
	ItemName string
	ServerID int
}

// SubscribeCommand builds the subscribe command for w.
func (w Watch) SubscribeCommand() Command {
	id := w.ServerID
	return Command{Action: hub.ActionSubscribe, ItemName: w.ItemName, ServerID: &id}
}

// Event is one server envelope. Only the fields of its Type are set:
// Deals for item_update, Top for top5_update, Info for status.
type Event struct {
	Type       string
	ClientID   string
	ItemName   string
	ServerID   int
	Message    string
	Timestamp  time.Time
	Deals      []model.DealItem
	Top        *model.TopSnapshot
	Info       *hub.ClientInfo
	ReceivedAt time.Time
}

type wireEvent struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"client_id"`
	ItemName  string          `json:"item_name"`
	ServerID  *int            `json:"server_id"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Info      *hub.ClientInfo `json:"info"`
}

// decodeEvent parses one server frame.
func decodeEvent(data []byte, receivedAt time.Time) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if w.Type == "" {
		return Event{}, errors.New("decode envelope: missing type")
	}

	ev := Event{
		Type:       w.Type,
		ClientID:   w.ClientID,
		ItemName:   w.ItemName,
		ServerID:   hub.WildcardServer,
		Message:    w.Message,
		Timestamp:  w.Timestamp,
		Info:       w.Info,
		ReceivedAt: receivedAt,
	}
	if w.ServerID != nil {
		ev.ServerID = *w.ServerID
	}

	switch w.Type {
	case hub.TypeItemUpdate:
		var p refresh.ItemPayload
		if err := json.Unmarshal(w.Data, &p); err != nil {
			return Event{}, fmt.Errorf("decode %s data: %w", w.Type, err)
		}
		ev.Deals = p.Items
	case hub.TypeTopUpdate:
		var snap model.TopSnapshot
		if err := json.Unmarshal(w.Data, &snap); err != nil {
			return Event{}, fmt.Errorf("decode %s data: %w", w.Type, err)
		}
		ev.Top = &snap
	}
	return ev, nil
}

// ClientConfig configures a Stream.
type ClientConfig struct {
	URL              string        // e.g. ws://localhost:8000/ws
	HandshakeTimeout time.Duration // dial plus the connected envelope
	IdleTimeout      time.Duration // longest silence, server pings included
	WriteTimeout     time.Duration
	BufferSize       int
}

// DefaultClientConfig returns defaults suited to the server's 30s ping interval.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Client            ClientConfig
	Watches           []Watch
	ReconnectBaseWait time.Duration
	ReconnectMaxWait  time.Duration
	EventBufferSize   int
}

// DefaultWatcherConfig returns sensible defaults.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: time.Second,
		ReconnectMaxWait:  time.Minute,
		EventBufferSize:   1000,
	}
}

// WatcherStats reports watcher activity.
type WatcherStats struct {
	Connected  bool
	ClientID   string
	Reconnects int64
	Events     int64
	Dropped    int64
}
