package hub

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/romarket/internal/model"
)

// WildcardServer subscribes to an item on every server.
const WildcardServer = model.AllServers

// SubscriptionKey builds the index key for an item on a server.
// Item names are matched case-insensitively.
func SubscriptionKey(itemName string, serverID int) string {
	return fmt.Sprintf("%s:%d", strings.ToLower(itemName), serverID)
}

// Transport is the send side of a client connection.
type Transport interface {
	// Send writes one text frame. An error marks the connection dead.
	Send(data []byte) error

	// Close tears the connection down. It must be safe to call more than once.
	Close() error
}

// Config holds Hub settings.
type Config struct {
	// SendConcurrency bounds the number of in-flight sends per broadcast.
	SendConcurrency int
}

// DefaultConfig returns the default Hub settings.
func DefaultConfig() Config {
	return Config{SendConcurrency: 32}
}

// Stats is a point-in-time view of the Hub.
type Stats struct {
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
	MessagesSent  uint64 `json:"total_messages_sent"`
}

// ClientInfo describes one registered connection.
type ClientInfo struct {
	ClientID      string    `json:"client_id"`
	ConnectedAt   time.Time `json:"connected_at"`
	Subscriptions []string  `json:"subscriptions"`
}

// Conn is a registered client connection.
type Conn struct {
	id          string
	connectedAt time.Time
	transport   Transport

	// guarded by Hub.mu
	subscriptions map[string]struct{}
}

// ID returns the client ID the connection was registered under.
func (c *Conn) ID() string { return c.id }

// ConnectedAt returns the registration time.
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

func (c *Conn) send(m ServerMessage) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return c.transport.Send(data)
}

// Hub tracks live connections and their subscriptions.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	conns map[string]*Conn
	subs  map[string]map[string]struct{} // key -> client IDs

	messagesSent atomic.Uint64
}

// New creates a Hub.
func New(cfg Config, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendConcurrency <= 0 {
		cfg.SendConcurrency = DefaultConfig().SendConcurrency
	}

	return &Hub{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		conns:  make(map[string]*Conn),
		subs:   make(map[string]map[string]struct{}),
	}
}

// Connect registers a transport under clientID and sends the connected ack.
// An existing connection with the same ID is dropped and its transport closed.
func (h *Hub) Connect(t Transport, clientID string) *Conn {
	c := &Conn{
		id:            clientID,
		connectedAt:   h.now(),
		transport:     t,
		subscriptions: make(map[string]struct{}),
	}

	h.mu.Lock()
	prev := h.conns[clientID]
	if prev != nil {
		h.removeLocked(prev)
	}
	h.conns[clientID] = c
	total := len(h.conns)
	h.mu.Unlock()

	if prev != nil {
		h.logger.Info("client re-registered, dropping previous connection", "client_id", clientID)
		prev.transport.Close()
	}

	if err := c.send(Connected{ClientID: clientID, Timestamp: c.connectedAt}); err != nil {
		h.logger.Warn("failed to send connected ack", "client_id", clientID, "error", err)
	}

	h.logger.Info("client connected", "client_id", clientID, "total", total)
	return c
}

// Disconnect removes whatever connection is registered under clientID,
// along with all of its subscriptions. Unknown IDs are a no-op.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	c := h.conns[clientID]
	if c != nil {
		h.removeLocked(c)
	}
	total := len(h.conns)
	h.mu.Unlock()

	if c == nil {
		return
	}
	c.transport.Close()
	h.logger.Info("client disconnected", "client_id", clientID, "total", total)
}

// Release removes c only if it is still the registered connection for its ID.
// It reports whether anything was removed.
func (h *Hub) Release(c *Conn) bool {
	h.mu.Lock()
	removed := h.conns[c.id] == c
	if removed {
		h.removeLocked(c)
	}
	total := len(h.conns)
	h.mu.Unlock()

	c.transport.Close()
	if removed {
		h.logger.Info("client disconnected", "client_id", c.id, "total", total)
	}
	return removed
}

// CloseAll disconnects every client and returns how many were removed.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
		h.removeLocked(c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.transport.Close()
	}
	return len(conns)
}

// removeLocked drops c from both indices. h.mu must be held.
func (h *Hub) removeLocked(c *Conn) {
	for key := range c.subscriptions {
		h.unindexLocked(key, c.id)
	}
	c.subscriptions = make(map[string]struct{})
	delete(h.conns, c.id)
}

func (h *Hub) unindexLocked(key, clientID string) {
	members, ok := h.subs[key]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(h.subs, key)
	}
}

// Subscribe adds a subscription for a registered client.
// It returns false if clientID is not registered. Repeating is a no-op.
func (h *Hub) Subscribe(clientID, itemName string, serverID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.conns[clientID]
	if c == nil {
		return false
	}
	h.subscribeLocked(c, SubscriptionKey(itemName, serverID))
	return true
}

// Unsubscribe removes a subscription. It returns false if clientID is not registered.
func (h *Hub) Unsubscribe(clientID, itemName string, serverID int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.conns[clientID]
	if c == nil {
		return false
	}
	h.unsubscribeLocked(c, SubscriptionKey(itemName, serverID))
	return true
}

// subscribeConn is Subscribe for a specific connection. It is a no-op once c
// has been replaced or removed, so a late message cannot touch its successor.
func (h *Hub) subscribeConn(c *Conn, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.id] != c {
		return false
	}
	h.subscribeLocked(c, key)
	return true
}

func (h *Hub) unsubscribeConn(c *Conn, key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.id] != c {
		return false
	}
	h.unsubscribeLocked(c, key)
	return true
}

func (h *Hub) subscribeLocked(c *Conn, key string) {
	members, ok := h.subs[key]
	if !ok {
		members = make(map[string]struct{})
		h.subs[key] = members
	}
	members[c.id] = struct{}{}
	c.subscriptions[key] = struct{}{}

	h.logger.Debug("client subscribed", "client_id", c.id, "key", key)
}

func (h *Hub) unsubscribeLocked(c *Conn, key string) {
	delete(c.subscriptions, key)
	h.unindexLocked(key, c.id)

	h.logger.Debug("client unsubscribed", "client_id", c.id, "key", key)
}

// BroadcastToSubscribers sends an item_update to every connection subscribed to
// the item on serverID or on the wildcard server. Each connection receives at most
// one copy. It returns the number of successful sends.
func (h *Hub) BroadcastToSubscribers(itemName string, serverID int, data any) int {
	keys := []string{SubscriptionKey(itemName, serverID)}
	if serverID != WildcardServer {
		keys = append(keys, SubscriptionKey(itemName, WildcardServer))
	}

	h.mu.Lock()
	targets := make(map[string]*Conn)
	for _, key := range keys {
		for id := range h.subs[key] {
			if c := h.conns[id]; c != nil {
				targets[id] = c
			}
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return 0
	}

	msg := ItemUpdate{
		ItemName:  itemName,
		ServerID:  serverID,
		Data:      data,
		Timestamp: h.now(),
	}
	conns := make([]*Conn, 0, len(targets))
	for _, c := range targets {
		conns = append(conns, c)
	}
	return h.deliver(msg, conns)
}

// BroadcastToAll sends msg to every registered connection and returns the
// number of successful sends.
func (h *Hub) BroadcastToAll(msg ServerMessage) int {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if len(conns) == 0 {
		return 0
	}
	return h.deliver(msg, conns)
}

// deliver encodes msg once and sends it to conns concurrently.
// Connections whose send fails are evicted.
func (h *Hub) deliver(msg ServerMessage, conns []*Conn) int {
	data, err := Encode(msg)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "type", msg.MessageType(), "error", err)
		return 0
	}

	var sent atomic.Uint64
	var g errgroup.Group
	g.SetLimit(h.cfg.SendConcurrency)

	for _, c := range conns {
		g.Go(func() error {
			if err := c.transport.Send(data); err != nil {
				h.logger.Warn("send failed, evicting client",
					"client_id", c.id,
					"type", msg.MessageType(),
					"error", err,
				)
				h.Release(c)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	g.Wait()

	n := sent.Load()
	h.messagesSent.Add(n)
	return int(n)
}

// Stats returns connection, subscription-key and sent-message counts.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return Stats{
		Connections:   len(h.conns),
		Subscriptions: len(h.subs),
		MessagesSent:  h.messagesSent.Load(),
	}
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ClientInfo returns registration info for clientID.
func (h *Hub) ClientInfo(clientID string) (ClientInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.conns[clientID]
	if c == nil {
		return ClientInfo{}, false
	}
	return infoLocked(c), true
}

func infoLocked(c *Conn) ClientInfo {
	subs := make([]string, 0, len(c.subscriptions))
	for key := range c.subscriptions {
		subs = append(subs, key)
	}
	sort.Strings(subs)

	return ClientInfo{
		ClientID:      c.id,
		ConnectedAt:   c.connectedAt,
		Subscriptions: subs,
	}
}
