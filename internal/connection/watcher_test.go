package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
)

// hubServer serves a real hub over websocket, assigning sequential client ids.
func hubServer(t *testing.T, h *hub.Hub) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	var seq atomic.Int64

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		tr := hub.NewWSTransport(conn, hub.DefaultTransportConfig(), nil)
		c := h.Connect(tr, fmt.Sprintf("c%d", seq.Add(1)))
		h.Serve(c, tr)
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// nextEvent returns the next event of type typ, skipping others.
func nextEvent(t *testing.T, w *Watcher, typ string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s event", typ)
		}
	}
}

func newTestWatcher(t *testing.T, server *httptest.Server, watches ...Watch) *Watcher {
	t.Helper()
	cfg := DefaultWatcherConfig()
	cfg.Client.URL = wsURL(server)
	cfg.Watches = watches
	cfg.ReconnectBaseWait = 10 * time.Millisecond
	cfg.ReconnectMaxWait = 50 * time.Millisecond

	w := NewWatcher(cfg, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		w.Stop(ctx)
	})
	return w
}

func TestWatcher_ReceivesItemUpdates(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil)
	server := hubServer(t, h)
	defer server.Close()

	w := newTestWatcher(t, server, Watch{ItemName: "포션", ServerID: -1})

	if ev := nextEvent(t, w, hub.TypeConnected); ev.ClientID != "c1" {
		t.Errorf("connected client_id = %q, want c1", ev.ClientID)
	}
	sub := nextEvent(t, w, hub.TypeSubscribed)
	if sub.ItemName != "포션" || sub.ServerID != -1 {
		t.Errorf("subscribed = %+v", sub)
	}

	deals := []model.DealItem{{ServerID: 3, ServerName: "바포메트", DisplayName: "빨간 포션", Quantity: 2, Price: 50, PriceFormatted: "50"}}
	if n := h.BroadcastToSubscribers("포션", 3, refresh.ItemPayload{Items: deals, Count: 1}); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}

	ev := nextEvent(t, w, hub.TypeItemUpdate)
	if ev.ItemName != "포션" || ev.ServerID != 3 {
		t.Errorf("update = %+v", ev)
	}
	if diff := cmp.Diff(deals, ev.Deals); diff != "" {
		t.Errorf("deals (-want +got):\n%s", diff)
	}
	if ev.ReceivedAt.IsZero() || ev.Timestamp.IsZero() {
		t.Error("timestamps should not be zero")
	}

	h.BroadcastToAll(hub.TopUpdate{Data: model.TopSnapshot{Date: "2025-01-15"}})
	if top := nextEvent(t, w, hub.TypeTopUpdate); top.Top == nil || top.Top.Date != "2025-01-15" {
		t.Errorf("top5 update = %+v", top.Top)
	}
}

func TestWatcher_ReconnectsAndResubscribes(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil)
	server := hubServer(t, h)
	defer server.Close()

	w := newTestWatcher(t, server,
		Watch{ItemName: "포션", ServerID: 1},
		Watch{ItemName: "카드", ServerID: -1},
	)
	waitFor(t, func() bool { return h.Stats().Subscriptions == 2 })
	if got := w.Stats().ClientID; got != "c1" {
		t.Errorf("ClientID = %q, want c1", got)
	}

	// Drop every connection server-side.
	h.CloseAll()

	waitFor(t, func() bool { return w.Stats().Reconnects == 1 })
	waitFor(t, func() bool { return h.Stats().Subscriptions == 2 && h.ConnectionCount() == 1 })

	stats := w.Stats()
	if !stats.Connected || stats.ClientID != "c2" {
		t.Errorf("stats after reconnect = %+v", stats)
	}
	if _, ok := h.ClientInfo("c2"); !ok {
		t.Error("hub has no c2 registration")
	}
}

func TestWatcher_Send(t *testing.T) {
	h := hub.New(hub.DefaultConfig(), nil)
	server := hubServer(t, h)
	defer server.Close()

	w := newTestWatcher(t, server)
	nextEvent(t, w, hub.TypeConnected)

	if err := w.Send(Command{Action: hub.ActionPing}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	nextEvent(t, w, hub.TypePong)

	if err := w.Send(Command{Action: hub.ActionStatus}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if ev := nextEvent(t, w, hub.TypeStatus); ev.Info == nil || ev.Info.ClientID != "c1" {
		t.Errorf("status info = %+v", ev.Info)
	}
}

func TestWatcher_StartFailsWithoutServer(t *testing.T) {
	cfg := DefaultWatcherConfig()
	cfg.Client.URL = "ws://127.0.0.1:1/ws"

	w := NewWatcher(cfg, nil)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
}

func TestWatcher_SendNotConnected(t *testing.T) {
	w := NewWatcher(DefaultWatcherConfig(), nil)
	if err := w.Send(Command{Action: hub.ActionPing}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
