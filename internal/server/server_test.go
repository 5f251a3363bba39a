package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/rickgao/romarket/internal/cache"
	"github.com/rickgao/romarket/internal/database"
	"github.com/rickgao/romarket/internal/history"
	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
)

type fakeRefresher struct {
	top      refresh.TopResult
	topErr   error
	search   model.SearchResult
	err      error
	lastTop  refresh.TopRequest
	lastFind refresh.SearchRequest
}

func (f *fakeRefresher) FetchTop(ctx context.Context, req refresh.TopRequest) (refresh.TopResult, error) {
	f.lastTop = req
	return f.top, f.topErr
}

func (f *fakeRefresher) Search(ctx context.Context, req refresh.SearchRequest) (model.SearchResult, error) {
	f.lastFind = req
	return f.search, f.err
}

type fixture struct {
	srv     *httptest.Server
	ref     *fakeRefresher
	hub     *hub.Hub
	store   history.Store
	history *cache.TTL[HistoryAnswer]
}

func newFixture(t *testing.T, withStore bool) *fixture {
	t.Helper()
	f := &fixture{
		ref:     &fakeRefresher{},
		hub:     hub.New(hub.DefaultConfig(), nil),
		history: cache.New[HistoryAnswer](time.Minute),
	}

	if withStore {
		ctx := context.Background()
		db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "market.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		store, err := history.NewSQLite(ctx, db, nil)
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		t.Cleanup(func() { store.Close() })
		f.store = store
	}

	search := cache.New[int](time.Minute)
	search.Set("a", 1)
	caches := cache.NewSet().Add("item_cache", search).Add("history_cache", f.history)

	s := New(Config{
		Version:    "test",
		SearchTTL:  time.Minute,
		TopTTL:     5 * time.Minute,
		HistoryTTL: time.Minute,
	}, Deps{
		Refresh:      f.ref,
		Hub:          f.hub,
		History:      f.store,
		Caches:       caches,
		HistoryCache: f.history,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("metrics"))
		}),
	}, nil)

	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func intPtr(n int) *int { return &n }

func TestTop(t *testing.T) {
	snap := model.NewTopSnapshot(model.TopItems{
		Date:    "2025-01-15",
		Weapons: []model.TopItem{{RankNumber: 1, ItemID: 1, ItemName: "나이프", ItemCount: 3, RankState: "-"}},
	})

	tests := []struct {
		name   string
		query  string
		result refresh.TopResult
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "full fresh",
			result: refresh.TopResult{Outcome: refresh.OutcomeFresh, Snapshot: snap},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["cached"] != false || body["date"] != "2025-01-15" {
					t.Errorf("body = %v", body)
				}
				if w, _ := body["W"].([]any); len(w) != 1 {
					t.Errorf("W = %v", body["W"])
				}
			},
		},
		{
			name:  "category cached",
			query: "?category=w",
			result: refresh.TopResult{
				Outcome:  refresh.OutcomeCached,
				Category: model.CategoryWeapon,
				Items:    snap.W,
				CacheTTL: 5 * time.Minute,
			},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["category"] != "W" || body["cached"] != true || body["cache_ttl"] != float64(300) {
					t.Errorf("body = %v", body)
				}
			},
		},
		{
			name:   "category fresh has no ttl",
			query:  "?category=D",
			result: refresh.TopResult{Outcome: refresh.OutcomeFresh, Category: model.CategoryDefense, Items: []model.TopItem{}},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if _, ok := body["cache_ttl"]; ok {
					t.Errorf("unexpected cache_ttl: %v", body)
				}
			},
		},
		{
			name: "stale",
			result: refresh.TopResult{
				Outcome: refresh.OutcomeStale,
				Stale:   []model.TopItemRecord{{ItemID: 1, ItemName: "나이프", Category: model.CategoryWeapon, Rank: 1}},
			},
			status: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				if body["stale"] != true {
					t.Errorf("body = %v", body)
				}
			},
		},
		{name: "fetch failed", err: refresh.ErrFetchFailed, status: http.StatusServiceUnavailable},
		{name: "not initialized", err: refresh.ErrNotInitialized, status: http.StatusInternalServerError},
		{name: "bad force_refresh", query: "?force_refresh=maybe", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.ref.top, f.ref.topErr = tt.result, tt.err

			status, body := f.do(t, http.MethodGet, "/api/v1/items/top5"+tt.query)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.status, body)
			}
			if tt.status != http.StatusOK {
				if _, ok := body["detail"]; !ok {
					t.Errorf("error body missing detail: %v", body)
				}
				return
			}
			tt.check(t, body)
		})
	}
}

func TestTop_PassesRequest(t *testing.T) {
	f := newFixture(t, false)
	f.do(t, http.MethodGet, "/api/v1/items/top5?category=C&force_refresh=true")

	want := refresh.TopRequest{Category: "C", ForceRefresh: true}
	if diff := cmp.Diff(want, f.ref.lastTop); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		status int
		want   refresh.SearchRequest
	}{
		{"defaults", "?name=엘더윌로우카드", http.StatusOK, refresh.SearchRequest{Name: "엘더윌로우카드", ServerID: -1, Page: 1}},
		{"explicit", "?name=x&server_id=2&page=3&force_refresh=1", http.StatusOK, refresh.SearchRequest{Name: "x", ServerID: 2, Page: 3, ForceRefresh: true}},
		{"missing name", "", http.StatusBadRequest, refresh.SearchRequest{}},
		{"page zero", "?name=x&page=0", http.StatusBadRequest, refresh.SearchRequest{}},
		{"bad server", "?name=x&server_id=abc", http.StatusBadRequest, refresh.SearchRequest{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			f.ref.search = model.SearchResult{Items: []model.DealItem{}, Page: tt.want.Page}

			status, body := f.do(t, http.MethodGet, "/api/v1/items/search"+tt.query)
			if status != tt.status {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.status, body)
			}
			if status != http.StatusOK {
				return
			}
			if diff := cmp.Diff(tt.want, f.ref.lastFind); diff != "" {
				t.Errorf("request mismatch (-want +got):\n%s", diff)
			}
			for _, key := range []string{"items", "totalCount", "page", "hasMore"} {
				if _, ok := body[key]; !ok {
					t.Errorf("response missing %q: %v", key, body)
				}
			}
		})
	}
}

func TestSearch_InvalidRequestMapsTo400(t *testing.T) {
	f := newFixture(t, false)
	f.ref.err = refresh.ErrInvalidRequest

	if status, _ := f.do(t, http.MethodGet, "/api/v1/items/search?name=x"); status != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", status)
	}
}

func saveDeals(t *testing.T, store history.Store, deals ...model.DealItem) {
	t.Helper()
	if err := store.SaveDealItems(context.Background(), deals); err != nil {
		t.Fatalf("SaveDealItems: %v", err)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, true)

	status, body := f.do(t, http.MethodGet, "/api/v1/items/history?name=카드")
	if status != http.StatusOK || body["message"] != "No history found" {
		t.Fatalf("empty history: status %d body %v", status, body)
	}

	saveDeals(t, f.store,
		model.DealItem{ItemID: intPtr(4001), ItemName: "엘더윌로우카드", ServerID: 1, Price: 1000, Quantity: 1, ShopName: "a"},
		model.DealItem{ItemID: intPtr(4001), ItemName: "엘더윌로우카드", ServerID: 2, Price: 3000, Quantity: 1, ShopName: "b"},
	)

	// Same key is served from the history cache.
	status, body = f.do(t, http.MethodGet, "/api/v1/items/history?name=카드")
	if status != http.StatusOK || body["message"] != "No history found" {
		t.Fatalf("cached history: status %d body %v", status, body)
	}

	f.history.Clear()
	status, body = f.do(t, http.MethodGet, "/api/v1/items/history?name=카드&server_id=2")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["item_name"] != "카드" || body["count"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	if status, _ := f.do(t, http.MethodGet, "/api/v1/items/history?name=x&limit=501"); status != http.StatusBadRequest {
		t.Errorf("limit 501: status = %d, want 400", status)
	}
	if status, _ := f.do(t, http.MethodGet, "/api/v1/items/history"); status != http.StatusBadRequest {
		t.Errorf("missing name: status = %d, want 400", status)
	}
}

func TestHistory_InvalidatedBySavedDeals(t *testing.T) {
	f := newFixture(t, true)

	status, body := f.do(t, http.MethodGet, "/api/v1/items/average?name=포션&server_id=1")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body %v)", status, body)
	}
	if status, _ := f.do(t, http.MethodGet, "/api/v1/items/history?name=카드"); status != http.StatusOK {
		t.Fatalf("history status = %d", status)
	}
	if f.history.Len() != 2 {
		t.Fatalf("cached answers = %d, want 2", f.history.Len())
	}

	deals := []model.DealItem{{ItemName: "빨간 포션", ServerID: 1, Price: 20, Quantity: 1, ShopName: "a"}}
	saveDeals(t, f.store, deals...)
	if n := InvalidateHistory(f.history, deals); n != 1 {
		t.Errorf("InvalidateHistory = %d, want 1", n)
	}

	status, body = f.do(t, http.MethodGet, "/api/v1/items/average?name=포션&server_id=1")
	if status != http.StatusOK || body["average_price"] != float64(20) {
		t.Errorf("after save: status %d body %v", status, body)
	}
}

func TestInvalidateHistory(t *testing.T) {
	c := cache.New[HistoryAnswer](time.Minute)
	c.Set("history:포션:-1:50", HistoryAnswer{Query: "포션", ServerID: model.AllServers})
	c.Set("history:포션:2:50", HistoryAnswer{Query: "포션", ServerID: 2})
	c.Set("average:빨간 포션:1:7", HistoryAnswer{Query: "빨간 포션", ServerID: 1})
	c.Set("average:카드:1:7", HistoryAnswer{Query: "카드", ServerID: 1})
	c.Set("history:potion:1:50", HistoryAnswer{Query: "potion", ServerID: 1})

	n := InvalidateHistory(c, []model.DealItem{
		{ItemName: "빨간 포션", ServerID: 1},
		{ItemName: "Red Potion", ServerID: 1},
	})
	if n != 3 {
		t.Errorf("removed = %d, want 3", n)
	}
	for _, key := range []string{"history:포션:2:50", "average:카드:1:7"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("%s was removed", key)
		}
	}

	if n := InvalidateHistory(c, nil); n != 0 {
		t.Errorf("no deals removed %d", n)
	}
	if n := InvalidateHistory(nil, []model.DealItem{{ItemName: "x"}}); n != 0 {
		t.Errorf("nil cache removed %d", n)
	}
}

func TestAverage(t *testing.T) {
	f := newFixture(t, true)

	status, body := f.do(t, http.MethodGet, "/api/v1/items/average?name=포션")
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (body %v)", status, body)
	}

	saveDeals(t, f.store,
		model.DealItem{ItemName: "빨간 포션", ServerID: 1, Price: 10, Quantity: 5, ShopName: "a"},
		model.DealItem{ItemName: "빨간 포션", ServerID: 1, Price: 15, Quantity: 5, ShopName: "b"},
	)

	status, body = f.do(t, http.MethodGet, "/api/v1/items/average?name=빨간&server_id=1&days=3")
	if status != http.StatusOK {
		t.Fatalf("status = %d (body %v)", status, body)
	}
	want := map[string]any{
		"item_name":     "빨간",
		"server_id":     float64(1),
		"days":          float64(3),
		"average_price": float64(13),
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}

	for _, q := range []string{"days=0", "days=31"} {
		if status, _ := f.do(t, http.MethodGet, "/api/v1/items/average?name=x&"+q); status != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, status)
		}
	}
}

func TestRankHistory(t *testing.T) {
	f := newFixture(t, true)
	if err := f.store.SaveTopItems(context.Background(), []model.TopItem{{RankNumber: 2, ItemID: 7, ItemName: "커터", ItemCount: 4}}, model.CategoryWeapon); err != nil {
		t.Fatalf("SaveTopItems: %v", err)
	}

	status, body := f.do(t, http.MethodGet, "/api/v1/items/rank-history?item_id=7")
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("status %d body %v", status, body)
	}
	if status, _ := f.do(t, http.MethodGet, "/api/v1/items/rank-history"); status != http.StatusBadRequest {
		t.Errorf("missing item_id: status = %d, want 400", status)
	}
}

func TestHistoryRoutesWithoutStore(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{
		"/api/v1/items/history?name=x",
		"/api/v1/items/average?name=x",
		"/api/v1/items/rank-history?item_id=1",
		"/api/v1/stats",
	} {
		if status, _ := f.do(t, http.MethodGet, path); status != http.StatusInternalServerError {
			t.Errorf("%s: status = %d, want 500", path, status)
		}
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	f := newFixture(t, false)

	status, body := f.do(t, http.MethodGet, "/api/v1/cache/stats")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	item, _ := body["item_cache"].(map[string]any)
	if item["size"] != float64(1) || item["hit_rate"] != "0.0%" {
		t.Errorf("item_cache = %v", item)
	}

	status, body = f.do(t, http.MethodPost, "/api/v1/cache/clear")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	want := map[string]any{"item_cache_cleared": float64(1), "history_cache_cleared": float64(0)}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("clear mismatch (-want +got):\n%s", diff)
	}

	resp, err := http.Get(f.srv.URL + "/api/v1/cache/clear")
	if err != nil {
		t.Fatalf("GET clear: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET clear: status = %d, want 405", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t, true)
	status, body := f.do(t, http.MethodGet, "/api/v1/stats")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, key := range []string{"database", "writes", "cache", "websocket"} {
		if _, ok := body[key]; !ok {
			t.Errorf("stats missing %q", key)
		}
	}
}

func TestHealthAndServers(t *testing.T) {
	f := newFixture(t, false)

	_, body := f.do(t, http.MethodGet, "/api/v1/health")
	want := map[string]any{"status": "ok", "service": "romarket", "mode": "on-demand", "connections": float64(0)}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}

	_, body = f.do(t, http.MethodGet, "/api/v1/servers")
	servers, _ := body["servers"].([]any)
	if len(servers) != 5 {
		t.Errorf("servers = %v, want 5 public entries", servers)
	}

	_, body = f.do(t, http.MethodGet, "/")
	if body["mode"] != "on-demand" {
		t.Errorf("root = %v", body)
	}
	if cats, _ := body["categories"].(map[string]any); cats["W"] != "무기" || len(cats) != 4 {
		t.Errorf("categories = %v", body["categories"])
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, false)

	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/items/search", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Errorf("allow origin = %q", got)
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, false)
	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestWebSocket(t *testing.T) {
	f := newFixture(t, false)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	id, _ := msg["client_id"].(string)
	if msg["type"] != hub.TypeConnected || len(id) != 8 {
		t.Fatalf("connected message = %v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"action": "subscribe", "item_name": "포션"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != hub.TypeSubscribed {
		t.Fatalf("reply = %v", msg)
	}

	if n := f.hub.BroadcastToSubscribers("포션", 3, map[string]int{"count": 1}); n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != hub.TypeItemUpdate {
		t.Errorf("update = %v", msg)
	}

	_, body := f.do(t, http.MethodGet, "/ws/stats")
	if body["connections"] != float64(1) {
		t.Errorf("ws stats = %v", body)
	}
}
