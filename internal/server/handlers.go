package server

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/rickgao/romarket/internal/history"
	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
	"github.com/rickgao/romarket/internal/version"
)

const (
	maxSearchPage      = 1000
	maxHistoryLimit    = 500
	defaultAverageDays = 7
	maxAverageDays     = 30
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	categories := make(map[model.Category]string, len(model.Categories))
	for _, c := range model.Categories {
		categories[c] = c.DisplayName()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":    s.cfg.Service,
		"version": s.cfg.Version,
		"mode":    "on-demand",
		"endpoints": map[string]string{
			"websocket": "/ws",
			"servers":   "/api/v1/servers",
			"top5":      "/api/v1/items/top5",
			"search":    "/api/v1/items/search?name={item_name}",
			"history":   "/api/v1/items/history?name={item_name}",
			"stats":     "/api/v1/stats",
			"health":    "/api/v1/health",
		},
		"cache": map[string]string{
			"search_ttl": fmt.Sprintf("%d seconds", int(s.cfg.SearchTTL.Seconds())),
			"top5_ttl":   fmt.Sprintf("%d seconds", int(s.cfg.TopTTL.Seconds())),
		},
		"categories": categories,
		"build":      version.String(),
	})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers := make([]model.Server, 0, len(model.Servers))
	for _, srv := range model.Servers {
		if model.PublicServerID(srv.ID) == srv.ID {
			servers = append(servers, srv)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

type topResponse struct {
	model.TopSnapshot
	Cached bool `json:"cached"`
}

type topCategoryResponse struct {
	Category model.Category  `json:"category"`
	Items    []model.TopItem `json:"items"`
	Cached   bool            `json:"cached"`
	CacheTTL *int            `json:"cache_ttl,omitempty"` // seconds, cache hits only
}

type topStaleResponse struct {
	Items []model.TopItemRecord `json:"items"`
	Stale bool                  `json:"stale"`
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	force, err := boolParam(q, "force_refresh")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Refresh.FetchTop(r.Context(), refresh.TopRequest{
		Category:     strings.TrimSpace(q.Get("category")),
		ForceRefresh: force,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cached := res.Outcome == refresh.OutcomeCached
	switch {
	case res.Outcome == refresh.OutcomeStale:
		writeJSON(w, http.StatusOK, topStaleResponse{Items: res.Stale, Stale: true})
	case res.Category != "":
		resp := topCategoryResponse{Category: res.Category, Items: res.Items, Cached: cached}
		if cached {
			ttl := int(res.CacheTTL.Seconds())
			resp.CacheTTL = &ttl
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeJSON(w, http.StatusOK, topResponse{TopSnapshot: res.Snapshot, Cached: cached})
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	name, err := requiredString(q, "name")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serverID, err := intParam(q, "server_id", model.AllServers, math.MinInt32, math.MaxInt32)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := intParam(q, "page", 1, 1, maxSearchPage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	force, err := boolParam(q, "force_refresh")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.deps.Refresh.Search(r.Context(), refresh.SearchRequest{
		Name:         name,
		ServerID:     serverID,
		Page:         page,
		ForceRefresh: force,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// historyParams parses the name and optional server_id shared by history routes.
func historyParams(r *http.Request) (string, int, error) {
	q := r.URL.Query()
	name, err := requiredString(q, "name")
	if err != nil {
		return "", 0, err
	}
	serverID, err := intParam(q, "server_id", model.AllServers, math.MinInt32, math.MaxInt32)
	if err != nil {
		return "", 0, err
	}
	return name, serverID, nil
}

// cachedHistory runs compute through the history cache when one is configured.
// Answers live for HistoryTTL unless InvalidateHistory drops them when matching
// deals are saved.
func (s *Server) cachedHistory(ctx context.Context, key string, compute func(context.Context) (HistoryAnswer, error)) (HistoryAnswer, error) {
	if s.deps.HistoryCache == nil {
		return compute(ctx)
	}
	return s.deps.HistoryCache.GetOrCompute(ctx, key, s.cfg.HistoryTTL, compute)
}

// handleHistory serves GET /api/v1/items/history. Answers are cached for
// HistoryTTL; a search that saves new deals for the item invalidates them.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name, serverID, err := historyParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(r.URL.Query(), "limit", history.DefaultLimit, 1, maxHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.History == nil {
		s.writeError(w, r, errNoStore)
		return
	}

	key := fmt.Sprintf("history:%s:%d:%d", strings.ToLower(name), serverID, limit)
	ans, err := s.cachedHistory(r.Context(), key, func(ctx context.Context) (HistoryAnswer, error) {
		recs, err := s.deps.History.PriceHistory(ctx, history.PriceQuery{
			ItemName: name,
			ServerID: serverID,
			Limit:    limit,
		})
		if err != nil {
			return HistoryAnswer{}, fmt.Errorf("price history: %w", err)
		}
		return HistoryAnswer{Query: strings.ToLower(name), ServerID: serverID, Records: recs, Found: len(recs) > 0}, nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !ans.Found {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "No history found",
			"items":   []model.PriceRecord{},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_name": name,
		"count":     len(ans.Records),
		"items":     ans.Records,
	})
}

// handleAverage serves GET /api/v1/items/average, cached like handleHistory.
func (s *Server) handleAverage(w http.ResponseWriter, r *http.Request) {
	name, serverID, err := historyParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days, err := intParam(r.URL.Query(), "days", defaultAverageDays, 1, maxAverageDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.History == nil {
		s.writeError(w, r, errNoStore)
		return
	}

	key := fmt.Sprintf("average:%s:%d:%d", strings.ToLower(name), serverID, days)
	ans, err := s.cachedHistory(r.Context(), key, func(ctx context.Context) (HistoryAnswer, error) {
		avg, ok, err := s.deps.History.AveragePrice(ctx, name, serverID, days)
		if err != nil {
			return HistoryAnswer{}, fmt.Errorf("average price: %w", err)
		}
		return HistoryAnswer{Query: strings.ToLower(name), ServerID: serverID, Average: avg, Found: ok}, nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !ans.Found {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("No price data found for '%s'", name))
		return
	}

	var server any
	if r.URL.Query().Get("server_id") != "" {
		server = serverID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_name":     name,
		"server_id":     server,
		"days":          days,
		"average_price": int64(math.Round(ans.Average)),
	})
}

func (s *Server) handleRankHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, err := requiredString(q, "item_id"); err != nil {
		s.writeError(w, r, err)
		return
	}
	itemID, err := intParam(q, "item_id", 0, 1, math.MaxInt32)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(q, "limit", history.DefaultLimit, 1, maxHistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.deps.History == nil {
		s.writeError(w, r, errNoStore)
		return
	}

	recs, err := s.deps.History.RankHistory(r.Context(), itemID, limit)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("rank history: %w", err))
		return
	}
	if recs == nil {
		recs = []model.RankRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id": itemID,
		"count":   len(recs),
		"items":   recs,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Caches.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.deps.Caches.Clear()
	out := make(map[string]int, len(cleared))
	for name, n := range cleared {
		out[name+"_cleared"] = n
	}
	s.logger.Info("caches cleared", "removed", out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeError(w, r, errNoStore)
		return
	}
	dbStats, err := s.deps.History.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, fmt.Errorf("history stats: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"database":  dbStats,
		"writes":    s.deps.History.WriteMetrics(),
		"cache":     s.deps.Caches.Stats(),
		"websocket": s.deps.Hub.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     s.cfg.Service,
		"mode":        "on-demand",
		"connections": s.deps.Hub.ConnectionCount(),
	})
}
