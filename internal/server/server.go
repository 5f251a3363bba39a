package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/romarket/internal/cache"
	"github.com/rickgao/romarket/internal/history"
	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
)

// Refresher answers top-N and search requests.
type Refresher interface {
	FetchTop(ctx context.Context, req refresh.TopRequest) (refresh.TopResult, error)
	Search(ctx context.Context, req refresh.SearchRequest) (model.SearchResult, error)
}

// Config holds server configuration.
type Config struct {
	Service    string
	Version    string
	SearchTTL  time.Duration // reported by the info endpoint
	TopTTL     time.Duration // reported by the info endpoint
	HistoryTTL time.Duration
	Stream     hub.TransportConfig
	// MetricsPath is where Deps.Metrics is mounted (default: /metrics).
	MetricsPath string
}

// Deps are the collaborators behind the routes. History and Metrics may be nil.
type Deps struct {
	Refresh      Refresher
	Hub          *hub.Hub
	History      history.Store
	Caches       *cache.Set
	HistoryCache *cache.TTL[HistoryAnswer]
	Metrics      http.Handler
}

// HistoryAnswer is a cached history query result.
type HistoryAnswer struct {
	Query    string // lower-cased item name as asked
	ServerID int
	Records  []model.PriceRecord
	Average  float64
	Found    bool
}

// InvalidateHistory drops cached history answers that deals could change: same
// server (or an all-servers query) and a query name contained in a deal's item
// name, the store's own matching rule. It returns how many entries were dropped.
func InvalidateHistory(c *cache.TTL[HistoryAnswer], deals []model.DealItem) int {
	if c == nil || len(deals) == 0 {
		return 0
	}
	return c.DeleteFunc(func(_ string, ans HistoryAnswer) bool {
		for _, d := range deals {
			if ans.ServerID != model.AllServers && ans.ServerID != d.ServerID {
				continue
			}
			if strings.Contains(strings.ToLower(d.ItemName), ans.Query) {
				return true
			}
		}
		return false
	})
}

// Server routes HTTP requests.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New creates a Server and registers its routes.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Service == "" {
		cfg.Service = "romarket"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Stream == (hub.TransportConfig{}) {
		cfg.Stream = hub.DefaultTransportConfig()
	}
	if deps.Caches == nil {
		deps.Caches = cache.NewSet()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)

	s.mux.HandleFunc("GET /api/v1/servers", s.handleServers)
	s.mux.HandleFunc("GET /api/v1/items/top5", s.handleTop)
	s.mux.HandleFunc("GET /api/v1/items/search", s.handleSearch)
	s.mux.HandleFunc("GET /api/v1/items/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/v1/items/average", s.handleAverage)
	s.mux.HandleFunc("GET /api/v1/items/rank-history", s.handleRankHistory)
	s.mux.HandleFunc("GET /api/v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("POST /api/v1/cache/clear", s.handleCacheClear)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /ws/stats", s.handleWebSocketStats)

	if s.deps.Metrics != nil {
		s.mux.Handle("GET "+s.cfg.MetricsPath, s.deps.Metrics)
	}
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return cors(s.mux)
}

// cors allows every origin, method and header.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				h.Set("Access-Control-Allow-Headers", reqHeaders)
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
