package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rickgao/romarket/internal/cache"
	"github.com/rickgao/romarket/internal/config"
	"github.com/rickgao/romarket/internal/database"
	"github.com/rickgao/romarket/internal/gnjoy"
	"github.com/rickgao/romarket/internal/history"
	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/metrics"
	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/poller"
	"github.com/rickgao/romarket/internal/refresh"
	"github.com/rickgao/romarket/internal/server"
	"github.com/rickgao/romarket/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults are used when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Resolve(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger, err := newLogger(cfg.Log)
	if err != nil {
		slog.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting romarket",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Open history store
	store, err := openHistory(ctx, cfg.History, logger)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	// Caches
	topCache := cache.New[model.TopSnapshot](cfg.Cache.TopTTL)
	searchCache := cache.New[refresh.SearchPage](cfg.Cache.SearchTTL)
	historyCache := cache.New[server.HistoryAnswer](cfg.Cache.HistoryTTL)
	caches := cache.NewSet().
		Add("item_cache", searchCache).
		Add("top5_cache", topCache).
		Add("history_cache", historyCache)

	// Subscription hub
	streams := hub.New(hub.Config{SendConcurrency: cfg.Stream.SendConcurrency}, logger)

	// Upstream client
	client := gnjoy.NewClient(
		cfg.GNJOY.BaseURL,
		gnjoy.WithLogger(logger),
		gnjoy.WithTimeout(cfg.GNJOY.Timeout),
		gnjoy.WithRateLimit(cfg.GNJOY.RequestsPerSecond, cfg.GNJOY.Burst),
		gnjoy.WithUserAgent(cfg.GNJOY.UserAgent),
	)

	orchestrator := refresh.New(refresh.Config{
		PageSize:       cfg.Refresh.PageSize,
		DedupeInflight: cfg.Refresh.DedupeInflight,
	}, refresh.Deps{
		Source:      gnjoy.NewSource(client, logger),
		Store:       store,
		Hub:         streams,
		TopCache:    topCache,
		SearchCache: searchCache,
		DealsSaved: func(items []model.DealItem) {
			if n := server.InvalidateHistory(historyCache, items); n > 0 {
				logger.Debug("invalidated cached history", "entries", n)
			}
		},
	}, logger)

	// Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler(metrics.NewRegistry(metrics.Sources{
			Caches:  caches,
			Hub:     streams,
			Refresh: orchestrator,
			History: store,
		}))
	}

	// Periodic refresh
	if cfg.Poller.Enabled {
		p := poller.New(poller.Config{
			Interval:      cfg.Poller.Interval,
			SweepInterval: cfg.Poller.SweepInterval,
			Items:         cfg.Poller.Items,
			Concurrency:   cfg.Poller.Concurrency,
		}, orchestrator, caches, logger)
		if err := p.Start(ctx); err != nil {
			logger.Error("failed to start poller", "error", err)
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer stopCancel()
			p.Stop(stopCtx)
		}()
	}

	srv := server.New(server.Config{
		Service:    cfg.Instance.ID,
		Version:    version.Version,
		SearchTTL:  cfg.Cache.SearchTTL,
		TopTTL:     cfg.Cache.TopTTL,
		HistoryTTL: cfg.Cache.HistoryTTL,
		Stream: hub.TransportConfig{
			WriteTimeout: cfg.Stream.WriteTimeout,
			PingInterval: cfg.Stream.PingInterval,
			PongTimeout:  cfg.Stream.PongTimeout,
		},
		MetricsPath: cfg.Metrics.Path,
	}, server.Deps{
		Refresh:      orchestrator,
		Hub:          streams,
		History:      store,
		Caches:       caches,
		HistoryCache: historyCache,
		Metrics:      metricsHandler,
	}, logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     srv.Handler(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// Websocket transports reset the write deadline on every send.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening",
			"addr", addr,
			"websocket", fmt.Sprintf("ws://%s/ws", addr),
			"history_driver", cfg.History.Driver,
			"poller", cfg.Poller.Enabled,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	if n := streams.CloseAll(); n > 0 {
		logger.Info("closed streaming clients", "count", n)
	}

	logger.Info("romarket stopped")
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// openHistory opens the configured history store. It returns a nil Store for the "none" driver.
func openHistory(ctx context.Context, cfg config.HistoryConfig, logger *slog.Logger) (history.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("opening sqlite history store", "path", cfg.SQLite.Path)
		db, err := database.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		store, err := history.NewSQLite(ctx, db, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil

	case config.DriverPostgres:
		logger.Info("connecting to database",
			"host", cfg.Postgres.Host,
			"port", cfg.Postgres.Port,
			"database", cfg.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store, err := history.NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	case config.DriverNone:
		logger.Warn("history store disabled; top-N and search requests will fail")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
}
