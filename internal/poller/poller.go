package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/romarket/internal/model"
	"github.com/rickgao/romarket/internal/refresh"
)

// Refresher runs refresh pipelines.
type Refresher interface {
	FetchTop(ctx context.Context, req refresh.TopRequest) (refresh.TopResult, error)
	Search(ctx context.Context, req refresh.SearchRequest) (model.SearchResult, error)
}

// Sweeper drops expired cache entries.
type Sweeper interface {
	SweepExpired() int
}

// Config holds poller configuration.
type Config struct {
	Interval      time.Duration // Refresh interval (default: 5m)
	SweepInterval time.Duration // Cache sweep interval (default: 1m)
	Items         []string      // Item names refreshed every interval on all servers
	Concurrency   int           // Max concurrent watch list searches (default: 2)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      5 * time.Minute,
		SweepInterval: time.Minute,
		Concurrency:   2,
	}
}

// Poller periodically refreshes market data and sweeps caches.
type Poller struct {
	cfg       Config
	refresher Refresher
	sweeper   Sweeper
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. sweeper may be nil.
func New(cfg Config, refresher Refresher, sweeper Sweeper, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Poller{
		cfg:       cfg,
		refresher: refresher,
		sweeper:   sweeper,
		logger:    logger,
	}
}

// Start begins the refresh and sweep loops.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	if p.sweeper != nil {
		p.wg.Add(1)
		go p.sweepLoop()
	}

	p.logger.Info("poller started",
		"interval", p.cfg.Interval,
		"sweep_interval", p.cfg.SweepInterval,
		"watch_items", len(p.cfg.Items),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main refresh loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	p.refreshAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refreshAll()
		}
	}
}

func (p *Poller) sweepLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if n := p.sweeper.SweepExpired(); n > 0 {
				p.logger.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}

// refreshAll refreshes the top-N dataset, then the watch list concurrently.
func (p *Poller) refreshAll() {
	start := time.Now()

	if _, err := p.refresher.FetchTop(p.ctx, refresh.TopRequest{ForceRefresh: true}); err != nil {
		p.logger.Warn("failed to refresh top items", "error", err)
	}

	if len(p.cfg.Items) == 0 {
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var found, errors atomic.Int64

	for _, name := range p.cfg.Items {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			res, err := p.refresher.Search(p.ctx, refresh.SearchRequest{
				Name:         name,
				ServerID:     model.AllServers,
				Page:         1,
				ForceRefresh: true,
			})
			if err != nil {
				p.logger.Warn("failed to refresh item", "item", name, "error", err)
				errors.Add(1)
				return
			}
			found.Add(int64(res.TotalCount))
		}(name)
	}

	wg.Wait()

	p.logger.Info("refresh cycle complete",
		"items", len(p.cfg.Items),
		"deals", found.Load(),
		"errors", errors.Load(),
		"duration", time.Since(start),
	)
}
