package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/romarket/internal/cache"
	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
)

// Config holds orchestrator settings.
type Config struct {
	PageSize int

	// DedupeInflight collapses concurrent misses for the same cache key into one
	// upstream fetch.
	DedupeInflight bool
}

// Deps are the collaborators injected into an Orchestrator. A nil Source, Store or cache
// makes the affected requests fail with ErrNotInitialized. A nil Hub disables fan-out.
type Deps struct {
	Source      Source
	Store       HistoryStore
	Hub         Broadcaster
	TopCache    *cache.TTL[model.TopSnapshot]
	SearchCache *cache.TTL[SearchPage]

	// DealsSaved, when set, runs after deals are persisted so readers of
	// price history can drop what they cached.
	DealsSaved func(items []model.DealItem)
}

// Orchestrator answers top-N and search requests.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	group    singleflight.Group
	outcomes [numKinds][numOutcomes]atomic.Uint64
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger}
}

// OutcomeCount returns how many requests of kind were answered with outcome.
func (o *Orchestrator) OutcomeCount(kind Kind, outcome Outcome) uint64 {
	return o.outcomes[kind][outcome].Load()
}

func (o *Orchestrator) record(kind Kind, outcome Outcome) {
	o.outcomes[kind][outcome].Add(1)
}

// FetchTop answers a top-N request.
func (o *Orchestrator) FetchTop(ctx context.Context, req TopRequest) (TopResult, error) {
	if o.deps.Source == nil || o.deps.Store == nil || o.deps.TopCache == nil {
		return TopResult{}, ErrNotInitialized
	}

	var category model.Category
	if req.Category != "" {
		category, _ = model.ParseCategory(req.Category)
	}

	if !req.ForceRefresh {
		if snap, ok := o.deps.TopCache.Get(TopCacheKey); ok {
			o.logger.Debug("top items cache hit")
			o.record(KindTop, OutcomeCached)
			res := topResult(snap, category, OutcomeCached)
			res.CacheTTL = o.deps.TopCache.DefaultTTL()
			return res, nil
		}
	}

	o.logger.Info("top items cache miss, fetching from upstream", "force", req.ForceRefresh)
	ctx = context.WithoutCancel(ctx)

	snap, ok := o.refreshTop(ctx)
	if !ok {
		return o.staleTop(ctx, category)
	}

	o.record(KindTop, OutcomeFresh)
	return topResult(snap, category, OutcomeFresh), nil
}

func topResult(snap model.TopSnapshot, category model.Category, outcome Outcome) TopResult {
	if category != "" {
		return TopResult{Outcome: outcome, Category: category, Items: snap.Category(category)}
	}
	return TopResult{Outcome: outcome, Snapshot: snap}
}

// refreshTop runs the top-N pipeline: fetch, cache, persist, broadcast.
func (o *Orchestrator) refreshTop(ctx context.Context) (model.TopSnapshot, bool) {
	run := func() (model.TopSnapshot, bool) {
		items, ok := o.deps.Source.FetchTop(ctx)
		if !ok {
			return model.TopSnapshot{}, false
		}

		snap := model.NewTopSnapshot(items)
		o.deps.TopCache.Set(TopCacheKey, snap)

		for _, c := range model.Categories {
			if err := o.deps.Store.SaveTopItems(ctx, snap.Category(c), c); err != nil {
				o.logger.Error("failed to save top items", "category", c, "error", err)
			}
		}

		if o.deps.Hub != nil {
			n := o.deps.Hub.BroadcastToAll(hub.TopUpdate{Data: snap})
			o.logger.Debug("broadcast top items", "clients", n)
		}
		return snap, true
	}

	if !o.cfg.DedupeInflight {
		return run()
	}

	v, _, _ := o.group.Do(TopCacheKey, func() (any, error) {
		snap, ok := run()
		if !ok {
			return nil, nil
		}
		return snap, nil
	})
	snap, ok := v.(model.TopSnapshot)
	return snap, ok
}

// staleTop falls back to the last persisted snapshot. The whole snapshot is
// returned whatever category was asked for; any row at all counts as stale data.
func (o *Orchestrator) staleTop(ctx context.Context, category model.Category) (TopResult, error) {
	records, err := o.deps.Store.CachedTopItems(ctx)
	if err != nil {
		o.logger.Error("failed to read stale top items", "error", err)
	}
	if len(records) == 0 {
		o.record(KindTop, OutcomeFailed)
		return TopResult{}, ErrFetchFailed
	}

	o.logger.Warn("serving stale top items", "count", len(records))
	o.record(KindTop, OutcomeStale)
	return TopResult{Outcome: OutcomeStale, Category: category, Stale: records}, nil
}

// Search answers a deal search.
func (o *Orchestrator) Search(ctx context.Context, req SearchRequest) (model.SearchResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.SearchResult{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.Page < 1 {
		return model.SearchResult{}, fmt.Errorf("%w: page must be >= 1", ErrInvalidRequest)
	}
	if o.deps.Source == nil || o.deps.Store == nil || o.deps.SearchCache == nil {
		return model.SearchResult{}, ErrNotInitialized
	}

	key := SearchCacheKey(name, req.ServerID, req.Page)

	if !req.ForceRefresh {
		if page, ok := o.deps.SearchCache.Get(key); ok {
			o.logger.Debug("search cache hit", "item", name)
			o.record(KindSearch, OutcomeCached)
			return searchResult(page, req.Page), nil
		}
	}

	o.logger.Info("search cache miss, fetching from upstream", "item", name, "server_id", req.ServerID)
	ctx = context.WithoutCancel(ctx)

	var page SearchPage
	if o.cfg.DedupeInflight {
		v, _, _ := o.group.Do(key, func() (any, error) {
			return o.refreshSearch(ctx, key, name, req.ServerID, req.Page), nil
		})
		page = v.(SearchPage)
	} else {
		page = o.refreshSearch(ctx, key, name, req.ServerID, req.Page)
	}

	o.record(KindSearch, OutcomeFresh)
	return searchResult(page, req.Page), nil
}

func searchResult(p SearchPage, page int) model.SearchResult {
	return model.SearchResult{
		Items:      p.Items,
		TotalCount: p.TotalCount,
		Page:       page,
		HasMore:    p.HasMore,
	}
}

// refreshSearch runs the search pipeline: fetch, cache, and for non-empty results
// persist and notify subscribers.
func (o *Orchestrator) refreshSearch(ctx context.Context, key, name string, serverID, pageNum int) SearchPage {
	items := o.deps.Source.SearchDeals(ctx, name, serverID, pageNum)
	if items == nil {
		items = []model.DealItem{}
	}

	page := SearchPage{
		Items:      items,
		TotalCount: len(items),
		HasMore:    len(items) >= o.cfg.PageSize,
	}
	o.deps.SearchCache.Set(key, page)

	if len(items) == 0 {
		return page
	}

	if err := o.deps.Store.SaveDealItems(ctx, items); err != nil {
		o.logger.Error("failed to save deal items", "item", name, "error", err)
	} else if o.deps.DealsSaved != nil {
		o.deps.DealsSaved(items)
	}

	if o.deps.Hub != nil {
		n := o.deps.Hub.BroadcastToSubscribers(name, serverID, ItemPayload{Items: items, Count: len(items)})
		o.logger.Debug("broadcast item update", "item", name, "server_id", serverID, "clients", n)
	}
	return page
}
