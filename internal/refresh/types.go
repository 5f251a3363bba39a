package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/romarket/internal/hub"
	"github.com/rickgao/romarket/internal/model"
)

// TopCacheKey is the single cache key holding the full top-N snapshot.
const TopCacheKey = "top5_all"

// DefaultPageSize is the upstream page size; a full page means there may be more.
const DefaultPageSize = 20

// Errors returned by the orchestrator.
var (
	ErrFetchFailed    = errors.New("failed to fetch data from GNJOY")
	ErrNotInitialized = errors.New("refresh pipeline not initialized")
	ErrInvalidRequest = errors.New("invalid request")
)

// Source is the upstream market data contract. Failures are reported as absence.
type Source interface {
	FetchTop(ctx context.Context) (model.TopItems, bool)
	SearchDeals(ctx context.Context, name string, serverID, page int) []model.DealItem
}

// HistoryStore is the persistence contract used by the pipeline.
type HistoryStore interface {
	SaveTopItems(ctx context.Context, items []model.TopItem, category model.Category) error
	SaveDealItems(ctx context.Context, items []model.DealItem) error
	CachedTopItems(ctx context.Context) ([]model.TopItemRecord, error)
}

// Broadcaster pushes fresh data to streaming clients.
type Broadcaster interface {
	BroadcastToSubscribers(itemName string, serverID int, data any) int
	BroadcastToAll(msg hub.ServerMessage) int
}

// Outcome classifies how a request was answered.
type Outcome int

const (
	OutcomeFresh Outcome = iota
	OutcomeCached
	OutcomeStale
	OutcomeFailed
	numOutcomes
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFresh:
		return "fresh"
	case OutcomeCached:
		return "cached"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Kind is the request type an outcome belongs to.
type Kind int

const (
	KindTop Kind = iota
	KindSearch
	numKinds
)

func (k Kind) String() string {
	if k == KindTop {
		return "top"
	}
	return "search"
}

// TopRequest asks for the top-N dataset, optionally one category.
type TopRequest struct {
	Category     string // "" for every category
	ForceRefresh bool
}

// TopResult is the answer to a TopRequest.
//
// Exactly one shape is populated: Snapshot for a full fresh/cached answer, Items for a
// single category, Stale for a history fallback.
type TopResult struct {
	Outcome  Outcome
	Category model.Category // set when a category was requested

	Snapshot model.TopSnapshot
	Items    []model.TopItem
	Stale    []model.TopItemRecord

	CacheTTL time.Duration // set on cache hits
}

// SearchRequest asks for deals for an item name.
type SearchRequest struct {
	Name         string
	ServerID     int
	Page         int
	ForceRefresh bool
}

// SearchCacheKey builds the cache key for a search. Names are matched case-insensitively.
func SearchCacheKey(name string, serverID, page int) string {
	return fmt.Sprintf("search:%s:%d:%d", strings.ToLower(name), serverID, page)
}

// SearchPage is the cached value of one search.
type SearchPage struct {
	Items      []model.DealItem
	TotalCount int
	HasMore    bool
}

// ItemPayload is the data of an item_update pushed to subscribers.
type ItemPayload struct {
	Items []model.DealItem `json:"items"`
	Count int              `json:"count"`
}
