package history

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rickgao/romarket/internal/model"
)

// DefaultLimit is the number of price rows returned when a query sets none.
const DefaultLimit = 100

// Store is the persistence contract used by the refresh pipeline and the HTTP API.
type Store interface {
	// SaveTopItems replaces the snapshot for category and appends rank history.
	SaveTopItems(ctx context.Context, items []model.TopItem, category model.Category) error

	// SaveDealItems appends price history.
	SaveDealItems(ctx context.Context, items []model.DealItem) error

	// CachedTopItems returns the last snapshot of every category, ordered by
	// category then rank.
	CachedTopItems(ctx context.Context) ([]model.TopItemRecord, error)

	// PriceHistory returns the newest price rows matching q.
	PriceHistory(ctx context.Context, q PriceQuery) ([]model.PriceRecord, error)

	// RankHistory returns the newest rank rows for an item.
	RankHistory(ctx context.Context, itemID, limit int) ([]model.RankRecord, error)

	// AveragePrice averages prices recorded within the last days. ok is false when
	// there are no matching rows.
	AveragePrice(ctx context.Context, itemName string, serverID, days int) (avg float64, ok bool, err error)

	// Stats returns row counts and the last snapshot update.
	Stats(ctx context.Context) (Stats, error)

	// WriteMetrics returns write counters since start.
	WriteMetrics() WriteMetrics

	Close() error
}

// PriceQuery selects price history. ItemName matches as a case-insensitive substring;
// ServerID -1 matches every server.
type PriceQuery struct {
	ItemName string
	ServerID int
	Limit    int
}

func (q PriceQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func (q PriceQuery) allServers() bool {
	return q.ServerID == model.AllServers
}

// Stats summarizes stored history.
type Stats struct {
	PriceHistoryCount int64  `json:"price_history_count"`
	RankHistoryCount  int64  `json:"rank_history_count"`
	LastCacheUpdate   *int64 `json:"last_cache_update"` // µs since epoch, nil when empty
}

// WriteMetrics tracks history writes.
type WriteMetrics struct {
	Inserts int64 `json:"inserts"`
	Errors  int64 `json:"errors"`
}

type writeCounters struct {
	inserts atomic.Int64
	errors  atomic.Int64
}

func (w *writeCounters) record(rows int, err error) {
	if err != nil {
		w.errors.Add(1)
		return
	}
	w.inserts.Add(int64(rows))
}

func (w *writeCounters) snapshot() WriteMetrics {
	return WriteMetrics{Inserts: w.inserts.Load(), Errors: w.errors.Load()}
}

// likePattern wraps s for a substring LIKE match, escaping wildcards with '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

// dayMicros is one day in microseconds.
const dayMicros = int64(24 * 60 * 60 * 1_000_000)
