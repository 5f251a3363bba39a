package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/romarket/internal/model"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_history (
		id          BIGSERIAL PRIMARY KEY,
		item_id     INTEGER,
		item_name   TEXT    NOT NULL,
		server_id   INTEGER NOT NULL,
		price       BIGINT  NOT NULL,
		quantity    INTEGER NOT NULL,
		shop_name   TEXT,
		recorded_at BIGINT  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rank_history (
		id          BIGSERIAL PRIMARY KEY,
		item_id     INTEGER NOT NULL,
		item_name   TEXT    NOT NULL,
		category    TEXT    NOT NULL,
		rank        INTEGER NOT NULL,
		deal_count  INTEGER NOT NULL,
		recorded_at BIGINT  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS top_items_cache (
		id          BIGSERIAL PRIMARY KEY,
		item_id     INTEGER NOT NULL,
		item_name   TEXT    NOT NULL,
		category    TEXT    NOT NULL,
		rank        INTEGER NOT NULL,
		deal_count  INTEGER NOT NULL,
		updated_at  BIGINT  NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_item_name ON price_history(item_name)`,
	`CREATE INDEX IF NOT EXISTS idx_price_server ON price_history(server_id)`,
	`CREATE INDEX IF NOT EXISTS idx_price_recorded ON price_history(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_rank_item ON rank_history(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rank_recorded ON rank_history(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_category ON top_items_cache(category)`,
}

const (
	insertSnapshotSQL = `
		INSERT INTO top_items_cache (item_id, item_name, category, rank, deal_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	insertRankSQL = `
		INSERT INTO rank_history (item_id, item_name, category, rank, deal_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	insertPriceSQL = `
		INSERT INTO price_history (item_id, item_name, server_id, price, quantity, shop_name, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

// Postgres is a Store backed by a PostgreSQL pool.
type Postgres struct {
	db      *pgxpool.Pool
	logger  *slog.Logger
	now     func() time.Time
	metrics writeCounters
}

// NewPostgres creates the schema and returns a Store. The pool is closed by Close.
func NewPostgres(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, stmt := range postgresSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &Postgres{db: db, logger: logger, now: time.Now}, nil
}

// topItemsBatch queues the snapshot and rank history inserts for one category.
func topItemsBatch(items []model.TopItem, category model.Category, now int64) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(insertSnapshotSQL, it.ItemID, it.ItemName, string(category), it.RankNumber, it.ItemCount, now)
		batch.Queue(insertRankSQL, it.ItemID, it.ItemName, string(category), it.RankNumber, it.ItemCount, now)
	}
	return batch
}

// dealItemsBatch queues one price history insert per deal.
func dealItemsBatch(items []model.DealItem, now int64) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(insertPriceSQL, it.ItemID, it.ItemName, it.ServerID, it.Price, it.Quantity, it.ShopName, now)
	}
	return batch
}

// SaveTopItems replaces the snapshot for category and appends rank history in one transaction.
func (p *Postgres) SaveTopItems(ctx context.Context, items []model.TopItem, category model.Category) (err error) {
	now := p.now().UnixMicro()
	defer func() { p.metrics.record(2*len(items), err) }()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM top_items_cache WHERE category = $1`, string(category)); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	batch := topItemsBatch(items, category, now)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert top items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	p.logger.Debug("saved top items", "category", category, "count", len(items))
	return nil
}

// SaveDealItems appends price history with a single batch round trip.
func (p *Postgres) SaveDealItems(ctx context.Context, items []model.DealItem) (err error) {
	if len(items) == 0 {
		return nil
	}
	defer func() { p.metrics.record(len(items), err) }()

	results := p.db.SendBatch(ctx, dealItemsBatch(items, p.now().UnixMicro()))
	defer results.Close()

	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}

	p.logger.Debug("saved deal items", "count", len(items))
	return nil
}

// CachedTopItems returns the last snapshot of every category.
func (p *Postgres) CachedTopItems(ctx context.Context) ([]model.TopItemRecord, error) {
	rows, err := p.db.Query(ctx, `SELECT item_id, item_name, category, rank, deal_count, updated_at
		FROM top_items_cache ORDER BY category, rank ASC`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TopItemRecord, error) {
		var r model.TopItemRecord
		var cat string
		err := row.Scan(&r.ItemID, &r.ItemName, &cat, &r.Rank, &r.DealCount, &r.UpdatedAt)
		r.Category = model.Category(cat)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return out, nil
}

// priceHistoryQuery builds the price history query. Name matching is case-insensitive.
func priceHistoryQuery(q PriceQuery) (string, []any) {
	query := `SELECT id, item_id, item_name, server_id, price, quantity, COALESCE(shop_name, ''), recorded_at
		FROM price_history WHERE item_name ILIKE $1`
	args := []any{likePattern(q.ItemName)}
	if !q.allServers() {
		query += ` AND server_id = $2 ORDER BY recorded_at DESC, id DESC LIMIT $3`
		args = append(args, q.ServerID, q.limit())
	} else {
		query += ` ORDER BY recorded_at DESC, id DESC LIMIT $2`
		args = append(args, q.limit())
	}
	return query, args
}

// PriceHistory returns the newest matching price rows.
func (p *Postgres) PriceHistory(ctx context.Context, q PriceQuery) ([]model.PriceRecord, error) {
	query, args := priceHistoryQuery(q)

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PriceRecord, error) {
		var r model.PriceRecord
		err := row.Scan(&r.ID, &r.ItemID, &r.ItemName, &r.ServerID, &r.Price, &r.Quantity, &r.ShopName, &r.RecordedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan price history: %w", err)
	}
	return out, nil
}

// RankHistory returns the newest rank rows for itemID.
func (p *Postgres) RankHistory(ctx context.Context, itemID, limit int) ([]model.RankRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := p.db.Query(ctx,
		`SELECT id, item_id, item_name, category, rank, deal_count, recorded_at
		 FROM rank_history WHERE item_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`,
		itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rank history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RankRecord, error) {
		var r model.RankRecord
		var cat string
		err := row.Scan(&r.ID, &r.ItemID, &r.ItemName, &cat, &r.Rank, &r.DealCount, &r.RecordedAt)
		r.Category = model.Category(cat)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan rank history: %w", err)
	}
	return out, nil
}

// AveragePrice averages prices recorded within the last days.
func (p *Postgres) AveragePrice(ctx context.Context, itemName string, serverID, days int) (float64, bool, error) {
	cutoff := p.now().UnixMicro() - int64(days)*dayMicros

	query := `SELECT AVG(price)::float8 FROM price_history WHERE item_name ILIKE $1 AND recorded_at >= $2`
	args := []any{likePattern(itemName), cutoff}
	if serverID != model.AllServers {
		query += ` AND server_id = $3`
		args = append(args, serverID)
	}

	var avg *float64
	if err := p.db.QueryRow(ctx, query, args...).Scan(&avg); err != nil {
		return 0, false, fmt.Errorf("query average price: %w", err)
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// Stats returns row counts and the last snapshot update.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := p.db.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM price_history),
		(SELECT COUNT(*) FROM rank_history),
		(SELECT MAX(updated_at) FROM top_items_cache)`,
	).Scan(&st.PriceHistoryCount, &st.RankHistoryCount, &st.LastCacheUpdate)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	return st, nil
}

// WriteMetrics returns write counters since start.
func (p *Postgres) WriteMetrics() WriteMetrics {
	return p.metrics.snapshot()
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.db.Close()
	return nil
}
