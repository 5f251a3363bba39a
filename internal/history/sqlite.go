package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rickgao/romarket/internal/model"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS price_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id     INTEGER,
		item_name   TEXT    NOT NULL,
		server_id   INTEGER NOT NULL,
		price       INTEGER NOT NULL,
		quantity    INTEGER NOT NULL,
		shop_name   TEXT,
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rank_history (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id     INTEGER NOT NULL,
		item_name   TEXT    NOT NULL,
		category    TEXT    NOT NULL,
		rank        INTEGER NOT NULL,
		deal_count  INTEGER NOT NULL,
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS top_items_cache (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id     INTEGER NOT NULL,
		item_name   TEXT    NOT NULL,
		category    TEXT    NOT NULL,
		rank        INTEGER NOT NULL,
		deal_count  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_price_item_name ON price_history(item_name)`,
	`CREATE INDEX IF NOT EXISTS idx_price_server ON price_history(server_id)`,
	`CREATE INDEX IF NOT EXISTS idx_price_recorded ON price_history(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_rank_item ON rank_history(item_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rank_recorded ON rank_history(recorded_at)`,
	`CREATE INDEX IF NOT EXISTS idx_cache_category ON top_items_cache(category)`,
}

// SQLite is a Store backed by an embedded SQLite database.
type SQLite struct {
	db      *sql.DB
	logger  *slog.Logger
	now     func() time.Time
	metrics writeCounters
}

// NewSQLite creates the schema on db and returns a Store.
func NewSQLite(ctx context.Context, db *sql.DB, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}

	return &SQLite{db: db, logger: logger, now: time.Now}, nil
}

// SaveTopItems replaces the snapshot for category and appends rank history in one transaction.
func (s *SQLite) SaveTopItems(ctx context.Context, items []model.TopItem, category model.Category) (err error) {
	now := s.now().UnixMicro()
	defer func() { s.metrics.record(2*len(items), err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM top_items_cache WHERE category = ?`, string(category)); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	for _, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO top_items_cache (item_id, item_name, category, rank, deal_count, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			it.ItemID, it.ItemName, string(category), it.RankNumber, it.ItemCount, now,
		); err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rank_history (item_id, item_name, category, rank, deal_count, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			it.ItemID, it.ItemName, string(category), it.RankNumber, it.ItemCount, now,
		); err != nil {
			return fmt.Errorf("insert rank history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("saved top items", "category", category, "count", len(items))
	return nil
}

// SaveDealItems appends price history in one transaction.
func (s *SQLite) SaveDealItems(ctx context.Context, items []model.DealItem) (err error) {
	if len(items) == 0 {
		return nil
	}
	now := s.now().UnixMicro()
	defer func() { s.metrics.record(len(items), err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO price_history (item_id, item_name, server_id, price, quantity, shop_name, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.ItemID, it.ItemName, it.ServerID, it.Price, it.Quantity, it.ShopName, now); err != nil {
			return fmt.Errorf("insert price history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("saved deal items", "count", len(items))
	return nil
}

// CachedTopItems returns the last snapshot of every category.
func (s *SQLite) CachedTopItems(ctx context.Context) ([]model.TopItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, item_name, category, rank, deal_count, updated_at
		FROM top_items_cache ORDER BY category, rank ASC`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var out []model.TopItemRecord
	for rows.Next() {
		var r model.TopItemRecord
		var cat string
		if err := rows.Scan(&r.ItemID, &r.ItemName, &cat, &r.Rank, &r.DealCount, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		r.Category = model.Category(cat)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PriceHistory returns the newest matching price rows.
func (s *SQLite) PriceHistory(ctx context.Context, q PriceQuery) ([]model.PriceRecord, error) {
	var b strings.Builder
	b.WriteString(`SELECT id, item_id, item_name, server_id, price, quantity, COALESCE(shop_name, ''), recorded_at
		FROM price_history WHERE item_name LIKE ? ESCAPE '\'`)
	args := []any{likePattern(q.ItemName)}
	if !q.allServers() {
		b.WriteString(` AND server_id = ?`)
		args = append(args, q.ServerID)
	}
	b.WriteString(` ORDER BY recorded_at DESC, id DESC LIMIT ?`)
	args = append(args, q.limit())

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []model.PriceRecord
	for rows.Next() {
		var r model.PriceRecord
		var itemID sql.NullInt64
		if err := rows.Scan(&r.ID, &itemID, &r.ItemName, &r.ServerID, &r.Price, &r.Quantity, &r.ShopName, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan price history: %w", err)
		}
		if itemID.Valid {
			id := int(itemID.Int64)
			r.ItemID = &id
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RankHistory returns the newest rank rows for itemID.
func (s *SQLite) RankHistory(ctx context.Context, itemID, limit int) ([]model.RankRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, item_name, category, rank, deal_count, recorded_at
		 FROM rank_history WHERE item_id = ? ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rank history: %w", err)
	}
	defer rows.Close()

	var out []model.RankRecord
	for rows.Next() {
		var r model.RankRecord
		var cat string
		if err := rows.Scan(&r.ID, &r.ItemID, &r.ItemName, &cat, &r.Rank, &r.DealCount, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan rank history: %w", err)
		}
		r.Category = model.Category(cat)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AveragePrice averages prices recorded within the last days.
func (s *SQLite) AveragePrice(ctx context.Context, itemName string, serverID, days int) (float64, bool, error) {
	cutoff := s.now().UnixMicro() - int64(days)*dayMicros

	query := `SELECT AVG(price) FROM price_history WHERE item_name LIKE ? ESCAPE '\' AND recorded_at >= ?`
	args := []any{likePattern(itemName), cutoff}
	if serverID != model.AllServers {
		query += ` AND server_id = ?`
		args = append(args, serverID)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return 0, false, fmt.Errorf("query average price: %w", err)
	}
	return avg.Float64, avg.Valid, nil
}

// Stats returns row counts and the last snapshot update.
func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM price_history),
		(SELECT COUNT(*) FROM rank_history),
		(SELECT MAX(updated_at) FROM top_items_cache)`,
	).Scan(&st.PriceHistoryCount, &st.RankHistoryCount, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if last.Valid {
		st.LastCacheUpdate = &last.Int64
	}
	return st, nil
}

// WriteMetrics returns write counters since start.
func (s *SQLite) WriteMetrics() WriteMetrics {
	return s.metrics.snapshot()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
