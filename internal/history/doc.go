// Package history persists observed prices and ranks.
//
// Tables:
//   - price_history: one row per deal seen by a search
//   - rank_history: one row per top-N item per fetch
//   - top_items_cache: the last top-N snapshot per category, used as a stale fallback
//
// Timestamps are stored as int64 microseconds since the epoch. Two backends share the
// Store interface: SQLite (embedded, default) and PostgreSQL.
package history
