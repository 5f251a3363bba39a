// Package database opens connections for the history store.
//
//   - SQLite (modernc.org/sqlite, pure Go): the default embedded file database
//   - PostgreSQL (pgx/v5 pool): for shared deployments
package database
