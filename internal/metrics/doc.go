// Package metrics exposes Prometheus metrics for monitoring.
//
// Key metrics:
//   - Cache hits, misses, sets and size per cache
//   - Streaming connections, subscriptions and messages sent
//   - Refresh outcomes per request kind (fresh, cached, stale, failed)
//   - History store inserts and write errors
//
// Values are read from the owning components at scrape time, so nothing in the
// request path touches Prometheus directly.
package metrics
