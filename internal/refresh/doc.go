// Package refresh coordinates on-demand market data refreshes.
//
// A request is answered from the ephemeral cache when possible. On a miss (or a forced
// refresh) the orchestrator makes exactly one upstream attempt, persists what it got to
// the history store, refreshes the cache and pushes the result to streaming clients.
// When a top-N fetch fails, the last snapshot from the history store is returned as stale.
//
// The fetch pipeline runs detached from the caller's context: a client that disconnects
// mid-request does not abort caching, persistence or fan-out.
package refresh
