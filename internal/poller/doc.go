// Package poller implements the optional periodic refresher.
//
// The Poller:
//   - Force-refreshes the top-N dataset on start and every interval
//   - Force-refreshes a configured watch list of item searches with bounded concurrency
//   - Sweeps expired entries out of the ephemeral caches every sweep interval
//
// Every refresh goes through the orchestrator, so results reach the cache, the history
// store and streaming subscribers exactly as on-demand requests do.
package poller
