// Package cache implements the ephemeral TTL cache that fronts upstream fetches.
//
// Each dataset (deal search results, top-N results, history queries) gets its own
// TTL instance with its own default TTL and counters. Expiry is lazy: a read that finds
// an expired entry evicts it and counts a miss. SweepExpired exists for an optional
// periodic caller and is never needed for correctness.
package cache
