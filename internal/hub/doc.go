// Package hub implements the subscription and fan-out hub for streaming clients.
//
// The Hub:
//   - Registers live client connections by caller-supplied ID (re-registration replaces)
//   - Indexes subscriptions as key -> connection IDs, keyed by lower(item):server
//   - Fans item updates out to exact-server and wildcard (-1) subscribers
//   - Evicts any connection whose send fails during a broadcast
//   - Answers subscribe/unsubscribe/ping/status control messages
//
// One mutex guards both indices; it is held for map operations only, never while
// sending on a transport.
package hub
