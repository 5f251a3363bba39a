// Package connection implements the client side of the romarket stream.
//
// A Stream is one WebSocket connection. Dial completes the connected handshake
// and the read loop decodes each server envelope into a typed Event: deal
// listings for item_update, the category snapshot for top5_update, client info
// for status. A server that stops pinging is reported as ErrStaleConnection.
//
// A Watcher keeps a Stream alive for a fixed watch list, resubscribing after
// every reconnect and backing off exponentially between attempts.
package connection
