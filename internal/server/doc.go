// Package server exposes the market service over HTTP and WebSocket.
//
// Routes live under /api/v1 except the streaming endpoint (/ws), its stats (/ws/stats)
// and the Prometheus scrape path. Errors are JSON objects of the form {"detail": "..."}.
package server
