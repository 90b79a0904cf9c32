// Package server is the HTTP surface of the chat hub.
//
// It authenticates WebSocket upgrade requests, enforces the origin allow-list
// and a per-IP upgrade rate limit, and hands accepted connections to the hub.
// It also serves health, Prometheus metrics and read-only presence endpoints.
// Files are split by concern: routing, handlers, origin checks, upgrade rate
// limiting and server lifecycle helpers.
package server
