// Package hub implements the real-time delivery core of the chat service.
//
// A single Hub owns the connection registry, the per-user presence counts and
// the channel subscription index. Every mutation of that state and every
// broadcast is applied by the goroutine running Hub.Run, in the order the
// commands were submitted. Callers never touch the registry directly.
//
// Each Client bridges one WebSocket connection to the Hub with two pumps that
// share a bounded outbound queue:
//
//	readPump   socket -> control frames (subscribe, unsubscribe, typing, ping)
//	writePump  outbound queue -> socket, plus keepalive pings
//
// Enqueueing onto a client's queue never blocks the Hub. When a queue is full
// the event is dropped for that client alone and the client is later told to
// resynchronise through a resync_required event.
package hub
