// Package server implements the concurrent board and chat server.
//
// Each accepted connection, whether a raw TCP line stream or a WebSocket, is
// wrapped in a Connection and driven by its own session goroutine. Sessions
// share exactly two pieces of mutable state, the client Registry and the
// board log, and reach them only through their locked methods. Broadcasts
// snapshot the registry and send outside its lock; every Connection has its
// own write pump so one slow peer never stalls another session.
package server
