// Package socket runs a uiwire stream over a WebSocket.
//
// A Conn pairs an outbound flush.Pipeline with an inbound
// protocol.Reassembler. Each WebSocket message carries an arbitrary slice of
// the byte stream, so frames may be split across messages or several may
// share one; the reassembler hides this from handlers.
//
// # Lifecycle
//
//	ws, _ := upgrader.Upgrade(w, r, nil)
//	c := socket.New(ws, dict, handler, socket.DefaultConfig())
//	err := c.Run(ctx) // blocks until the connection closes
//
// Run first exchanges handshake frames. Both peers send a Hello carrying
// protocol.ProtocolVersion and expect the first inbound frame to be the
// peer's Hello with the same version. After the handshake every frame is
// dispatched to the Handler in order, except heartbeats, which only keep
// the read deadline alive.
//
// # Errors
//
// A malformed stream or a version mismatch is fatal: the connection sends
// an error frame, waits up to WriteTimeout for it to leave, then closes. An
// error frame from the peer closes the connection without a reply. A
// transport write failure closes immediately. Handler errors and panics are
// logged and do not close the connection.
//
// Run and Err return nil only after a local Close. A read timeout, a reset
// or a close frame from the peer is returned as a *ConnError with Op "read".
package socket
