// Package capture records the raw byte streams of uiwire connections.
//
// A Recorder is attached to a connection as its tap. It keeps each chunk
// in memory exactly as it crossed the socket, chunk boundaries and arrival
// times included, and writes the capture to a Store when the connection
// closes:
//
//	store, _ := capture.NewDiskStore("./captures", 16<<20)
//	rec := capture.NewRecorder(connID, store, 16<<20, logger)
//	c := socket.New(ws, dict, h, cfg,
//	    socket.WithTap(rec),
//	    socket.WithOnClose(func(*socket.Conn) { rec.Close(ctx) }))
//
// Captures are replayed with Reader. Feeding the recorded chunks of one
// direction to a protocol.Reassembler reproduces exactly what the peer's
// decoder saw, which makes fragmentation bugs reproducible offline.
//
// DiskStore keeps captures in a directory; S3Store keeps them in an S3 or
// S3-compatible bucket.
package capture
