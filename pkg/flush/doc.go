// Package flush buffers encoded frames and writes them to a transport.
//
// A Pipeline owns the output buffer of one connection. Frames are committed
// through Encode, which runs a single frame bracket on a scratch encoder, so
// a partially written frame never reaches the buffer.
//
// Buffered bytes are flushed when:
//
//   - the buffer reaches Config.BufferSize
//   - Flush or Drain is called
//   - Config.FlushTimeout expires, measured from the first byte after the
//     buffer was empty (deadline semantics, not debounce)
//
// A flush hands the transport at most Config.MaxChunkSize bytes per write.
// The next chunk is submitted from the completion callback of the previous
// one, and an atomic in-flight flag keeps a second write from ever being
// issued while one is outstanding.
//
// A failed write is fatal: buffered data is discarded, the pipeline reports
// the error from Err and every later call, Config.OnFailure runs once and the
// transport is closed.
package flush
