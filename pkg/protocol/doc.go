// Package protocol implements the uiwire binary codec.
//
// The codec serializes incremental UI-state updates as (tag, value) pairs
// and groups them into frames. It is optimized for small frames and for
// streams that arrive in arbitrary fragments.
//
// # Design Goals
//
//   - Minimal size: narrowest integer/float tier, one-byte string headers
//   - Fast encoding/decoding: No reflection, direct byte manipulation
//   - Fragment safe: a frame is never surfaced before its END tag arrives
//   - Fail loud: unknown tags are fatal, never skipped
//
// # Wire Format
//
// A stream is a sequence of frames. A frame is a sequence of units
// terminated by the reserved END tag:
//
//	┌──────────┬─────────────┬──────────┬─────────────┬─────┬──────────┐
//	│ Tag      │ Payload     │ Tag      │ Payload     │ ... │ END 0xFF │
//	│ (1 byte) │ (per kind)  │ (1 byte) │ (per kind)  │     │ (1 byte) │
//	└──────────┴─────────────┴──────────┴─────────────┴─────┴──────────┘
//
// Each tag is bound to one ValueKind by a Dictionary shared by both peers.
// Fixed-width kinds are big-endian:
//
//	BOOLEAN 1, BYTE 1, SHORT 2, INTEGER 4, LONG 8, FLOAT 4, DOUBLE 8
//
// STRING payloads start with a marker byte: the high bit is the charset
// (0 ASCII, 1 UTF-8) and the low seven bits are the length tier. Tiers up to
// 124 are the length itself; 125, 126 and 127 announce a 1, 2 or 4 byte
// length.
//
// JSON_OBJECT payloads are a charset byte, a 4-byte length and the UTF-8
// text of a JSON object.
//
// ARRAY payloads are a 1-byte count followed by self-tagged elements. Each
// element starts with an ElementMarker; integers and doubles take the
// narrowest tier that round-trips exactly, strings carry a 1-byte length.
//
// # Reading
//
// The Reassembler keeps one cursor per connection. Deliveries are merged in
// and ShiftNextBlock reports the end offset of the next complete frame or
// NotFullBuffer. A short buffer is never an error: io.ErrUnexpectedEOF is
// the designed "need more bytes" signal (see IsIncomplete) and is kept apart
// from *FormatError, which is fatal.
//
// # Usage Example
//
//	dict := protocol.MustDictionary(
//	    protocol.Entry{Tag: 0x01, Kind: protocol.KindString, Name: "TEXT"},
//	)
//
//	e := protocol.NewEncoder(dict)
//	e.BeginFrame()
//	e.Write(protocol.TagObjectID, int32(42))
//	e.Write(0x01, "Hello")
//	e.EndFrame()
//
//	r := protocol.NewReassembler(dict)
//	r.Merge(e.Bytes())
//	frame, err := r.NextFrame()
//
// # File Structure
//
//   - dictionary.go: Tags, kinds and the shared rule table
//   - limits.go: Size limits, charset and element markers
//   - encoder.go: Binary encoder
//   - decoder.go: Binary decoder
//   - frame.go: Units and frames
//   - reassembler.go: Partial-frame-safe stream reader
//   - handshake.go: Version handshake and heartbeats
//   - error.go: Error taxonomy and error frames
package protocol
