package protocol

import "fmt"

// Hello is the first frame each peer sends after the transport is up. It
// pins the wire layout for the rest of the connection.
//
// Wire form:
//
//	[TagProtocolVersion][version: BYTE][TagEnd]
type Hello struct {
	Version uint8
}

// NewHello returns a Hello announcing ProtocolVersion.
func NewHello() *Hello {
	return &Hello{Version: ProtocolVersion}
}

// EncodeHelloTo writes h as one complete frame.
func EncodeHelloTo(e *Encoder, h *Hello) error {
	e.BeginFrame()
	if err := e.Write(TagProtocolVersion, int8(h.Version)); err != nil {
		return err
	}
	return e.EndFrame()
}

// HelloFromFrame extracts a Hello from f. The second result is false when f
// is not a handshake frame.
func HelloFromFrame(f *Frame) (*Hello, bool) {
	u, ok := f.Get(TagProtocolVersion)
	if !ok {
		return nil, false
	}
	v, ok := u.Value.(int8)
	if !ok {
		return nil, false
	}
	return &Hello{Version: uint8(v)}, true
}

// Check returns ErrVersionMismatch unless h announces ProtocolVersion.
func (h *Hello) Check() error {
	if h.Version != ProtocolVersion {
		return fmt.Errorf("%w: peer speaks %d, want %d", ErrVersionMismatch, h.Version, ProtocolVersion)
	}
	return nil
}

// EncodeHeartbeatTo writes a keepalive frame.
func EncodeHeartbeatTo(e *Encoder) error {
	e.BeginFrame()
	if err := e.Write(TagHeartbeat, nil); err != nil {
		return err
	}
	return e.EndFrame()
}
