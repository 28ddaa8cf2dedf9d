package protocol

// NotFullBuffer is returned by ShiftNextBlock when no complete frame is
// buffered yet.
const NotFullBuffer = -1

// ScanState is the phase of the last ShiftNextBlock call.
type ScanState uint8

const (
	StateAwaitingHeader ScanState = iota
	StateScanning
	StateComplete
	StateIncomplete
)

// String returns the name of the state.
func (s ScanState) String() string {
	switch s {
	case StateAwaitingHeader:
		return "AwaitingHeader"
	case StateScanning:
		return "Scanning"
	case StateComplete:
		return "Complete"
	case StateIncomplete:
		return "Incomplete"
	default:
		return "Unknown"
	}
}

// Reassembler detects complete frames in a byte stream delivered in
// arbitrary chunks. It owns one decode cursor per connection and must be
// driven from a single goroutine.
type Reassembler struct {
	dec   *Decoder
	state ScanState

	// onState observes every state change. Tests only.
	onState func(from, to ScanState)
}

// NewReassembler creates an empty reassembler for a new connection.
func NewReassembler(dict *Dictionary) *Reassembler {
	return &Reassembler{dec: NewDecoder(dict, nil)}
}

// SetMaxAllocation forwards the payload limit to the underlying decoder.
func (r *Reassembler) SetMaxAllocation(n int) {
	r.dec.SetMaxAllocation(n)
}

// Merge appends a delivery to the stream. If unconsumed bytes remain they
// are copied, followed by b, into a fresh buffer; otherwise b is adopted as
// is. In both cases the cursor restarts at zero. The reassembler keeps a
// reference to b, so callers must not modify it afterwards.
func (r *Reassembler) Merge(b []byte) {
	if rem := r.dec.Remaining(); rem > 0 {
		merged := make([]byte, rem+len(b))
		copy(merged, r.dec.buf[r.dec.pos:])
		copy(merged[rem:], b)
		r.dec.Reset(merged)
		return
	}
	r.dec.Reset(b)
}

// ShiftNextBlock scans units from the cursor until the END tag and returns
// the absolute offset just past it.
//
// If the buffer runs out first the cursor is rewound to where the call
// started and NotFullBuffer is returned. With dryRun the cursor is always
// rewound. A non-nil error is a fatal format error; the cursor is rewound
// and the stream can not be resumed.
func (r *Reassembler) ShiftNextBlock(dryRun bool) (int, error) {
	start := r.dec.Position()
	r.setState(StateAwaitingHeader)

	for {
		// The first unit of a call, even one that is not buffered yet,
		// moves the scan out of AwaitingHeader.
		if r.state == StateAwaitingHeader {
			r.setState(StateScanning)
		}
		tag, err := r.dec.SkipUnit()
		if err != nil {
			r.dec.SetPosition(start)
			r.setState(StateIncomplete)
			if IsIncomplete(err) {
				return NotFullBuffer, nil
			}
			return NotFullBuffer, err
		}
		if tag == TagEnd {
			end := r.dec.Position()
			r.setState(StateComplete)
			if dryRun {
				r.dec.SetPosition(start)
			}
			return end, nil
		}
	}
}

// Available reports whether a complete frame is buffered without consuming
// it.
func (r *Reassembler) Available() (bool, error) {
	end, err := r.ShiftNextBlock(true)
	return end != NotFullBuffer, err
}

// Slice returns the bytes [start, end) and moves the cursor to end.
func (r *Reassembler) Slice(start, end int) []byte {
	r.dec.SetPosition(end)
	return r.dec.buf[start:end]
}

// Next returns the bytes of the next complete frame, END included, or nil
// when more bytes are needed. The returned slice stays valid after later
// merges.
func (r *Reassembler) Next() ([]byte, error) {
	start := r.dec.Position()
	end, err := r.ShiftNextBlock(false)
	if err != nil || end == NotFullBuffer {
		return nil, err
	}
	return r.dec.buf[start:end], nil
}

// NextFrame decodes the next complete frame, or returns nil when more bytes
// are needed. Values in the frame are owned by the caller.
func (r *Reassembler) NextFrame() (*Frame, error) {
	raw, err := r.Next()
	if err != nil || raw == nil {
		return nil, err
	}
	f, _, err := DecodeFrame(r.dec.dict, raw)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Position returns the cursor position.
func (r *Reassembler) Position() int {
	return r.dec.Position()
}

// Size returns the length of the current buffer.
func (r *Reassembler) Size() int {
	return r.dec.Size()
}

// Buffered returns the number of unconsumed bytes.
func (r *Reassembler) Buffered() int {
	return r.dec.Remaining()
}

// State returns the phase the last ShiftNextBlock call ended in.
func (r *Reassembler) State() ScanState {
	return r.state
}

// Reset discards every buffered byte. Used on connection teardown.
func (r *Reassembler) Reset() {
	r.dec.Reset(nil)
	r.setState(StateAwaitingHeader)
}

func (r *Reassembler) setState(s ScanState) {
	if r.onState != nil && s != r.state {
		r.onState(r.state, s)
	}
	r.state = s
}
