package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/vango-dev/uiwire/pkg/capture"
	"github.com/vango-dev/uiwire/pkg/protocol"
)

// StreamPos locates an error inside a decoded byte stream.
type StreamPos struct {
	Offset int   `json:"offset"`
	Tag    uint8 `json:"tag"`
}

// String returns the position as "offset 12, tag 0x7F".
func (p *StreamPos) String() string {
	return fmt.Sprintf("offset %d, tag 0x%02X", p.Offset, p.Tag)
}

// WithStream locates the error at offset in a stream, at a unit tagged tag.
func (e *UIWireError) WithStream(offset int, tag protocol.Tag) *UIWireError {
	e.Stream = &StreamPos{Offset: offset, Tag: uint8(tag)}
	return e
}

// FromProtocol maps a stream or capture error onto its registered code.
func FromProtocol(err error) *UIWireError {
	if err == nil {
		return nil
	}
	var ue *UIWireError
	if stderrors.As(err, &ue) {
		return ue
	}

	code := "U020"
	switch {
	case stderrors.Is(err, protocol.ErrUnknownTag):
		code = "U021"
	case stderrors.Is(err, protocol.ErrVersionMismatch):
		code = "U022"
	case stderrors.Is(err, protocol.ErrAllocationTooLarge):
		code = "U023"
	case protocol.IsIncomplete(err):
		code = "U024"
	case stderrors.Is(err, capture.ErrNotFound):
		code = "U040"
	case stderrors.Is(err, capture.ErrBadMagic), stderrors.Is(err, capture.ErrCorrupt):
		code = "U041"
	}
	ue = New(code).Wrap(err)
	var fe *protocol.FormatError
	if stderrors.As(err, &fe) {
		ue.WithStream(fe.Offset, fe.Tag)
	}
	return ue
}
