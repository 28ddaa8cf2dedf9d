package protocol

import (
	"errors"
	"fmt"
	"io"
)

// Dictionary construction errors.
var (
	ErrReservedTag  = errors.New("protocol: tag is in the reserved range")
	ErrDuplicateTag = errors.New("protocol: tag defined twice")
	ErrInvalidKind  = errors.New("protocol: invalid value kind")
)

// Encoding errors. These are contract violations by the caller and are never
// retried; the in-progress frame is discarded.
var (
	ErrSizeLimit        = errors.New("protocol: value exceeds wire size limit, use a JSON payload instead")
	ErrUnsupportedValue = errors.New("protocol: unsupported value type")
	ErrValueOutOfRange  = errors.New("protocol: value out of range for kind")
	ErrNoFrame          = errors.New("protocol: no frame in progress")
)

// Decoding errors. All of them are fatal for the stream except the bounds
// condition reported as io.ErrUnexpectedEOF.
var (
	ErrUnknownTag         = errors.New("protocol: unknown tag")
	ErrInvalidMarker      = errors.New("protocol: invalid marker byte")
	ErrInvalidUTF8        = errors.New("protocol: invalid UTF-8 string")
	ErrInvalidJSON        = errors.New("protocol: invalid JSON object")
	ErrAllocationTooLarge = errors.New("protocol: allocation size exceeds limit")
	ErrVersionMismatch    = errors.New("protocol: protocol version mismatch")
)

// IsIncomplete reports whether err is the "need more bytes" condition rather
// than a corruption of the stream.
func IsIncomplete(err error) bool {
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// EncodeError describes a value that could not be written.
type EncodeError struct {
	Tag  Tag
	Kind ValueKind
	Err  error

	// Detail is a short description of the offending value.
	Detail string
}

// Error returns the error message.
func (e *EncodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("protocol: encode tag 0x%02X (%s): %v", uint8(e.Tag), e.Kind, e.Err)
	}
	return fmt.Sprintf("protocol: encode tag 0x%02X (%s): %v: %s", uint8(e.Tag), e.Kind, e.Err, e.Detail)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *EncodeError) Unwrap() error {
	return e.Err
}

func newEncodeError(tag Tag, kind ValueKind, err error, detail string) *EncodeError {
	return &EncodeError{Tag: tag, Kind: kind, Err: err, Detail: detail}
}

// FormatError reports bytes that can never decode, regardless of how many
// more bytes arrive.
type FormatError struct {
	Offset int
	Tag    Tag
	Err    error
}

// Error returns the error message.
func (e *FormatError) Error() string {
	return fmt.Sprintf("protocol: format error at offset %d (tag 0x%02X): %v", e.Offset, uint8(e.Tag), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *FormatError) Unwrap() error {
	return e.Err
}

// ErrorCode identifies the type of error carried by an error frame.
type ErrorCode uint16

const (
	CodeUnknown         ErrorCode = 0x0000 // Unknown error
	CodeFormat          ErrorCode = 0x0001 // Malformed stream
	CodeVersion         ErrorCode = 0x0002 // Protocol version mismatch
	CodeWriteFailed     ErrorCode = 0x0003 // Transport write failed
	CodeSessionExpired  ErrorCode = 0x0004 // Session no longer valid
	CodeHandlerNotFound ErrorCode = 0x0005 // No handler for object
	CodeServerError     ErrorCode = 0x0100 // Internal server error
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case CodeUnknown:
		return "Unknown"
	case CodeFormat:
		return "Format"
	case CodeVersion:
		return "Version"
	case CodeWriteFailed:
		return "WriteFailed"
	case CodeSessionExpired:
		return "SessionExpired"
	case CodeHandlerNotFound:
		return "HandlerNotFound"
	case CodeServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// CodeFor maps a stream error onto the code reported to the peer.
func CodeFor(err error) ErrorCode {
	var fe *FormatError
	switch {
	case err == nil:
		return CodeUnknown
	case errors.Is(err, ErrVersionMismatch):
		return CodeVersion
	case errors.As(err, &fe), errors.Is(err, ErrAllocationTooLarge):
		return CodeFormat
	default:
		return CodeServerError
	}
}

// ErrorMessage is sent to the peer right before a fatal teardown.
type ErrorMessage struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	return "fatal: " + em.Code.String() + ": " + em.Message
}

// EncodeErrorMessageTo writes em as one complete frame.
func EncodeErrorMessageTo(e *Encoder, em *ErrorMessage) error {
	e.BeginFrame()
	if err := e.Write(TagErrorCode, int16(em.Code)); err != nil {
		return err
	}
	if err := e.Write(TagError, em.Message); err != nil {
		return err
	}
	return e.EndFrame()
}

// ErrorMessageFromFrame extracts an error message from f. The second result
// is false when f is not an error frame.
func ErrorMessageFromFrame(f *Frame) (*ErrorMessage, bool) {
	u, ok := f.Get(TagErrorCode)
	if !ok {
		return nil, false
	}
	em := &ErrorMessage{}
	if code, ok := u.Value.(int16); ok {
		em.Code = ErrorCode(uint16(code))
	}
	if msg, ok := f.Get(TagError); ok {
		em.Message, _ = msg.Value.(string)
	}
	return em, true
}
