package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// Encoder is a binary encoder that appends (tag, value) pairs to an internal
// buffer. It is designed for efficient encoding without allocations in the
// hot path. An Encoder is not safe for concurrent use.
type Encoder struct {
	buf  []byte
	dict *Dictionary

	frameStart int
	inFrame    bool
}

// NewEncoder creates a new encoder bound to dict with a default initial
// capacity. A nil dict selects Base.
func NewEncoder(dict *Dictionary) *Encoder {
	return NewEncoderWithCap(dict, 256)
}

// NewEncoderWithCap creates a new encoder with the specified initial capacity.
func NewEncoderWithCap(dict *Dictionary, cap int) *Encoder {
	if dict == nil {
		dict = Base
	}
	return &Encoder{
		buf:  make([]byte, 0, cap),
		dict: dict,
	}
}

// Dictionary returns the dictionary the encoder writes with.
func (e *Encoder) Dictionary() *Dictionary {
	return e.dict
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.frameStart = 0
	e.inFrame = false
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any Write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Committed returns the number of leading bytes that belong to complete
// frames.
func (e *Encoder) Committed() int {
	if e.inFrame {
		return e.frameStart
	}
	return len(e.buf)
}

// BeginFrame opens a frame. Fields written until EndFrame belong to it.
func (e *Encoder) BeginFrame() {
	if e.inFrame {
		return
	}
	e.frameStart = len(e.buf)
	e.inFrame = true
}

// EndFrame terminates the open frame with the END tag.
func (e *Encoder) EndFrame() error {
	if !e.inFrame {
		return ErrNoFrame
	}
	e.buf = append(e.buf, byte(TagEnd))
	e.inFrame = false
	return nil
}

// AbortFrame discards every byte written since BeginFrame.
func (e *Encoder) AbortFrame() {
	if !e.inFrame {
		return
	}
	e.buf = e.buf[:e.frameStart]
	e.inFrame = false
}

// InFrame reports whether a frame is open.
func (e *Encoder) InFrame() bool {
	return e.inFrame
}

// Write appends one field. The value must match the kind bound to tag; on
// failure the open frame (or, outside a frame, the partial field) is
// discarded and an *EncodeError is returned.
func (e *Encoder) Write(tag Tag, value any) error {
	mark := len(e.buf)
	if err := e.write(tag, value); err != nil {
		if e.inFrame {
			e.AbortFrame()
		} else {
			e.buf = e.buf[:mark]
		}
		return err
	}
	return nil
}

func (e *Encoder) write(tag Tag, value any) error {
	entry, ok := e.dict.Lookup(tag)
	if !ok {
		return newEncodeError(tag, KindNull, ErrUnknownTag, "")
	}
	kind := entry.Kind
	e.buf = append(e.buf, byte(tag))

	if entry.Compressed {
		return e.writeCompressedField(entry, value)
	}

	switch kind {
	case KindNull:
		if value != nil {
			return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		return nil

	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		e.WriteBool(b)
		return nil

	case KindByte, KindShort, KindInteger, KindLong:
		v, ok := toInt64(value)
		if !ok {
			return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		if !fitsKind(kind, v) {
			return newEncodeError(tag, kind, ErrValueOutOfRange, fmt.Sprintf("%d", v))
		}
		e.writeFixedInt(kind, v)
		return nil

	case KindFloat:
		switch v := value.(type) {
		case float32:
			e.WriteFloat32(v)
			return nil
		case float64:
			f := float32(v)
			if math.Float64bits(float64(f)) != math.Float64bits(v) {
				return newEncodeError(tag, kind, ErrValueOutOfRange, fmt.Sprintf("%v", v))
			}
			e.WriteFloat32(f)
			return nil
		}
		return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))

	case KindDouble:
		v, ok := toFloat64(value)
		if !ok {
			return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		e.WriteFloat64(v)
		return nil

	case KindString:
		s, ok := value.(string)
		if !ok {
			return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		if len(s) > HardMaxAllocation {
			return newEncodeError(tag, kind, ErrSizeLimit, fmt.Sprintf("%d bytes", len(s)))
		}
		e.WriteString(s)
		return nil

	case KindJSONObject:
		raw, err := jsonObjectBytes(value)
		if err != nil {
			return newEncodeError(tag, kind, err, "")
		}
		if len(raw) > HardMaxAllocation {
			return newEncodeError(tag, kind, ErrSizeLimit, fmt.Sprintf("%d bytes", len(raw)))
		}
		e.writeJSON(raw)
		return nil

	case KindArray:
		elems, ok := toElements(value)
		if !ok {
			return newEncodeError(tag, kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		if len(elems) > MaxArrayLength {
			return newEncodeError(tag, kind, ErrSizeLimit,
				fmt.Sprintf("array is too big (%d > %d)", len(elems), MaxArrayLength))
		}
		e.buf = append(e.buf, byte(len(elems)))
		for i, el := range elems {
			if err := e.writeElement(el); err != nil {
				return newEncodeError(tag, kind, err, fmt.Sprintf("element %d", i))
			}
		}
		return nil
	}

	return newEncodeError(tag, kind, ErrInvalidKind, "")
}

func (e *Encoder) writeCompressedField(entry Entry, value any) error {
	if entry.Kind == KindDouble {
		v, ok := toFloat64(value)
		if !ok {
			return newEncodeError(entry.Tag, entry.Kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
		}
		e.WriteCompressedFloat(v)
		return nil
	}
	v, ok := toInt64(value)
	if !ok {
		return newEncodeError(entry.Tag, entry.Kind, ErrUnsupportedValue, fmt.Sprintf("%T", value))
	}
	if !fitsKind(entry.Kind, v) {
		return newEncodeError(entry.Tag, entry.Kind, ErrValueOutOfRange, fmt.Sprintf("%d", v))
	}
	e.WriteCompressedInt(v)
	return nil
}

func (e *Encoder) writeFixedInt(kind ValueKind, v int64) {
	switch kind {
	case KindByte:
		e.WriteByte(byte(int8(v)))
	case KindShort:
		e.WriteInt16(int16(v))
	case KindInteger:
		e.WriteInt32(int32(v))
	default:
		e.WriteInt64(v)
	}
}

// WriteCompressedInt appends v in the narrowest of the BYTE, SHORT, INTEGER
// and LONG tiers, preceded by its element marker.
func (e *Encoder) WriteCompressedInt(v int64) {
	switch {
	case v >= math.MinInt8 && v <= math.MaxInt8:
		e.buf = append(e.buf, byte(ElemByte), byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		e.buf = append(e.buf, byte(ElemShort))
		e.WriteInt16(int16(v))
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.buf = append(e.buf, byte(ElemInteger))
		e.WriteInt32(int32(v))
	default:
		e.buf = append(e.buf, byte(ElemLong))
		e.WriteInt64(v)
	}
}

// WriteCompressedFloat appends v as FLOAT when the float32 conversion is
// bit-exact, otherwise as DOUBLE, preceded by its element marker.
func (e *Encoder) WriteCompressedFloat(v float64) {
	f := float32(v)
	if math.Float64bits(float64(f)) == math.Float64bits(v) {
		e.buf = append(e.buf, byte(ElemFloat))
		e.WriteFloat32(f)
		return
	}
	e.buf = append(e.buf, byte(ElemDouble))
	e.WriteFloat64(v)
}

func (e *Encoder) writeElement(v any) error {
	switch x := v.(type) {
	case nil:
		e.buf = append(e.buf, byte(ElemNull))
	case bool:
		if x {
			e.buf = append(e.buf, byte(ElemTrue))
		} else {
			e.buf = append(e.buf, byte(ElemFalse))
		}
	case float32:
		e.buf = append(e.buf, byte(ElemFloat))
		e.WriteFloat32(x)
	case float64:
		e.WriteCompressedFloat(x)
	case string:
		if len(x) > MaxArrayStringLength {
			return fmt.Errorf("%w: string element of %d bytes", ErrSizeLimit, len(x))
		}
		if isASCII(x) {
			e.buf = append(e.buf, byte(ElemStringASCII))
		} else {
			e.buf = append(e.buf, byte(ElemStringUTF8))
		}
		e.buf = append(e.buf, byte(len(x)))
		e.buf = append(e.buf, x...)
	default:
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
		}
		e.WriteCompressedInt(n)
	}
	return nil
}

// WriteString appends a charset/length marker followed by the string bytes.
// Strings of up to 124 bytes cost a single marker byte.
func (e *Encoder) WriteString(s string) {
	n := len(s)
	var charset byte
	if !isASCII(s) {
		charset = charsetBit
	}
	switch {
	case n <= maxInlineLength:
		e.buf = append(e.buf, charset|byte(n))
	case n <= math.MaxUint8:
		e.buf = append(e.buf, charset|lengthTier8, byte(n))
	case n <= math.MaxUint16:
		e.buf = append(e.buf, charset|lengthTier16)
		e.WriteUint16(uint16(n))
	default:
		e.buf = append(e.buf, charset|lengthTier32)
		e.WriteUint32(uint32(n))
	}
	e.buf = append(e.buf, s...)
}

func (e *Encoder) writeJSON(raw []byte) {
	if utf8.RuneCount(raw) == len(raw) {
		e.buf = append(e.buf, CharsetASCII)
	} else {
		e.buf = append(e.buf, CharsetUTF8)
	}
	e.WriteUint32(uint32(len(raw)))
	e.buf = append(e.buf, raw...)
}

// WriteByte appends a single byte.
// Note: This intentionally doesn't return error (unlike io.ByteWriter)
// because our buffer is unbounded and can always append.
func (e *Encoder) WriteByte(b byte) {
	e.buf = append(e.buf, b)
}

// WriteBytes appends raw bytes.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// WriteBool appends a boolean as a single byte (0x00 or 0x01).
func (e *Encoder) WriteBool(b bool) {
	if b {
		e.buf = append(e.buf, 0x01)
	} else {
		e.buf = append(e.buf, 0x00)
	}
}

// WriteUint16 appends a uint16 in big-endian byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf = append(e.buf, byte(v>>8), byte(v))
}

// WriteUint32 appends a uint32 in big-endian byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteUint64 appends a uint64 in big-endian byte order.
func (e *Encoder) WriteUint64(v uint64) {
	e.buf = append(e.buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// WriteInt16 appends an int16 in big-endian byte order.
func (e *Encoder) WriteInt16(v int16) {
	e.WriteUint16(uint16(v))
}

// WriteInt32 appends an int32 in big-endian byte order.
func (e *Encoder) WriteInt32(v int32) {
	e.WriteUint32(uint32(v))
}

// WriteInt64 appends an int64 in big-endian byte order.
func (e *Encoder) WriteInt64(v int64) {
	e.WriteUint64(uint64(v))
}

// WriteFloat32 appends a float32 in IEEE 754 format (big-endian).
func (e *Encoder) WriteFloat32(v float32) {
	e.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends a float64 in IEEE 754 format (big-endian).
func (e *Encoder) WriteFloat64(v float64) {
	e.WriteUint64(math.Float64bits(v))
}

// isASCII applies the charset rule: a string takes the ASCII tier when its
// byte length equals its character count.
func isASCII(s string) bool {
	return utf8.RuneCountInString(s) == len(s)
}

func fitsKind(kind ValueKind, v int64) bool {
	switch kind {
	case KindByte:
		return v >= math.MinInt8 && v <= math.MaxInt8
	case KindShort:
		return v >= math.MinInt16 && v <= math.MaxInt16
	case KindInteger:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case KindLong:
		return true
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	return 0, false
}

func toElements(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []int:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []int32:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []int64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	case []bool:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out, true
	}
	return nil, false
}

// jsonObjectBytes returns the encoded form of a JSON_OBJECT value.
func jsonObjectBytes(v any) ([]byte, error) {
	var raw []byte
	switch x := v.(type) {
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	case string:
		raw = []byte(x)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		raw = b
	}
	if !isJSONObject(raw) {
		return nil, ErrInvalidJSON
	}
	return raw, nil
}

func isJSONObject(raw []byte) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(raw)
}
