package protocol

import (
	"encoding/json"
	"io"
	"math"
	"unicode/utf8"
)

// Decoder is a binary decoder that reads (tag, value) units from a byte
// buffer. Its position is the decode cursor; every read either advances it
// by exactly the bytes consumed or leaves it untouched.
type Decoder struct {
	buf      []byte
	pos      int
	dict     *Dictionary
	maxAlloc int
}

// NewDecoder creates a new decoder over buf. A nil dict selects Base.
func NewDecoder(dict *Dictionary, buf []byte) *Decoder {
	if dict == nil {
		dict = Base
	}
	return &Decoder{buf: buf, dict: dict, maxAlloc: DefaultMaxAllocation}
}

// SetMaxAllocation sets the largest string or JSON payload the decoder will
// accept. Values above HardMaxAllocation are clamped.
func (d *Decoder) SetMaxAllocation(n int) {
	if n <= 0 || n > HardMaxAllocation {
		n = HardMaxAllocation
	}
	d.maxAlloc = n
}

// Reset points the decoder at buf with the cursor at zero.
func (d *Decoder) Reset(buf []byte) {
	d.buf = buf
	d.pos = 0
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// EOF returns true if all bytes have been read.
func (d *Decoder) EOF() bool {
	return d.pos >= len(d.buf)
}

// Position returns the current read position.
func (d *Decoder) Position() int {
	return d.pos
}

// SetPosition moves the cursor. Positions outside [0, Size()] are clamped.
func (d *Decoder) SetPosition(pos int) {
	switch {
	case pos < 0:
		pos = 0
	case pos > len(d.buf):
		pos = len(d.buf)
	}
	d.pos = pos
}

// Size returns the length of the underlying buffer.
func (d *Decoder) Size() int {
	return len(d.buf)
}

// ReadUnit decodes exactly one (tag, value) pair at the cursor.
//
// It returns io.ErrUnexpectedEOF when the buffer ends before the unit does;
// that is the "need more bytes" signal, not a corruption. Unknown tags and
// malformed payloads are reported as *FormatError. On any error the cursor is
// left where it was.
func (d *Decoder) ReadUnit() (Unit, error) {
	start := d.pos
	u, err := d.readUnit()
	if err != nil {
		d.pos = start
		return Unit{}, err
	}
	u.Size = d.pos - start
	return u, nil
}

// SkipUnit advances the cursor past one unit reading only its tag and length
// headers. Errors follow ReadUnit.
func (d *Decoder) SkipUnit() (Tag, error) {
	start := d.pos
	tag, err := d.skipUnit()
	if err != nil {
		d.pos = start
		return 0, err
	}
	return tag, nil
}

func (d *Decoder) readTag() (Entry, error) {
	start := d.pos
	b, err := d.ReadByte()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := d.dict.Lookup(Tag(b))
	if !ok {
		return Entry{}, &FormatError{Offset: start, Tag: Tag(b), Err: ErrUnknownTag}
	}
	return entry, nil
}

func (d *Decoder) readUnit() (Unit, error) {
	entry, err := d.readTag()
	if err != nil {
		return Unit{}, err
	}
	u := Unit{Tag: entry.Tag, Kind: entry.Kind}

	if entry.Compressed {
		u.Value, err = d.readCompressedField(entry)
		return u, err
	}

	switch entry.Kind {
	case KindNull:
		return u, nil

	case KindBoolean:
		u.Value, err = d.ReadBool()

	case KindByte:
		var b byte
		b, err = d.ReadByte()
		u.Value = int8(b)

	case KindShort:
		u.Value, err = d.ReadInt16()

	case KindInteger:
		u.Value, err = d.ReadInt32()

	case KindLong:
		u.Value, err = d.ReadInt64()

	case KindFloat:
		u.Value, err = d.ReadFloat32()

	case KindDouble:
		u.Value, err = d.ReadFloat64()

	case KindString:
		u.Value, err = d.readString(entry.Tag)

	case KindJSONObject:
		u.Value, err = d.readJSON(entry.Tag)

	case KindArray:
		u.Value, err = d.readArray(entry.Tag)

	default:
		err = &FormatError{Offset: d.pos, Tag: entry.Tag, Err: ErrInvalidKind}
	}
	if err != nil {
		return Unit{}, err
	}
	return u, nil
}

func (d *Decoder) skipUnit() (Tag, error) {
	entry, err := d.readTag()
	if err != nil {
		return 0, err
	}
	if entry.Compressed {
		return entry.Tag, d.skipElement(entry.Tag)
	}

	switch entry.Kind {
	case KindString:
		_, n, err := d.stringHeader(entry.Tag)
		if err != nil {
			return 0, err
		}
		return entry.Tag, d.Skip(n)

	case KindJSONObject:
		n, err := d.jsonHeader(entry.Tag)
		if err != nil {
			return 0, err
		}
		return entry.Tag, d.Skip(n)

	case KindArray:
		count, err := d.ReadByte()
		if err != nil {
			return 0, err
		}
		for i := 0; i < int(count); i++ {
			if err := d.skipElement(entry.Tag); err != nil {
				return 0, err
			}
		}
		return entry.Tag, nil
	}

	if size := entry.Kind.FixedSize(); size > 0 {
		return entry.Tag, d.Skip(size)
	}
	return entry.Tag, nil
}

// stringHeader reads a string marker and its length tier.
func (d *Decoder) stringHeader(tag Tag) (charset byte, n int, err error) {
	at := d.pos
	marker, err := d.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	charset = CharsetASCII
	if marker&charsetBit != 0 {
		charset = CharsetUTF8
	}

	switch tier := marker & lengthTierMask; {
	case tier <= maxInlineLength:
		n = int(tier)
	case tier == lengthTier8:
		var b byte
		b, err = d.ReadByte()
		n = int(b)
	case tier == lengthTier16:
		var v uint16
		v, err = d.ReadUint16()
		n = int(v)
	default:
		var v uint32
		v, err = d.ReadUint32()
		n = int(v)
	}
	if err != nil {
		return 0, 0, err
	}
	// Allocation limit check before the bounds check: an oversized prefix
	// must fail now rather than wait for bytes that will never be accepted.
	if n > d.maxAlloc {
		return 0, 0, &FormatError{Offset: at, Tag: tag, Err: ErrAllocationTooLarge}
	}
	return charset, n, nil
}

func (d *Decoder) readString(tag Tag) (string, error) {
	at := d.pos
	charset, n, err := d.stringHeader(tag)
	if err != nil {
		return "", err
	}
	b, err := d.ReadBytes(n)
	if err != nil {
		return "", err
	}
	if charset == CharsetUTF8 && !utf8.Valid(b) {
		return "", &FormatError{Offset: at, Tag: tag, Err: ErrInvalidUTF8}
	}
	return string(b), nil
}

func (d *Decoder) jsonHeader(tag Tag) (int, error) {
	at := d.pos
	charset, err := d.ReadByte()
	if err != nil {
		return 0, err
	}
	if charset != CharsetASCII && charset != CharsetUTF8 {
		return 0, &FormatError{Offset: at, Tag: tag, Err: ErrInvalidMarker}
	}
	n, err := d.ReadUint32()
	if err != nil {
		return 0, err
	}
	if uint64(n) > uint64(d.maxAlloc) {
		return 0, &FormatError{Offset: at, Tag: tag, Err: ErrAllocationTooLarge}
	}
	return int(n), nil
}

func (d *Decoder) readJSON(tag Tag) (json.RawMessage, error) {
	at := d.pos
	n, err := d.jsonHeader(tag)
	if err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(b) {
		return nil, &FormatError{Offset: at, Tag: tag, Err: ErrInvalidJSON}
	}
	raw := make(json.RawMessage, n)
	copy(raw, b)
	return raw, nil
}

func (d *Decoder) readArray(tag Tag) ([]any, error) {
	count, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	// At least one marker byte per element.
	if int(count) > d.Remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]any, count)
	for i := range out {
		if out[i], err = d.readElement(tag); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *Decoder) readMarker(tag Tag) (ElementMarker, error) {
	at := d.pos
	b, err := d.ReadByte()
	if err != nil {
		return 0, err
	}
	m := ElementMarker(b)
	if !m.Valid() {
		return 0, &FormatError{Offset: at, Tag: tag, Err: ErrInvalidMarker}
	}
	return m, nil
}

// readElement decodes one self-tagged element. Integers widen to int64 and
// floating values to float64.
func (d *Decoder) readElement(tag Tag) (any, error) {
	at := d.pos
	m, err := d.readMarker(tag)
	if err != nil {
		return nil, err
	}
	switch m {
	case ElemNull:
		return nil, nil
	case ElemTrue:
		return true, nil
	case ElemFalse:
		return false, nil
	case ElemByte:
		b, err := d.ReadByte()
		return int64(int8(b)), err
	case ElemShort:
		v, err := d.ReadInt16()
		return int64(v), err
	case ElemInteger:
		v, err := d.ReadInt32()
		return int64(v), err
	case ElemLong:
		return d.ReadInt64()
	case ElemFloat:
		v, err := d.ReadFloat32()
		return float64(v), err
	case ElemDouble:
		return d.ReadFloat64()
	}

	n, err := d.ReadByte()
	if err != nil {
		return nil, err
	}
	b, err := d.ReadBytes(int(n))
	if err != nil {
		return nil, err
	}
	if m == ElemStringUTF8 && !utf8.Valid(b) {
		return nil, &FormatError{Offset: at, Tag: tag, Err: ErrInvalidUTF8}
	}
	return string(b), nil
}

func (d *Decoder) skipElement(tag Tag) error {
	m, err := d.readMarker(tag)
	if err != nil {
		return err
	}
	if size := elemRules[m].fixedSize; size != VariableSize {
		return d.Skip(size)
	}
	n, err := d.ReadByte()
	if err != nil {
		return err
	}
	return d.Skip(int(n))
}

func (d *Decoder) readCompressedField(entry Entry) (any, error) {
	at := d.pos
	v, err := d.readElement(entry.Tag)
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case int64:
		if entry.Kind != KindDouble && fitsKind(entry.Kind, x) {
			return x, nil
		}
	case float64:
		if entry.Kind == KindDouble {
			return x, nil
		}
	}
	return nil, &FormatError{Offset: at, Tag: entry.Tag, Err: ErrInvalidMarker}
}

// Skip advances the position by n bytes.
func (d *Decoder) Skip(n int) error {
	if n < 0 || d.pos+n > len(d.buf) {
		return io.ErrUnexpectedEOF
	}
	d.pos += n
	return nil
}

// ReadByte reads a single byte.
func (d *Decoder) ReadByte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes and returns them.
// The returned slice references the decoder's buffer; do not modify.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || d.pos+n > len(d.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadBool reads a boolean (single byte: 0x00=false, 0x01=true).
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadByte()
	if err != nil {
		return false, err
	}
	// Be lenient: any non-zero is true
	return b != 0x00, nil
}

// ReadUint16 reads a uint16 in big-endian byte order.
func (d *Decoder) ReadUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint16(d.buf[d.pos])<<8 | uint16(d.buf[d.pos+1])
	d.pos += 2
	return v, nil
}

// ReadUint32 reads a uint32 in big-endian byte order.
func (d *Decoder) ReadUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint32(d.buf[d.pos])<<24 | uint32(d.buf[d.pos+1])<<16 |
		uint32(d.buf[d.pos+2])<<8 | uint32(d.buf[d.pos+3])
	d.pos += 4
	return v, nil
}

// ReadUint64 reads a uint64 in big-endian byte order.
func (d *Decoder) ReadUint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	v := uint64(d.buf[d.pos])<<56 | uint64(d.buf[d.pos+1])<<48 |
		uint64(d.buf[d.pos+2])<<40 | uint64(d.buf[d.pos+3])<<32 |
		uint64(d.buf[d.pos+4])<<24 | uint64(d.buf[d.pos+5])<<16 |
		uint64(d.buf[d.pos+6])<<8 | uint64(d.buf[d.pos+7])
	d.pos += 8
	return v, nil
}

// ReadInt16 reads an int16 in big-endian byte order.
func (d *Decoder) ReadInt16() (int16, error) {
	v, err := d.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads an int32 in big-endian byte order.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads an int64 in big-endian byte order.
func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

// ReadFloat32 reads a float32 in IEEE 754 format (big-endian).
func (d *Decoder) ReadFloat32() (float32, error) {
	v, err := d.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// ReadFloat64 reads a float64 in IEEE 754 format (big-endian).
func (d *Decoder) ReadFloat64() (float64, error) {
	v, err := d.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}
