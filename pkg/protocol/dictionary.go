package protocol

import (
	"fmt"
	"strings"
)

// ProtocolVersion identifies the canonical wire layout implemented by this
// package. Peers exchange it in the handshake frame.
const ProtocolVersion = 2

// Tag names a semantic field on the wire. Each tag is bound to exactly one
// ValueKind for the lifetime of a Dictionary.
type Tag uint8

// Reserved protocol tags. Application tags must stay below TagReservedBase.
const (
	TagReservedBase    Tag = 0xF0
	TagErrorCode       Tag = 0xFA // SHORT: ErrorCode of a fatal error frame
	TagError           Tag = 0xFB // STRING: human readable error message
	TagHeartbeat       Tag = 0xFC // NULL: keepalive frame marker
	TagProtocolVersion Tag = 0xFD // BYTE: handshake frame marker
	TagObjectID        Tag = 0xFE // INTEGER: addressed UI object
	TagEnd             Tag = 0xFF // NULL: frame terminator
)

// ValueKind determines the wire layout and decode rule of a tag's payload.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBoolean
	KindByte
	KindShort
	KindInteger
	KindLong
	KindFloat
	KindDouble
	KindString
	KindJSONObject
	KindArray

	numKinds
)

// Fixed payload widths in bytes.
const (
	BooleanSize = 1
	ByteSize    = 1
	ShortSize   = 2
	IntegerSize = 4
	LongSize    = 8
	FloatSize   = 4
	DoubleSize  = 8

	// TagSize is the width of the tag byte preceding every payload.
	TagSize = 1

	// VariableSize is reported for kinds whose width depends on the value.
	VariableSize = -1
)

// kindRule is the single table both directions of the codec consult.
type kindRule struct {
	name      string
	fixedSize int
	numeric   bool // eligible for compressed encoding
}

var kindRules = [numKinds]kindRule{
	KindNull:       {name: "NULL", fixedSize: 0},
	KindBoolean:    {name: "BOOLEAN", fixedSize: BooleanSize},
	KindByte:       {name: "BYTE", fixedSize: ByteSize, numeric: true},
	KindShort:      {name: "SHORT", fixedSize: ShortSize, numeric: true},
	KindInteger:    {name: "INTEGER", fixedSize: IntegerSize, numeric: true},
	KindLong:       {name: "LONG", fixedSize: LongSize, numeric: true},
	KindFloat:      {name: "FLOAT", fixedSize: FloatSize},
	KindDouble:     {name: "DOUBLE", fixedSize: DoubleSize, numeric: true},
	KindString:     {name: "STRING", fixedSize: VariableSize},
	KindJSONObject: {name: "JSON_OBJECT", fixedSize: VariableSize},
	KindArray:      {name: "ARRAY", fixedSize: VariableSize},
}

// Valid reports whether k is a known kind.
func (k ValueKind) Valid() bool {
	return k < numKinds
}

// String returns the wire name of the kind.
func (k ValueKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("ValueKind(%d)", uint8(k))
	}
	return kindRules[k].name
}

// ParseKind returns the kind whose wire name is name, ignoring case.
func ParseKind(name string) (ValueKind, error) {
	for k := KindNull; k < numKinds; k++ {
		if strings.EqualFold(kindRules[k].name, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, name)
}

// FixedSize returns the payload width of k, or VariableSize.
func (k ValueKind) FixedSize() int {
	if !k.Valid() {
		return VariableSize
	}
	return kindRules[k].fixedSize
}

// Entry binds a tag to its kind.
type Entry struct {
	Tag  Tag
	Kind ValueKind

	// Name is used in logs and the inspect output only.
	Name string

	// Compressed selects the tiered numeric encoding for integer kinds and
	// DOUBLE instead of the fixed width.
	Compressed bool
}

// Size returns the payload width of the entry, or VariableSize.
func (e Entry) Size() int {
	if e.Compressed {
		return VariableSize
	}
	return e.Kind.FixedSize()
}

var reservedEntries = []Entry{
	{Tag: TagErrorCode, Kind: KindShort, Name: "ERROR_CODE"},
	{Tag: TagError, Kind: KindString, Name: "ERROR"},
	{Tag: TagHeartbeat, Kind: KindNull, Name: "HEARTBEAT"},
	{Tag: TagProtocolVersion, Kind: KindByte, Name: "PROTOCOL_VERSION"},
	{Tag: TagObjectID, Kind: KindInteger, Name: "OBJECT_ID"},
	{Tag: TagEnd, Kind: KindNull, Name: "END"},
}

// Dictionary is an immutable mapping from tag to kind. It is safe for
// concurrent use and is normally shared by every connection of a process.
type Dictionary struct {
	entries [256]Entry
	defined [256]bool
}

// NewDictionary builds a dictionary from the application entries plus the
// reserved protocol tags.
func NewDictionary(entries ...Entry) (*Dictionary, error) {
	d := &Dictionary{}
	for _, e := range reservedEntries {
		d.entries[e.Tag] = e
		d.defined[e.Tag] = true
	}
	for _, e := range entries {
		if e.Tag >= TagReservedBase {
			return nil, fmt.Errorf("%w: tag 0x%02X", ErrReservedTag, uint8(e.Tag))
		}
		if !e.Kind.Valid() {
			return nil, fmt.Errorf("%w: tag 0x%02X has kind %d", ErrInvalidKind, uint8(e.Tag), uint8(e.Kind))
		}
		if e.Compressed && !kindRules[e.Kind].numeric {
			return nil, fmt.Errorf("%w: tag 0x%02X kind %s cannot be compressed", ErrInvalidKind, uint8(e.Tag), e.Kind)
		}
		if d.defined[e.Tag] {
			return nil, fmt.Errorf("%w: tag 0x%02X", ErrDuplicateTag, uint8(e.Tag))
		}
		if e.Name == "" {
			e.Name = fmt.Sprintf("TAG_%02X", uint8(e.Tag))
		}
		d.entries[e.Tag] = e
		d.defined[e.Tag] = true
	}
	return d, nil
}

// MustDictionary is like NewDictionary but panics on error. Intended for
// package-level dictionaries.
func MustDictionary(entries ...Entry) *Dictionary {
	d, err := NewDictionary(entries...)
	if err != nil {
		panic(err)
	}
	return d
}

// Lookup returns the entry bound to tag.
func (d *Dictionary) Lookup(tag Tag) (Entry, bool) {
	return d.entries[tag], d.defined[tag]
}

// Kind returns the kind bound to tag.
func (d *Dictionary) Kind(tag Tag) (ValueKind, bool) {
	return d.entries[tag].Kind, d.defined[tag]
}

// Size returns the fixed payload width of tag, or VariableSize. Unknown
// tags report VariableSize.
func (d *Dictionary) Size(tag Tag) int {
	if !d.defined[tag] {
		return VariableSize
	}
	return d.entries[tag].Size()
}

// Name returns the display name of tag.
func (d *Dictionary) Name(tag Tag) string {
	if !d.defined[tag] {
		return fmt.Sprintf("UNKNOWN_%02X", uint8(tag))
	}
	return d.entries[tag].Name
}

// Tags returns all defined tags in ascending order.
func (d *Dictionary) Tags() []Tag {
	tags := make([]Tag, 0, 16)
	for i := range d.defined {
		if d.defined[i] {
			tags = append(tags, Tag(i))
		}
	}
	return tags
}

// Base is the dictionary holding only the reserved protocol tags.
var Base = MustDictionary()
