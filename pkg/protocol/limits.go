package protocol

// Allocation limits to prevent DoS attacks via malicious length prefixes.
const (
	// DefaultMaxAllocation is the default maximum size of a single string or
	// JSON payload accepted by a Decoder (4MB).
	DefaultMaxAllocation = 4 * 1024 * 1024

	// HardMaxAllocation is the absolute ceiling for a single payload (16MB).
	// The Encoder refuses anything larger and a Decoder can not be
	// configured above it.
	HardMaxAllocation = 16 * 1024 * 1024
)

// Array limits.
const (
	// MaxArrayLength is the largest element count an ARRAY can carry.
	MaxArrayLength = 255

	// MaxArrayStringLength is the largest byte length of a string element.
	MaxArrayStringLength = 255
)

// Charset markers precede every STRING and JSON_OBJECT payload.
const (
	CharsetASCII byte = 0x00
	CharsetUTF8  byte = 0x01
)

// String markers pack the charset into the high bit and the length tier into
// the low seven bits. Tier values up to maxInlineLength are the length itself.
const (
	charsetBit      = 0x80
	lengthTierMask  = 0x7F
	maxInlineLength = 124
	lengthTier8     = 125
	lengthTier16    = 126
	lengthTier32    = 127
)

// ElementMarker self-tags each array element and each compressed field.
type ElementMarker uint8

const (
	ElemNull ElementMarker = iota
	ElemTrue
	ElemFalse
	ElemByte
	ElemShort
	ElemInteger
	ElemLong
	ElemFloat
	ElemDouble
	ElemStringASCII
	ElemStringUTF8

	numElems
)

type elemRule struct {
	name      string
	fixedSize int // payload width after the marker, VariableSize for strings
}

var elemRules = [numElems]elemRule{
	ElemNull:        {name: "NULL", fixedSize: 0},
	ElemTrue:        {name: "TRUE", fixedSize: 0},
	ElemFalse:       {name: "FALSE", fixedSize: 0},
	ElemByte:        {name: "BYTE", fixedSize: ByteSize},
	ElemShort:       {name: "SHORT", fixedSize: ShortSize},
	ElemInteger:     {name: "INTEGER", fixedSize: IntegerSize},
	ElemLong:        {name: "LONG", fixedSize: LongSize},
	ElemFloat:       {name: "FLOAT", fixedSize: FloatSize},
	ElemDouble:      {name: "DOUBLE", fixedSize: DoubleSize},
	ElemStringASCII: {name: "STRING_ASCII", fixedSize: VariableSize},
	ElemStringUTF8:  {name: "STRING_UTF8", fixedSize: VariableSize},
}

// String returns the wire name of the marker.
func (m ElementMarker) String() string {
	if m >= numElems {
		return "INVALID"
	}
	return elemRules[m].name
}

// Valid reports whether m is a known marker.
func (m ElementMarker) Valid() bool {
	return m < numElems
}
