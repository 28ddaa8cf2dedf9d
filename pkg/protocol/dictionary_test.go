package protocol

import (
	"errors"
	"testing"
)

// Tags used across the package tests.
const (
	tagText Tag = iota + 0x01
	tagFlag
	tagByte
	tagShort
	tagInt
	tagLong
	tagFloat
	tagDouble
	tagJSON
	tagArray
	tagNull
	tagPackedLong
	tagPackedDouble
	tagPackedShort
)

var testDict = MustDictionary(
	Entry{Tag: tagText, Kind: KindString, Name: "TEXT"},
	Entry{Tag: tagFlag, Kind: KindBoolean, Name: "FLAG"},
	Entry{Tag: tagByte, Kind: KindByte},
	Entry{Tag: tagShort, Kind: KindShort},
	Entry{Tag: tagInt, Kind: KindInteger},
	Entry{Tag: tagLong, Kind: KindLong},
	Entry{Tag: tagFloat, Kind: KindFloat},
	Entry{Tag: tagDouble, Kind: KindDouble},
	Entry{Tag: tagJSON, Kind: KindJSONObject},
	Entry{Tag: tagArray, Kind: KindArray},
	Entry{Tag: tagNull, Kind: KindNull},
	Entry{Tag: tagPackedLong, Kind: KindLong, Compressed: true},
	Entry{Tag: tagPackedDouble, Kind: KindDouble, Compressed: true},
	Entry{Tag: tagPackedShort, Kind: KindShort, Compressed: true},
)

func TestNewDictionary(t *testing.T) {
	tests := []struct {
		name    string
		entries []Entry
		wantErr error
	}{
		{
			name:    "empty",
			entries: nil,
		},
		{
			name:    "application tags",
			entries: []Entry{{Tag: 0x01, Kind: KindString}, {Tag: 0xEF, Kind: KindLong, Compressed: true}},
		},
		{
			name:    "reserved tag",
			entries: []Entry{{Tag: TagEnd, Kind: KindNull}},
			wantErr: ErrReservedTag,
		},
		{
			name:    "reserved range start",
			entries: []Entry{{Tag: TagReservedBase, Kind: KindByte}},
			wantErr: ErrReservedTag,
		},
		{
			name:    "duplicate",
			entries: []Entry{{Tag: 0x10, Kind: KindByte}, {Tag: 0x10, Kind: KindShort}},
			wantErr: ErrDuplicateTag,
		},
		{
			name:    "unknown kind",
			entries: []Entry{{Tag: 0x10, Kind: ValueKind(200)}},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "compressed string",
			entries: []Entry{{Tag: 0x10, Kind: KindString, Compressed: true}},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "compressed float",
			entries: []Entry{{Tag: 0x10, Kind: KindFloat, Compressed: true}},
			wantErr: ErrInvalidKind,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDictionary(tc.entries...)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("NewDictionary() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDictionary() error = %v", err)
			}
			for _, e := range tc.entries {
				if k, ok := d.Kind(e.Tag); !ok || k != e.Kind {
					t.Errorf("Kind(0x%02X) = %v, %v; want %v, true", uint8(e.Tag), k, ok, e.Kind)
				}
			}
		})
	}
}

func TestDictionaryReservedTags(t *testing.T) {
	want := map[Tag]ValueKind{
		TagErrorCode:       KindShort,
		TagError:           KindString,
		TagHeartbeat:       KindNull,
		TagProtocolVersion: KindByte,
		TagObjectID:        KindInteger,
		TagEnd:             KindNull,
	}
	for tag, kind := range want {
		got, ok := Base.Kind(tag)
		if !ok || got != kind {
			t.Errorf("Base.Kind(0x%02X) = %v, %v; want %v, true", uint8(tag), got, ok, kind)
		}
	}
	if _, ok := Base.Lookup(0x01); ok {
		t.Error("Base should not define application tags")
	}
}

func TestDictionarySize(t *testing.T) {
	tests := []struct {
		tag  Tag
		want int
	}{
		{tagFlag, BooleanSize},
		{tagByte, ByteSize},
		{tagShort, ShortSize},
		{tagInt, IntegerSize},
		{tagLong, LongSize},
		{tagFloat, FloatSize},
		{tagDouble, DoubleSize},
		{tagNull, 0},
		{tagText, VariableSize},
		{tagJSON, VariableSize},
		{tagArray, VariableSize},
		{tagPackedLong, VariableSize},
		{0xEE, VariableSize},
	}
	for _, tc := range tests {
		if got := testDict.Size(tc.tag); got != tc.want {
			t.Errorf("Size(0x%02X) = %d, want %d", uint8(tc.tag), got, tc.want)
		}
	}
}

func TestDictionaryName(t *testing.T) {
	if got := testDict.Name(tagText); got != "TEXT" {
		t.Errorf("Name(tagText) = %q, want TEXT", got)
	}
	if got := testDict.Name(tagByte); got != "TAG_03" {
		t.Errorf("Name(tagByte) = %q, want TAG_03", got)
	}
	if got := testDict.Name(0xEE); got != "UNKNOWN_EE" {
		t.Errorf("Name(0xEE) = %q, want UNKNOWN_EE", got)
	}
	if got := testDict.Name(TagEnd); got != "END" {
		t.Errorf("Name(TagEnd) = %q, want END", got)
	}
}

func TestDictionaryTags(t *testing.T) {
	tags := testDict.Tags()
	if len(tags) != 14+6 {
		t.Fatalf("Tags() returned %d tags, want 20", len(tags))
	}
	for i := 1; i < len(tags); i++ {
		if tags[i-1] >= tags[i] {
			t.Fatalf("Tags() not ascending at %d: %v", i, tags)
		}
	}
}

func TestMustDictionaryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustDictionary() should panic on a reserved tag")
		}
	}()
	MustDictionary(Entry{Tag: TagObjectID, Kind: KindInteger})
}

func TestValueKindString(t *testing.T) {
	tests := []struct {
		kind ValueKind
		want string
	}{
		{KindNull, "NULL"},
		{KindBoolean, "BOOLEAN"},
		{KindJSONObject, "JSON_OBJECT"},
		{KindArray, "ARRAY"},
		{ValueKind(99), "ValueKind(99)"},
	}
	for _, tc := range tests {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("ValueKind(%d).String() = %q, want %q", uint8(tc.kind), got, tc.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for k := KindNull; k < numKinds; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", k.String(), got, err, k)
		}
	}
	if got, err := ParseKind("json_object"); err != nil || got != KindJSONObject {
		t.Errorf("ParseKind(lower) = %v, %v", got, err)
	}
	if _, err := ParseKind("VARCHAR"); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("ParseKind(VARCHAR) error = %v, want ErrInvalidKind", err)
	}
}

func TestElementMarkerString(t *testing.T) {
	if got := ElemStringUTF8.String(); got != "STRING_UTF8" {
		t.Errorf("ElemStringUTF8.String() = %q", got)
	}
	if ElementMarker(0x40).Valid() {
		t.Error("marker 0x40 should be invalid")
	}
	if got := ElementMarker(0x40).String(); got != "INVALID" {
		t.Errorf("ElementMarker(0x40).String() = %q, want INVALID", got)
	}
}
