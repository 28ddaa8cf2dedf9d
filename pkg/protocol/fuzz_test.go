package protocol

import (
	"bytes"
	"testing"
)

// FuzzReadFrames tests that decoding arbitrary bytes doesn't panic.
func FuzzReadFrames(f *testing.F) {
	e := NewEncoder(testDict)
	EncodeFrameTo(e, Unit{Tag: TagObjectID, Value: int32(1)}, Unit{Tag: tagText, Value: "hi"})
	f.Add(e.Bytes())
	f.Add([]byte{byte(tagArray), 3, byte(ElemByte), 1, byte(ElemStringUTF8), 2, 0xC3, 0xA9, byte(ElemNull), byte(TagEnd)})
	f.Add([]byte{byte(tagJSON), 0, 0xFF, 0xFF, 0xFF, 0xFF})
	f.Add([]byte{byte(tagText), lengthTier32, 0x7F, 0xFF, 0xFF, 0xFF})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic
		_, _ = ReadFrames(testDict, data)
	})
}

// FuzzReassemblerSplit tests that the split point of a delivery never changes
// the frames produced.
func FuzzReassemblerSplit(f *testing.F) {
	e := NewEncoder(testDict)
	EncodeFrameTo(e, Unit{Tag: tagFlag, Value: true}, Unit{Tag: tagPackedLong, Value: 99999})
	EncodeFrameTo(e, Unit{Tag: tagArray, Value: []any{"a", 1.25}})
	f.Add(e.Bytes(), uint16(3))
	f.Add([]byte{byte(tagByte), 1, 0xEE, byte(TagEnd)}, uint16(1))

	f.Fuzz(func(t *testing.T, data []byte, at uint16) {
		split := int(at)
		if split > len(data) {
			split = len(data)
		}

		whole := NewReassembler(testDict)
		whole.Merge(data)
		var want [][]byte
		for {
			raw, err := whole.Next()
			if err != nil || raw == nil {
				break
			}
			want = append(want, append([]byte(nil), raw...))
		}

		parts := NewReassembler(testDict)
		var got [][]byte
		for _, chunk := range [][]byte{data[:split], data[split:]} {
			parts.Merge(chunk)
			for {
				raw, err := parts.Next()
				if err != nil || raw == nil {
					break
				}
				got = append(got, append([]byte(nil), raw...))
			}
		}

		if len(got) != len(want) {
			t.Fatalf("split %d: %d frames, whole stream gave %d", split, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("split %d: frame %d differs", split, i)
			}
		}
	})
}

// FuzzEncodeString tests that every string survives a round trip.
func FuzzEncodeString(f *testing.F) {
	f.Add("")
	f.Add("hello")
	f.Add("日本語")

	f.Fuzz(func(t *testing.T, s string) {
		e := NewEncoder(testDict)
		if err := e.Write(tagText, s); err != nil {
			t.Fatal(err)
		}
		u, err := NewDecoder(testDict, e.Bytes()).ReadUnit()
		if err != nil {
			// Invalid UTF-8 input is marked UTF-8 and rejected on decode.
			if isASCII(s) {
				t.Fatalf("ReadUnit() error = %v", err)
			}
			return
		}
		if u.Value.(string) != s {
			t.Fatalf("round trip %q -> %q", s, u.Value)
		}
	})
}
