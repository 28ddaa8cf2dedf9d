package protocol

import (
	"testing"
)

// === Encoder/Decoder Benchmarks ===

func BenchmarkEncoder_Frame(b *testing.B) {
	e := NewEncoder(testDict)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Reset()
		e.BeginFrame()
		e.Write(TagObjectID, int32(i))
		e.Write(tagText, "hello world")
		e.Write(tagFlag, true)
		e.Write(tagPackedLong, i)
		e.Write(tagDouble, 3.14159)
		e.EndFrame()
	}
}

func BenchmarkEncoder_Array(b *testing.B) {
	e := NewEncoder(testDict)
	arr := []any{1, 2, 40000, "abc", 1.5, true, nil}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Reset()
		e.Write(tagArray, arr)
	}
}

func BenchmarkDecoder_Frame(b *testing.B) {
	e := NewEncoder(testDict)
	e.BeginFrame()
	e.Write(TagObjectID, int32(7))
	e.Write(tagText, "hello world")
	e.Write(tagFlag, true)
	e.Write(tagPackedLong, 123456)
	e.Write(tagDouble, 3.14159)
	e.EndFrame()
	data := e.Bytes()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := DecodeFrame(testDict, data); err != nil {
			b.Fatal(err)
		}
	}
}

// === Reassembler Benchmarks ===

func BenchmarkReassembler_ShiftNextBlock(b *testing.B) {
	e := NewEncoder(testDict)
	for i := 0; i < 64; i++ {
		e.BeginFrame()
		e.Write(TagObjectID, int32(i))
		e.Write(tagText, "some label text")
		e.Write(tagArray, []any{1, 2, 3})
		e.EndFrame()
	}
	data := e.Bytes()
	r := NewReassembler(testDict)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Reset()
		r.Merge(data)
		for {
			end, err := r.ShiftNextBlock(false)
			if err != nil {
				b.Fatal(err)
			}
			if end == NotFullBuffer {
				break
			}
		}
	}
}

func BenchmarkReassembler_SmallChunks(b *testing.B) {
	e := NewEncoder(testDict)
	for i := 0; i < 16; i++ {
		e.BeginFrame()
		e.Write(TagObjectID, int32(i))
		e.Write(tagText, "chunked delivery")
		e.EndFrame()
	}
	data := e.Bytes()
	r := NewReassembler(testDict)

	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Reset()
		for off := 0; off < len(data); off += 7 {
			end := off + 7
			if end > len(data) {
				end = len(data)
			}
			r.Merge(data[off:end])
			for {
				raw, err := r.Next()
				if err != nil {
					b.Fatal(err)
				}
				if raw == nil {
					break
				}
			}
		}
	}
}
