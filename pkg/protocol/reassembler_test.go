package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

// collect drains every complete frame currently buffered.
func collect(t *testing.T, r *Reassembler) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		raw, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if raw == nil {
			return out
		}
		out = append(out, append([]byte(nil), raw...))
	}
}

func splitFrames(t *testing.T, data []byte) [][]byte {
	t.Helper()
	r := NewReassembler(testDict)
	r.Merge(data)
	return collect(t, r)
}

func TestReassemblerWholeStream(t *testing.T) {
	data, n := buildStream(t)
	frames := splitFrames(t, data)
	if len(frames) != n {
		t.Fatalf("got %d frames, want %d", len(frames), n)
	}
	if !bytes.Equal(bytes.Join(frames, nil), data) {
		t.Error("concatenated frames differ from stream")
	}
}

func TestReassemblerEverySplitPoint(t *testing.T) {
	data, _ := buildStream(t)
	want := splitFrames(t, data)

	for i := 0; i <= len(data); i++ {
		r := NewReassembler(testDict)
		r.Merge(data[:i])
		got := collect(t, r)
		r.Merge(data[i:])
		got = append(got, collect(t, r)...)

		if len(got) != len(want) {
			t.Fatalf("split %d: got %d frames, want %d", i, len(got), len(want))
		}
		for j := range want {
			if !bytes.Equal(got[j], want[j]) {
				t.Fatalf("split %d: frame %d differs", i, j)
			}
		}
		if r.Buffered() != 0 {
			t.Errorf("split %d: %d bytes left buffered", i, r.Buffered())
		}
	}
}

func TestReassemblerByteAtATime(t *testing.T) {
	data, n := buildStream(t)
	r := NewReassembler(testDict)

	var got [][]byte
	for i := range data {
		r.Merge(data[i : i+1])
		got = append(got, collect(t, r)...)
	}
	if len(got) != n {
		t.Fatalf("got %d frames, want %d", len(got), n)
	}
	if !bytes.Equal(bytes.Join(got, nil), data) {
		t.Error("concatenated frames differ from stream")
	}
}

func TestReassemblerRandomChunks(t *testing.T) {
	data, n := buildStream(t)
	rng := rand.New(rand.NewSource(1))

	for round := 0; round < 200; round++ {
		r := NewReassembler(testDict)
		var frames []*Frame
		for off := 0; off < len(data); {
			end := off + 1 + rng.Intn(16)
			if end > len(data) {
				end = len(data)
			}
			r.Merge(data[off:end])
			off = end
			for {
				f, err := r.NextFrame()
				if err != nil {
					t.Fatalf("round %d: NextFrame() error = %v", round, err)
				}
				if f == nil {
					break
				}
				frames = append(frames, f)
			}
		}
		if len(frames) != n {
			t.Fatalf("round %d: got %d frames, want %d", round, len(frames), n)
		}
	}
}

func TestShiftNextBlockDryRun(t *testing.T) {
	data, _ := buildStream(t)
	r := NewReassembler(testDict)
	r.Merge(data)

	first, err := r.ShiftNextBlock(true)
	if err != nil || first == NotFullBuffer {
		t.Fatalf("ShiftNextBlock(true) = %d, %v", first, err)
	}
	if r.Position() != 0 {
		t.Errorf("dry run moved cursor to %d", r.Position())
	}
	again, _ := r.ShiftNextBlock(true)
	if again != first {
		t.Errorf("repeated dry run = %d, want %d", again, first)
	}
	if r.State() != StateComplete {
		t.Errorf("State() = %v, want Complete", r.State())
	}

	end, err := r.ShiftNextBlock(false)
	if err != nil || end != first {
		t.Fatalf("ShiftNextBlock(false) = %d, %v; want %d", end, err, first)
	}
	if r.Position() != end {
		t.Errorf("Position() = %d, want %d", r.Position(), end)
	}
}

func TestShiftNextBlockIncomplete(t *testing.T) {
	data, _ := buildStream(t)
	first, _ := newReassemblerWith(t, data).ShiftNextBlock(true)

	r := NewReassembler(testDict)
	r.Merge(data[:first-1])
	for _, dry := range []bool{true, false} {
		end, err := r.ShiftNextBlock(dry)
		if err != nil || end != NotFullBuffer {
			t.Fatalf("ShiftNextBlock(%v) = %d, %v; want NotFullBuffer", dry, end, err)
		}
		if r.Position() != 0 {
			t.Errorf("ShiftNextBlock(%v) left cursor at %d", dry, r.Position())
		}
		if r.State() != StateIncomplete {
			t.Errorf("State() = %v, want Incomplete", r.State())
		}
	}

	r.Merge(data[first-1 : first])
	end, err := r.ShiftNextBlock(false)
	if err != nil || end != first {
		t.Errorf("after merge ShiftNextBlock() = %d, %v; want %d", end, err, first)
	}
}

// newReassemblerWith returns a reassembler already holding data.
func newReassemblerWith(t *testing.T, data []byte) *Reassembler {
	t.Helper()
	r := NewReassembler(testDict)
	r.Merge(data)
	return r
}

func TestReassemblerSlice(t *testing.T) {
	data, _ := buildStream(t)
	r := newReassemblerWith(t, data)

	end, _ := r.ShiftNextBlock(true)
	start := r.Position()
	raw := r.Slice(start, end)
	if !bytes.Equal(raw, data[:end]) {
		t.Error("Slice() returned wrong bytes")
	}
	if r.Position() != end {
		t.Errorf("Position() = %d after Slice, want %d", r.Position(), end)
	}
	if r.Size() != len(data) {
		t.Errorf("Size() = %d, want %d", r.Size(), len(data))
	}
}

func TestReassemblerMergeKeepsSuffix(t *testing.T) {
	data, _ := buildStream(t)
	r := newReassemblerWith(t, data[:10])
	if r.Buffered() != 10 {
		t.Fatalf("Buffered() = %d, want 10", r.Buffered())
	}
	r.Merge(data[10:20])
	if r.Buffered() != 20 || r.Position() != 0 {
		t.Errorf("after merge Buffered() = %d, Position() = %d; want 20, 0", r.Buffered(), r.Position())
	}
}

func TestReassemblerFormatError(t *testing.T) {
	r := NewReassembler(testDict)
	r.Merge([]byte{byte(tagFlag), 0x01, 0xEE, byte(TagEnd)})

	end, err := r.ShiftNextBlock(false)
	if end != NotFullBuffer {
		t.Errorf("ShiftNextBlock() = %d, want NotFullBuffer", end)
	}
	var fe *FormatError
	if !errors.As(err, &fe) || !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("ShiftNextBlock() error = %v, want FormatError(ErrUnknownTag)", err)
	}
	if r.Position() != 0 {
		t.Errorf("Position() = %d, want 0", r.Position())
	}
	if _, err := r.Next(); err == nil {
		t.Error("Next() should keep reporting the format error")
	}
}

func TestReassemblerAllocationLimit(t *testing.T) {
	r := NewReassembler(testDict)
	r.SetMaxAllocation(64)

	// Only the length prefix has arrived; the oversize must be reported now.
	r.Merge([]byte{byte(tagText), lengthTier16, 0x01, 0x00})
	_, err := r.ShiftNextBlock(true)
	if !errors.Is(err, ErrAllocationTooLarge) {
		t.Fatalf("ShiftNextBlock() error = %v, want ErrAllocationTooLarge", err)
	}
}

func TestReassemblerAvailable(t *testing.T) {
	data, _ := buildStream(t)
	r := newReassemblerWith(t, data[:3])
	if ok, err := r.Available(); ok || err != nil {
		t.Errorf("Available() = %v, %v; want false, nil", ok, err)
	}
	r.Merge(data[3:])
	if ok, err := r.Available(); !ok || err != nil {
		t.Errorf("Available() = %v, %v; want true, nil", ok, err)
	}
	if r.Position() != 0 {
		t.Error("Available() must not consume")
	}
}

func TestReassemblerReset(t *testing.T) {
	data, _ := buildStream(t)
	r := newReassemblerWith(t, data[:5])
	r.Reset()
	if r.Buffered() != 0 || r.Size() != 0 {
		t.Errorf("after Reset Buffered() = %d, Size() = %d", r.Buffered(), r.Size())
	}
	if r.State() != StateAwaitingHeader {
		t.Errorf("State() = %v, want AwaitingHeader", r.State())
	}
}

func TestScanStateString(t *testing.T) {
	states := map[ScanState]string{
		StateAwaitingHeader: "AwaitingHeader",
		StateScanning:       "Scanning",
		StateComplete:       "Complete",
		StateIncomplete:     "Incomplete",
		ScanState(42):       "Unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("ScanState(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestShiftNextBlockTransitions(t *testing.T) {
	data, _ := buildStream(t)
	first, _ := newReassemblerWith(t, data).ShiftNextBlock(true)

	type step struct{ from, to ScanState }
	tests := []struct {
		name string
		buf  []byte
		want []step
	}{
		{"empty buffer", nil, []step{
			{StateAwaitingHeader, StateScanning},
			{StateScanning, StateIncomplete},
		}},
		{"short buffer", data[:first-1], []step{
			{StateAwaitingHeader, StateScanning},
			{StateScanning, StateIncomplete},
		}},
		{"complete frame", data, []step{
			{StateAwaitingHeader, StateScanning},
			{StateScanning, StateComplete},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newReassemblerWith(t, tc.buf)
			var got []step
			r.onState = func(from, to ScanState) { got = append(got, step{from, to}) }

			r.ShiftNextBlock(true)
			if len(got) != len(tc.want) {
				t.Fatalf("transitions = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("transition %d = %v, want %v", i, got[i], tc.want[i])
				}
			}

			// The next call re-enters AwaitingHeader first.
			got = nil
			r.ShiftNextBlock(true)
			if len(got) == 0 || got[0].to != StateAwaitingHeader {
				t.Errorf("second call transitions = %v, want AwaitingHeader first", got)
			}
		})
	}
}
