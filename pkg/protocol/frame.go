package protocol

import (
	"fmt"
	"io"
)

// Unit is one decoded (tag, value) pair.
//
// Value holds nil for NULL, bool, int8, int16, int32, int64, float32,
// float64, string, json.RawMessage or []any according to Kind. Compressed
// numeric fields decode to int64 or float64.
type Unit struct {
	Tag   Tag
	Kind  ValueKind
	Value any

	// Size is the number of wire bytes the unit occupied, tag included.
	Size int
}

// String returns a short human readable form of the unit.
func (u Unit) String() string {
	if u.Kind == KindNull {
		return fmt.Sprintf("0x%02X", uint8(u.Tag))
	}
	return fmt.Sprintf("0x%02X=%v", uint8(u.Tag), u.Value)
}

// Frame is an END-terminated batch of units. The END unit itself is not
// stored.
type Frame struct {
	Units []Unit

	// Size is the number of wire bytes of the frame, END included.
	Size int
}

// Get returns the first unit carrying tag.
func (f *Frame) Get(tag Tag) (Unit, bool) {
	for _, u := range f.Units {
		if u.Tag == tag {
			return u, true
		}
	}
	return Unit{}, false
}

// Has reports whether the frame carries tag.
func (f *Frame) Has(tag Tag) bool {
	_, ok := f.Get(tag)
	return ok
}

// ObjectID returns the addressed UI object, if the frame names one.
func (f *Frame) ObjectID() (int32, bool) {
	u, ok := f.Get(TagObjectID)
	if !ok {
		return 0, false
	}
	id, ok := u.Value.(int32)
	return id, ok
}

// IsHeartbeat reports whether the frame is a keepalive.
func (f *Frame) IsHeartbeat() bool {
	return f.Has(TagHeartbeat)
}

// DecodeFrame decodes one frame from data, which must start at a frame
// boundary. It returns the frame and the number of bytes consumed.
// io.ErrUnexpectedEOF is returned if data ends before END.
func DecodeFrame(dict *Dictionary, data []byte) (*Frame, int, error) {
	d := NewDecoder(dict, data)
	return DecodeFrameFrom(d)
}

// DecodeFrameFrom decodes one frame at the decoder's cursor. On error the
// cursor is restored to where the frame started.
func DecodeFrameFrom(d *Decoder) (*Frame, int, error) {
	start := d.Position()
	f := &Frame{Units: make([]Unit, 0, 8)}
	for {
		u, err := d.ReadUnit()
		if err != nil {
			d.SetPosition(start)
			return nil, 0, err
		}
		if u.Tag == TagEnd {
			f.Size = d.Position() - start
			return f, f.Size, nil
		}
		f.Units = append(f.Units, u)
	}
}

// EncodeFrameTo writes units as one complete frame.
func EncodeFrameTo(e *Encoder, units ...Unit) error {
	e.BeginFrame()
	for _, u := range units {
		if err := e.Write(u.Tag, u.Value); err != nil {
			return err
		}
	}
	return e.EndFrame()
}

// ReadFrames decodes every complete frame in data. Trailing bytes that do
// not form a complete frame are reported through io.ErrUnexpectedEOF along
// with the frames decoded so far.
func ReadFrames(dict *Dictionary, data []byte) ([]*Frame, error) {
	d := NewDecoder(dict, data)
	var frames []*Frame
	for !d.EOF() {
		f, _, err := DecodeFrameFrom(d)
		if err != nil {
			if IsIncomplete(err) {
				return frames, io.ErrUnexpectedEOF
			}
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
