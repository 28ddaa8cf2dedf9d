package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Direction tells which way a recorded chunk travelled.
type Direction uint8

const (
	Inbound  Direction = 1
	Outbound Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "in"
	case Outbound:
		return "out"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// magic opens every capture file. The last byte is the format version.
var magic = [6]byte{'U', 'W', 'C', 'A', 'P', 1}

// recordHeaderSize is dir (1) + unix nanos (8) + length (4).
const recordHeaderSize = 13

// MaxRecordSize bounds a single record on read.
const MaxRecordSize = 64 * 1024 * 1024

var (
	// ErrBadMagic is returned when a stream does not start with the capture
	// header.
	ErrBadMagic = errors.New("capture: not a capture file")

	// ErrCorrupt is returned for a truncated or malformed record.
	ErrCorrupt = errors.New("capture: corrupt record")
)

// Record is one chunk exactly as it crossed the socket.
type Record struct {
	Dir  Direction
	Time time.Time
	Data []byte
}

// Writer appends records to an io.Writer.
//
// Layout:
//
//	"UWCAP" version(1)
//	{ dir(1) unix-nanos(8) length(4) data(length) }*
//
// All integers are big-endian.
type Writer struct {
	w   io.Writer
	hdr [recordHeaderSize]byte
}

// NewWriter writes the file header and returns a Writer.
func NewWriter(w io.Writer) (*Writer, error) {
	if _, err := w.Write(magic[:]); err != nil {
		return nil, err
	}
	return &Writer{w: w}, nil
}

// WriteRecord appends rec.
func (w *Writer) WriteRecord(rec Record) error {
	if len(rec.Data) > MaxRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrCorrupt, len(rec.Data))
	}
	w.hdr[0] = byte(rec.Dir)
	binary.BigEndian.PutUint64(w.hdr[1:9], uint64(rec.Time.UnixNano()))
	binary.BigEndian.PutUint32(w.hdr[9:13], uint32(len(rec.Data)))
	if _, err := w.w.Write(w.hdr[:]); err != nil {
		return err
	}
	_, err := w.w.Write(rec.Data)
	return err
}

// Reader iterates over the records of a capture.
type Reader struct {
	r   *bufio.Reader
	hdr [recordHeaderSize]byte
}

// NewReader checks the file header and returns a Reader.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var got [len(magic)]byte
	if _, err := io.ReadFull(br, got[:]); err != nil {
		return nil, ErrBadMagic
	}
	if got != magic {
		return nil, ErrBadMagic
	}
	return &Reader{r: br}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(r.r, r.hdr[:]); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	dir := Direction(r.hdr[0])
	if dir != Inbound && dir != Outbound {
		return Record{}, fmt.Errorf("%w: direction %d", ErrCorrupt, r.hdr[0])
	}
	n := binary.BigEndian.Uint32(r.hdr[9:13])
	if n > MaxRecordSize {
		return Record{}, fmt.Errorf("%w: length %d", ErrCorrupt, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return Record{
		Dir:  dir,
		Time: time.Unix(0, int64(binary.BigEndian.Uint64(r.hdr[1:9]))),
		Data: data,
	}, nil
}

// Stream concatenates the data of every record travelling in dir. The
// result is the byte stream one peer saw, with chunk boundaries dropped.
func Stream(r *Reader, dir Direction) ([]byte, []int, error) {
	var out []byte
	var sizes []int
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out, sizes, nil
		}
		if err != nil {
			return out, sizes, err
		}
		if rec.Dir != dir {
			continue
		}
		out = append(out, rec.Data...)
		sizes = append(sizes, len(rec.Data))
	}
}
