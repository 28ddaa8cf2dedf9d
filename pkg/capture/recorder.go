package capture

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder keeps every chunk of one connection in memory and saves the
// capture to a Store on Close. It satisfies socket.Tap.
type Recorder struct {
	name    string
	store   Store
	maxSize int
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	buf       bytes.Buffer
	w         *Writer
	records   int
	truncated bool
	closed    bool
}

// NewRecorder returns a Recorder that saves under name. Recording stops,
// keeping what was captured so far, once the capture would exceed maxSize
// bytes (0 = no limit).
func NewRecorder(name string, store Store, maxSize int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		name:    name,
		store:   store,
		maxSize: maxSize,
		logger:  logger.With("capture", name),
		now:     time.Now,
	}
	// Writes to a bytes.Buffer cannot fail.
	r.w, _ = NewWriter(&r.buf)
	return r
}

// Name returns the name the capture is saved under.
func (r *Recorder) Name() string {
	return r.name
}

// Inbound records bytes received from the peer.
func (r *Recorder) Inbound(b []byte) {
	r.record(Inbound, b)
}

// Outbound records bytes written to the peer.
func (r *Recorder) Outbound(b []byte) {
	r.record(Outbound, b)
}

func (r *Recorder) record(dir Direction, b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.truncated {
		return
	}
	if r.maxSize > 0 && r.buf.Len()+recordHeaderSize+len(b) > r.maxSize {
		r.truncated = true
		r.logger.Warn("capture size limit reached, recording stopped",
			"records", r.records,
			"bytes", r.buf.Len())
		return
	}
	r.w.WriteRecord(Record{Dir: dir, Time: r.now(), Data: b})
	r.records++
}

// Records returns the number of chunks recorded.
func (r *Recorder) Records() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Truncated reports whether the size limit stopped recording.
func (r *Recorder) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}

// Close stops recording and saves the capture. An empty capture is not
// saved. Close is idempotent.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	records := r.records
	data := bytes.Clone(r.buf.Bytes())
	r.buf.Reset()
	r.mu.Unlock()

	if records == 0 {
		return nil
	}
	if err := r.store.Save(ctx, r.name, bytes.NewReader(data)); err != nil {
		r.logger.Error("capture save failed", "error", err)
		return err
	}
	r.logger.Debug("capture saved", "records", records, "bytes", len(data))
	return nil
}
