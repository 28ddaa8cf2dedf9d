package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-dev/uiwire/pkg/protocol"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("flush: pipeline closed")

	// ErrWriteFailed wraps the transport error that killed the pipeline.
	ErrWriteFailed = errors.New("flush: transport write failed")
)

// Transport is the asynchronous byte sink behind a Pipeline.
//
// SendAsync must not retain b after done is called. done may run on any
// goroutine, including synchronously inside SendAsync.
type Transport interface {
	SendAsync(b []byte, done func(error))
	Close() error
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Frames    uint64 // frames committed
	Bytes     uint64 // bytes committed
	BytesSent uint64 // bytes acknowledged by the transport
	Chunks    uint64 // transport writes issued
	Failures  uint64 // failed transport writes
	Buffered  int    // bytes waiting to be sent
}

// Pipeline buffers committed frames and writes them to a Transport in
// chunks, with at most one write in flight.
//
// Encode must be called from a single goroutine per connection. Flush,
// Drain, Close and Stats are safe for concurrent use.
type Pipeline struct {
	cfg       *Config
	transport Transport
	logger    *slog.Logger

	// encMu guards the scratch encoder.
	encMu sync.Mutex
	enc   *protocol.Encoder

	// inFlight is set while a chunk is owned by the transport.
	inFlight atomic.Bool

	mu       sync.Mutex
	out      []byte
	flushing bool // drain out chunk by chunk until empty
	timer    *time.Timer
	timerGen uint64
	armed    bool
	err      error
	progress chan struct{}
	dead     chan struct{}

	frames    atomic.Uint64
	bytes     atomic.Uint64
	bytesSent atomic.Uint64
	chunks    atomic.Uint64
	failures  atomic.Uint64
}

// New creates a pipeline writing to t. A nil cfg selects DefaultConfig and a
// nil logger selects slog.Default.
func New(t Transport, dict *protocol.Dictionary, cfg *Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	return &Pipeline{
		cfg:       cfg,
		transport: t,
		logger:    logger.With("component", "flush"),
		enc:       protocol.NewEncoder(dict),
		out:       make([]byte, 0, cfg.BufferSize),
		progress:  make(chan struct{}),
		dead:      make(chan struct{}),
	}
}

// Encode runs fn inside one frame bracket and commits the frame to the
// output buffer. If fn fails the frame is discarded and nothing reaches the
// buffer. fn may close the frame itself (for example through
// protocol.EncodeFrameTo); an empty open frame is dropped.
func (p *Pipeline) Encode(fn func(*protocol.Encoder) error) error {
	p.encMu.Lock()
	defer p.encMu.Unlock()

	e := p.enc
	e.Reset()
	e.BeginFrame()
	if err := fn(e); err != nil {
		e.AbortFrame()
		return err
	}
	if e.InFrame() {
		if e.Len() == 0 {
			e.AbortFrame()
			return nil
		}
		if err := e.EndFrame(); err != nil {
			return err
		}
	}
	if e.Committed() == 0 {
		return nil
	}
	return p.commit(e.Bytes()[:e.Committed()])
}

// Write commits pre-encoded frames. b must hold only complete frames.
func (p *Pipeline) Write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return p.commit(b)
}

func (p *Pipeline) commit(b []byte) error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	wasEmpty := len(p.out) == 0
	p.out = append(p.out, b...)
	p.frames.Add(1)
	p.bytes.Add(uint64(len(b)))

	if wasEmpty && !p.armed && p.cfg.FlushTimeout > 0 {
		p.armTimerLocked()
	}
	kick := len(p.out) >= p.cfg.BufferSize
	if kick {
		p.flushing = true
		p.stopTimerLocked()
	}
	p.mu.Unlock()

	if kick {
		p.pump()
	}
	return nil
}

// Flush starts draining the buffer. It returns without waiting for the
// transport; use Drain to wait.
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return err
	}
	if len(p.out) > 0 {
		p.flushing = true
	}
	p.stopTimerLocked()
	p.mu.Unlock()

	p.pump()
	return nil
}

// Drain flushes and waits until every buffered byte has been acknowledged
// by the transport, the pipeline dies, or ctx is done.
func (p *Pipeline) Drain(ctx context.Context) error {
	if err := p.Flush(); err != nil {
		return err
	}
	for {
		p.mu.Lock()
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return err
		}
		idle := len(p.out) == 0 && !p.inFlight.Load()
		wait := p.progress
		p.mu.Unlock()

		if idle {
			return nil
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close discards buffered data and stops the timer. A write already handed
// to the transport is not recalled. Close does not close the transport.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil
	}
	p.err = ErrClosed
	p.discardLocked()
	return nil
}

// Err returns the error that stopped the pipeline, or nil while it is alive.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done is closed when the pipeline stops, by Close or a failed write.
func (p *Pipeline) Done() <-chan struct{} {
	return p.dead
}

// Buffered returns the number of bytes waiting to be sent.
func (p *Pipeline) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:    p.frames.Load(),
		Bytes:     p.bytes.Load(),
		BytesSent: p.bytesSent.Load(),
		Chunks:    p.chunks.Load(),
		Failures:  p.failures.Load(),
		Buffered:  p.Buffered(),
	}
}

// pump submits the next chunk if no write is in flight. It never holds mu
// while calling the transport.
func (p *Pipeline) pump() {
	for {
		if !p.inFlight.CompareAndSwap(false, true) {
			// The completion callback of the current write continues.
			return
		}
		p.mu.Lock()
		chunk := p.nextChunkLocked()
		p.mu.Unlock()

		if chunk != nil {
			p.send(chunk)
			return
		}
		p.inFlight.Store(false)

		// A commit between nextChunkLocked and the Store above saw the
		// guard set and left the chunk to us.
		p.mu.Lock()
		again := p.err == nil && p.flushing && len(p.out) > 0
		p.mu.Unlock()
		if !again {
			return
		}
	}
}

func (p *Pipeline) nextChunkLocked() []byte {
	if p.err != nil || !p.flushing {
		return nil
	}
	if len(p.out) == 0 {
		p.flushing = false
		p.signalLocked()
		return nil
	}
	n := len(p.out)
	if n > p.cfg.MaxChunkSize {
		n = p.cfg.MaxChunkSize
	}
	chunk := make([]byte, n)
	copy(chunk, p.out)
	p.out = append(p.out[:0], p.out[n:]...)
	return chunk
}

func (p *Pipeline) send(chunk []byte) {
	p.chunks.Add(1)
	start := time.Now()
	p.transport.SendAsync(chunk, func(err error) {
		p.writeDone(len(chunk), time.Since(start), err)
	})
}

func (p *Pipeline) writeDone(n int, elapsed time.Duration, err error) {
	if hook := p.cfg.OnChunk; hook != nil {
		hook(n, elapsed, err)
	}
	if err != nil {
		p.fail(err)
		return
	}
	p.bytesSent.Add(uint64(n))
	p.inFlight.Store(false)

	p.mu.Lock()
	p.signalLocked()
	p.mu.Unlock()

	p.pump()
}

// fail tears the pipeline down after a write error. There is no retry: the
// peer may hold half a frame and the stream has no resynchronization point.
func (p *Pipeline) fail(cause error) {
	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		p.inFlight.Store(false)
		return
	}
	p.err = fmt.Errorf("%w: %w", ErrWriteFailed, cause)
	dropped := len(p.out)
	p.discardLocked()
	p.mu.Unlock()

	p.inFlight.Store(false)
	p.failures.Add(1)
	p.logger.Error("write failed, closing connection",
		"error", cause,
		"dropped_bytes", dropped)

	if hook := p.cfg.OnFailure; hook != nil {
		hook(cause)
	}
	if err := p.transport.Close(); err != nil {
		p.logger.Debug("transport close after failure", "error", err)
	}
}

func (p *Pipeline) discardLocked() {
	p.out = nil
	p.flushing = false
	p.stopTimerLocked()
	close(p.dead)
	p.signalLocked()
}

func (p *Pipeline) signalLocked() {
	close(p.progress)
	p.progress = make(chan struct{})
}

func (p *Pipeline) armTimerLocked() {
	p.timerGen++
	gen := p.timerGen
	p.armed = true
	p.timer = time.AfterFunc(p.cfg.FlushTimeout, func() {
		p.onTimer(gen)
	})
}

func (p *Pipeline) stopTimerLocked() {
	if !p.armed {
		return
	}
	p.timer.Stop()
	p.armed = false
	p.timerGen++
}

func (p *Pipeline) onTimer(gen uint64) {
	p.mu.Lock()
	if gen != p.timerGen || !p.armed || p.err != nil {
		p.mu.Unlock()
		return
	}
	p.armed = false
	if len(p.out) > 0 {
		p.flushing = true
	}
	p.mu.Unlock()

	p.pump()
}
