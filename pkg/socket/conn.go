package socket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-dev/uiwire/pkg/flush"
	"github.com/vango-dev/uiwire/pkg/protocol"
	"github.com/vango-dev/uiwire/pkg/telemetry"
)

// Handler processes inbound frames. Handlers run on the connection's read
// goroutine; frames of one connection are dispatched in arrival order.
type Handler interface {
	HandleFrame(ctx context.Context, c *Conn, f *protocol.Frame) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c *Conn, f *protocol.Frame) error

// HandleFrame calls fn.
func (fn HandlerFunc) HandleFrame(ctx context.Context, c *Conn, f *protocol.Frame) error {
	return fn(ctx, c, f)
}

// Option configures a Conn.
type Option func(*Conn)

// WithMetrics records connection metrics into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithTracer opens spans for the connection and its dispatched frames.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Conn) { c.tracer = t }
}

// WithLogger sets the base logger. The connection ID is added to it.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) { c.logger = l }
}

// WithTap mirrors every chunk in both directions into t.
func WithTap(t Tap) Option {
	return func(c *Conn) { c.tap = t }
}

// WithID sets the connection ID instead of a random one.
func WithID(id string) Option {
	return func(c *Conn) { c.ID = id }
}

// WithOnClose registers fn to run once after the connection closes.
func WithOnClose(fn func(*Conn)) Option {
	return func(c *Conn) { c.onClose = fn }
}

// Conn is one peer of a uiwire stream over a WebSocket.
//
// Outbound frames go through a flush.Pipeline; inbound bytes go through a
// protocol.Reassembler so frames may span any number of messages.
type Conn struct {
	// ID uniquely identifies this connection.
	ID string

	dict      *protocol.Dictionary
	ws        *websocket.Conn
	transport *wsTransport
	pipeline  *flush.Pipeline
	reasm     *protocol.Reassembler
	handler   Handler
	config    *Config

	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	logger  *slog.Logger
	tap     Tap
	onClose func(*Conn)

	// spanCtx carries the connection span to the pipeline's chunk hook.
	spanCtx atomic.Pointer[context.Context]

	peerVersion atomic.Uint32
	createdAt   time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New wraps an established WebSocket. The connection is inert until Run.
func New(ws *websocket.Conn, dict *protocol.Dictionary, h Handler, cfg *Config, opts ...Option) *Conn {
	cfg = cfg.normalize()

	c := &Conn{
		ID:        NewID(),
		dict:      dict,
		ws:        ws,
		handler:   h,
		config:    cfg,
		logger:    slog.Default(),
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conn_id", c.ID)

	if cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(cfg.MaxMessageSize)
	}

	c.reasm = protocol.NewReassembler(dict)
	if cfg.MaxAllocation > 0 {
		c.reasm.SetMaxAllocation(cfg.MaxAllocation)
	}

	c.transport = newWSTransport(ws, cfg.WriteTimeout, c.tap)
	c.pipeline = flush.New(c.transport, dict, c.pipelineConfig(cfg.Flush), c.logger)

	c.metrics.ConnectionOpened()
	return c
}

// pipelineConfig chains the connection's hooks in front of the caller's.
func (c *Conn) pipelineConfig(fc *flush.Config) *flush.Config {
	userChunk, userFailure := fc.OnChunk, fc.OnFailure
	return fc.
		WithOnChunk(func(n int, elapsed time.Duration, err error) {
			c.metrics.ChunkWritten(n, elapsed, err)
			if ctx := c.spanCtx.Load(); ctx != nil {
				c.tracer.RecordChunk(*ctx, n, err)
			}
			if userChunk != nil {
				userChunk(n, elapsed, err)
			}
		}).
		WithOnFailure(func(err error) {
			if userFailure != nil {
				userFailure(err)
			}
			c.closeWithError(&ConnError{ConnID: c.ID, Op: "write", Err: err})
		})
}

// Dial connects to a uiwire endpoint. The returned connection is inert until
// Run.
func Dial(ctx context.Context, url string, dict *protocol.Dictionary, h Handler, cfg *Config, opts ...Option) (*Conn, *http.Response, error) {
	cfg = cfg.normalize()
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, resp, &ConnError{Op: "dial", Err: err}
	}
	return New(ws, dict, h, cfg, opts...), resp, nil
}

// Run performs the version handshake and then dispatches inbound frames
// until the connection closes. It returns nil after a local Close and the
// reason otherwise. Run must be called exactly once.
func (c *Conn) Run(ctx context.Context) error {
	ctx, span := c.tracer.StartConnection(ctx, c.ID, c.RemoteAddr())
	if c.tracer != nil {
		c.spanCtx.Store(&ctx)
	}

	err := c.handshake()
	if err == nil {
		c.logger.Debug("handshake complete", "peer_version", c.PeerVersion())
		if c.config.HeartbeatInterval > 0 {
			go c.heartbeatLoop()
		}
		err = c.readLoop(ctx)
	}
	c.teardown(err)

	reason := c.Err()
	telemetry.EndSpan(span, reason)
	return reason
}

// teardown closes the connection after the read side stopped with err. A nil
// err means the read loop saw a local close.
func (c *Conn) teardown(err error) {
	switch {
	case err == nil || c.closed.Load():
		c.Close()
	case errors.Is(err, ErrPeerError):
		c.closeWithError(err)
	case isStreamError(err):
		c.fatal(err)
	default:
		c.closeWithError(err)
	}
}

// isStreamError reports whether err means the peer violated the protocol.
func isStreamError(err error) bool {
	var fe *protocol.FormatError
	return errors.As(err, &fe) ||
		errors.Is(err, protocol.ErrVersionMismatch) ||
		errors.Is(err, protocol.ErrAllocationTooLarge) ||
		errors.Is(err, ErrInvalidHandshake)
}

// handshake sends our Hello and waits for the peer's.
func (c *Conn) handshake() error {
	err := c.pipeline.Encode(func(e *protocol.Encoder) error {
		return protocol.EncodeHelloTo(e, protocol.NewHello())
	})
	if err == nil {
		err = c.pipeline.Flush()
	}
	if err != nil {
		return &ConnError{ConnID: c.ID, Op: "handshake", Err: err}
	}

	deadline := time.Now().Add(c.config.HandshakeTimeout)
	for {
		f, err := c.reasm.NextFrame()
		if err != nil {
			c.metrics.DecodeFailed(err)
			return err
		}
		if f != nil {
			hello, ok := protocol.HelloFromFrame(f)
			if !ok {
				return ErrInvalidHandshake
			}
			if err := hello.Check(); err != nil {
				return err
			}
			c.peerVersion.Store(uint32(hello.Version))
			return nil
		}

		c.ws.SetReadDeadline(deadline)
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return &ConnError{ConnID: c.ID, Op: "handshake", Err: err}
		}
		c.receive(msg)
	}
}

// readLoop reads messages and dispatches every complete frame. Frames left
// in the reassembler by the handshake are dispatched first.
func (c *Conn) readLoop(ctx context.Context) error {
	defer c.reasm.Reset()

	for {
		if err := c.dispatchBuffered(ctx); err != nil {
			return err
		}

		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil
			}
			// A timeout or reset is reported like any other close reason;
			// only a clean close from the peer stays out of the error log.
			if websocket.IsCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.logger.Debug("peer closed", "error", err)
			} else {
				c.logger.Error("read error", "error", err)
			}
			return &ConnError{ConnID: c.ID, Op: "read", Err: err}
		}
		c.receive(msg)
	}
}

func (c *Conn) receive(msg []byte) {
	c.metrics.BytesReceived(len(msg))
	if c.tap != nil {
		c.tap.Inbound(msg)
	}
	c.reasm.Merge(msg)
}

func (c *Conn) dispatchBuffered(ctx context.Context) error {
	for {
		f, err := c.reasm.NextFrame()
		if err != nil {
			c.metrics.DecodeFailed(err)
			return err
		}
		if f == nil {
			return nil
		}
		c.metrics.FrameReceived(f.Size)
		if err := c.dispatch(ctx, f); err != nil {
			return err
		}
		if c.closed.Load() {
			return nil
		}
	}
}

func (c *Conn) dispatch(ctx context.Context, f *protocol.Frame) error {
	if f.IsHeartbeat() {
		return nil
	}
	if em, ok := protocol.ErrorMessageFromFrame(f); ok {
		c.logger.Warn("peer reported error", "code", em.Code.String(), "message", em.Message)
		return &ConnError{ConnID: c.ID, Op: "peer", Err: fmt.Errorf("%w: %w", ErrPeerError, em)}
	}
	if _, ok := protocol.HelloFromFrame(f); ok {
		c.logger.Debug("ignoring repeated handshake")
		return nil
	}
	if c.handler == nil {
		return nil
	}

	ctx, span := c.tracer.StartDispatch(ctx, f)
	err := c.safeHandle(ctx, f)
	telemetry.EndSpan(span, err)
	if err != nil {
		c.logger.Error("handler error", "error", err)
	}
	return nil
}

// safeHandle calls the handler with panic recovery. A panicking handler
// must not take the read loop down with it.
func (c *Conn) safeHandle(ctx context.Context, f *protocol.Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("socket: handler panic: %v", r)
		}
	}()
	return c.handler.HandleFrame(ctx, c, f)
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := c.pipeline.Encode(protocol.EncodeHeartbeatTo)
			if err == nil {
				err = c.pipeline.Flush()
			}
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// fatal reports err to the peer in an error frame and closes.
func (c *Conn) fatal(err error) {
	c.logger.Warn("closing on protocol error", "error", err)

	em := &protocol.ErrorMessage{Code: protocol.CodeFor(err), Message: err.Error()}
	if errors.Is(err, ErrInvalidHandshake) {
		em.Code = protocol.CodeVersion
	}
	sendErr := c.pipeline.Encode(func(e *protocol.Encoder) error {
		return protocol.EncodeErrorMessageTo(e, em)
	})
	if sendErr == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
		sendErr = c.pipeline.Drain(ctx)
		cancel()
	}
	if sendErr != nil {
		c.logger.Debug("error frame not delivered", "error", sendErr)
	}
	c.closeWithError(err)
}

// Send encodes one frame through fn and commits it to the outbound buffer.
// The frame is written when the buffer fills, the flush timer fires, or
// Flush is called. If fn fails nothing is committed.
func (c *Conn) Send(fn func(*protocol.Encoder) error) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	if err := c.pipeline.Encode(fn); err != nil {
		if errors.Is(err, flush.ErrClosed) {
			return ErrConnClosed
		}
		c.metrics.EncodeFailed()
		return err
	}
	c.metrics.FrameSent()
	return nil
}

// SendFrame commits a frame holding units.
func (c *Conn) SendFrame(units ...protocol.Unit) error {
	return c.Send(func(e *protocol.Encoder) error {
		return protocol.EncodeFrameTo(e, units...)
	})
}

// SendNow commits a frame and flushes immediately.
func (c *Conn) SendNow(fn func(*protocol.Encoder) error) error {
	if err := c.Send(fn); err != nil {
		return err
	}
	return c.Flush()
}

// Flush starts writing everything committed so far.
func (c *Conn) Flush() error {
	if err := c.pipeline.Flush(); err != nil {
		if errors.Is(err, flush.ErrClosed) {
			return ErrConnClosed
		}
		return err
	}
	return nil
}

// Drain flushes and waits until the peer's socket accepted every committed
// byte.
func (c *Conn) Drain(ctx context.Context) error {
	return c.pipeline.Drain(ctx)
}

// Shutdown drains pending frames, bounded by ctx, and closes.
func (c *Conn) Shutdown(ctx context.Context) error {
	err := c.Drain(ctx)
	c.Close()
	return err
}

// Close discards unsent frames and closes the WebSocket. It is safe to call
// multiple times.
func (c *Conn) Close() {
	c.closeWithError(nil)
}

func (c *Conn) closeWithError(reason error) {
	c.closeOnce.Do(func() {
		c.closeErr = reason
		c.closed.Store(true)

		// Pipeline first so the write aborted by the socket close is not
		// reported as a failure.
		c.pipeline.Close()
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("websocket close", "error", err)
		}
		close(c.done)

		c.metrics.ConnectionClosed()
		c.logger.Info("connection closed",
			"reason", reason,
			"duration", time.Since(c.createdAt))

		if c.onClose != nil {
			c.onClose(c)
		}
	})
}

// Done is closed when the connection closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection closed, or nil after a local Close or while
// still open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// IsClosed reports whether the connection has closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// PeerVersion returns the protocol version announced by the peer, or 0
// before the handshake completes.
func (c *Conn) PeerVersion() uint8 {
	return uint8(c.peerVersion.Load())
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string {
	if c.ws == nil {
		return ""
	}
	return c.ws.RemoteAddr().String()
}

// Stats returns the outbound pipeline counters.
func (c *Conn) Stats() flush.Stats {
	return c.pipeline.Stats()
}

// NewID returns a random 128-bit connection ID in hex.
func NewID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure indicates a broken system; continuing
		// with weak IDs would be a security risk.
		panic("socket: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
