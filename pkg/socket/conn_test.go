package socket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vango-dev/uiwire/pkg/protocol"
	"github.com/vango-dev/uiwire/pkg/telemetry"
)

const (
	tagText  protocol.Tag = 0x01
	tagCount protocol.Tag = 0x02
)

var testDict = protocol.MustDictionary(
	protocol.Entry{Tag: tagText, Kind: protocol.KindString, Name: "TEXT"},
	protocol.Entry{Tag: tagCount, Kind: protocol.KindInteger, Name: "COUNT"},
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 5 * time.Second
	cfg.WriteTimeout = time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.HeartbeatInterval = 0
	cfg.Flush = cfg.Flush.WithFlushTimeout(5 * time.Millisecond)
	return cfg
}

// startServer serves uiwire connections and reports each one on the
// returned channel.
func startServer(t *testing.T, h Handler, cfg *Config, opts ...Option) (string, <-chan *Conn) {
	t.Helper()
	conns := make(chan *Conn, 4)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := New(ws, testDict, h, cfg, append([]Option{WithLogger(quietLogger())}, opts...)...)
		conns <- c
		c.Run(context.Background())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns
}

func waitConn(t *testing.T, conns <-chan *Conn) *Conn {
	t.Helper()
	select {
	case c := <-conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted a connection")
		return nil
	}
}

// rawPeer drives the server with hand-built bytes.
type rawPeer struct {
	t     *testing.T
	ws    *websocket.Conn
	reasm *protocol.Reassembler
}

func dialRaw(t *testing.T, url string) *rawPeer {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &rawPeer{t: t, ws: ws, reasm: protocol.NewReassembler(testDict)}
}

func (p *rawPeer) send(b []byte) {
	p.t.Helper()
	if err := p.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		p.t.Fatalf("WriteMessage() error: %v", err)
	}
}

// nextFrame returns the next frame from the server, or nil when the socket
// closed first.
func (p *rawPeer) nextFrame() *protocol.Frame {
	p.t.Helper()
	for {
		f, err := p.reasm.NextFrame()
		if err != nil {
			p.t.Fatalf("NextFrame() error: %v", err)
		}
		if f != nil {
			return f
		}
		p.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := p.ws.ReadMessage()
		if err != nil {
			return nil
		}
		p.reasm.Merge(msg)
	}
}

func encode(t *testing.T, fns ...func(*protocol.Encoder) error) []byte {
	t.Helper()
	e := protocol.NewEncoder(testDict)
	for _, fn := range fns {
		if err := fn(e); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	return e.Bytes()
}

func hello(version uint8) func(*protocol.Encoder) error {
	return func(e *protocol.Encoder) error {
		return protocol.EncodeHelloTo(e, &protocol.Hello{Version: version})
	}
}

func textFrame(s string) func(*protocol.Encoder) error {
	return func(e *protocol.Encoder) error {
		return protocol.EncodeFrameTo(e, protocol.Unit{Tag: tagText, Value: s})
	}
}

func TestRoundTrip(t *testing.T) {
	echo := HandlerFunc(func(ctx context.Context, c *Conn, f *protocol.Frame) error {
		u, ok := f.Get(tagText)
		if !ok {
			return nil
		}
		return c.SendNow(func(e *protocol.Encoder) error {
			return e.Write(tagText, "echo:"+u.Value.(string))
		})
	})
	url, conns := startServer(t, echo, testConfig())

	got := make(chan string, 1)
	client, _, err := Dial(context.Background(), url, testDict,
		HandlerFunc(func(ctx context.Context, c *Conn, f *protocol.Frame) error {
			if u, ok := f.Get(tagText); ok {
				got <- u.Value.(string)
			}
			return nil
		}),
		testConfig(), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer client.Close()
	go client.Run(context.Background())
	server := waitConn(t, conns)

	if err := client.Send(func(e *protocol.Encoder) error {
		return e.Write(tagText, "hello")
	}); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	select {
	case s := <-got:
		if s != "echo:hello" {
			t.Errorf("got %q, want %q", s, "echo:hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	if v := client.PeerVersion(); v != protocol.ProtocolVersion {
		t.Errorf("client PeerVersion() = %d, want %d", v, protocol.ProtocolVersion)
	}
	if v := server.PeerVersion(); v != protocol.ProtocolVersion {
		t.Errorf("server PeerVersion() = %d, want %d", v, protocol.ProtocolVersion)
	}
	if s := server.Stats(); s.Frames < 2 {
		t.Errorf("server Stats().Frames = %d, want at least 2 (hello + echo)", s.Frames)
	}
}

func TestVersionMismatchSendsErrorFrame(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	peer := dialRaw(t, url)
	server := waitConn(t, conns)

	f := peer.nextFrame()
	if f == nil {
		t.Fatal("server closed before sending its handshake")
	}
	h, ok := protocol.HelloFromFrame(f)
	if !ok || h.Version != protocol.ProtocolVersion {
		t.Fatalf("first frame = %v, want hello v%d", f.Units, protocol.ProtocolVersion)
	}

	peer.send(encode(t, hello(1)))

	f = peer.nextFrame()
	if f == nil {
		t.Fatal("server closed without an error frame")
	}
	em, ok := protocol.ErrorMessageFromFrame(f)
	if !ok {
		t.Fatalf("frame = %v, want error frame", f.Units)
	}
	if em.Code != protocol.CodeVersion {
		t.Errorf("error code = %v, want %v", em.Code, protocol.CodeVersion)
	}

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server connection did not close")
	}
	if !errors.Is(server.Err(), protocol.ErrVersionMismatch) {
		t.Errorf("server Err() = %v, want ErrVersionMismatch", server.Err())
	}
}

func TestNonHelloFirstFrame(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()

	peer.send(encode(t, textFrame("too early")))

	f := peer.nextFrame()
	if f == nil {
		t.Fatal("server closed without an error frame")
	}
	if em, ok := protocol.ErrorMessageFromFrame(f); !ok || em.Code != protocol.CodeVersion {
		t.Errorf("frame = %v, want version error frame", f.Units)
	}
	<-server.Done()
	if !errors.Is(server.Err(), ErrInvalidHandshake) {
		t.Errorf("server Err() = %v, want ErrInvalidHandshake", server.Err())
	}
}

func TestFragmentedDelivery(t *testing.T) {
	received := make(chan *protocol.Frame, 4)
	h := HandlerFunc(func(ctx context.Context, c *Conn, f *protocol.Frame) error {
		received <- f
		return nil
	})
	url, _ := startServer(t, h, testConfig())
	peer := dialRaw(t, url)
	peer.nextFrame()

	stream := encode(t,
		hello(protocol.ProtocolVersion),
		textFrame(strings.Repeat("x", 300)),
		func(e *protocol.Encoder) error {
			return protocol.EncodeFrameTo(e,
				protocol.Unit{Tag: protocol.TagObjectID, Value: int32(9)},
				protocol.Unit{Tag: tagCount, Value: int32(-5)})
		},
	)
	for i := range stream {
		peer.send(stream[i : i+1])
	}

	want := []func(*protocol.Frame) bool{
		func(f *protocol.Frame) bool {
			u, ok := f.Get(tagText)
			return ok && u.Value == strings.Repeat("x", 300)
		},
		func(f *protocol.Frame) bool {
			id, ok := f.ObjectID()
			u, _ := f.Get(tagCount)
			return ok && id == 9 && u.Value == int32(-5)
		},
	}
	for i, check := range want {
		select {
		case f := <-received:
			if !check(f) {
				t.Errorf("frame %d = %v, unexpected contents", i, f.Units)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never dispatched", i)
		}
	}
}

func TestMalformedStreamSendsFormatError(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()

	stream := encode(t, hello(protocol.ProtocolVersion))
	stream = append(stream, 0x7F) // not in the dictionary
	peer.send(stream)

	f := peer.nextFrame()
	if f == nil {
		t.Fatal("server closed without an error frame")
	}
	em, ok := protocol.ErrorMessageFromFrame(f)
	if !ok || em.Code != protocol.CodeFormat {
		t.Fatalf("frame = %v, want format error frame", f.Units)
	}
	<-server.Done()
	if !errors.Is(server.Err(), protocol.ErrUnknownTag) {
		t.Errorf("server Err() = %v, want ErrUnknownTag", server.Err())
	}
}

func TestHeartbeat(t *testing.T) {
	url, _ := startServer(t, nil, testConfig().WithHeartbeatInterval(10*time.Millisecond))
	peer := dialRaw(t, url)
	peer.nextFrame()
	peer.send(encode(t, hello(protocol.ProtocolVersion)))

	f := peer.nextFrame()
	if f == nil || !f.IsHeartbeat() {
		t.Fatalf("frame = %v, want heartbeat", f)
	}
}

func TestHeartbeatsAreNotDispatched(t *testing.T) {
	var calls atomic.Int32
	received := make(chan struct{}, 1)
	h := HandlerFunc(func(ctx context.Context, c *Conn, f *protocol.Frame) error {
		calls.Add(1)
		received <- struct{}{}
		return nil
	})
	url, _ := startServer(t, h, testConfig())
	peer := dialRaw(t, url)
	peer.nextFrame()

	peer.send(encode(t,
		hello(protocol.ProtocolVersion),
		protocol.EncodeHeartbeatTo,
		protocol.EncodeHeartbeatTo,
		textFrame("after"),
	))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never dispatched")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestHandlerPanicDoesNotKillConnection(t *testing.T) {
	received := make(chan string, 2)
	h := HandlerFunc(func(ctx context.Context, c *Conn, f *protocol.Frame) error {
		u, _ := f.Get(tagText)
		if u.Value == "boom" {
			panic("handler exploded")
		}
		received <- u.Value.(string)
		return nil
	})
	url, conns := startServer(t, h, testConfig())
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()

	peer.send(encode(t, hello(protocol.ProtocolVersion), textFrame("boom"), textFrame("ok")))

	select {
	case s := <-received:
		if s != "ok" {
			t.Errorf("received %q, want %q", s, "ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame after panic never dispatched")
	}
	if server.IsClosed() {
		t.Error("connection closed after handler panic")
	}
}

func TestPeerErrorFrameCloses(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()

	peer.send(encode(t,
		hello(protocol.ProtocolVersion),
		func(e *protocol.Encoder) error {
			return protocol.EncodeErrorMessageTo(e, &protocol.ErrorMessage{
				Code:    protocol.CodeServerError,
				Message: "client gave up",
			})
		},
	))

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close after peer error")
	}
	if !errors.Is(server.Err(), ErrPeerError) {
		t.Errorf("server Err() = %v, want ErrPeerError", server.Err())
	}
	var em *protocol.ErrorMessage
	if !errors.As(server.Err(), &em) || em.Message != "client gave up" {
		t.Errorf("server Err() = %v, want wrapped peer message", server.Err())
	}
}

func TestSendAfterClose(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	dialRaw(t, url)
	server := waitConn(t, conns)

	server.Close()
	server.Close()

	if err := server.Send(textFrame("late")); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Send() after Close = %v, want ErrConnClosed", err)
	}
	if err := server.Flush(); !errors.Is(err, ErrConnClosed) {
		t.Errorf("Flush() after Close = %v, want ErrConnClosed", err)
	}
	if server.Err() != nil {
		t.Errorf("Err() after local Close = %v, want nil", server.Err())
	}
}

func TestShutdownDrains(t *testing.T) {
	url, conns := startServer(t, nil, testConfig().WithFlush(testConfig().Flush.WithFlushTimeout(0)))
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()

	if err := server.Send(textFrame("last words")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	f := peer.nextFrame()
	if f == nil {
		t.Fatal("frame lost on shutdown")
	}
	if u, ok := f.Get(tagText); !ok || u.Value != "last words" {
		t.Errorf("frame = %v, want last words", f.Units)
	}
}

func TestSendEncodeErrorCommitsNothing(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	dialRaw(t, url)
	server := waitConn(t, conns)
	before := server.Stats().Bytes

	err := server.Send(func(e *protocol.Encoder) error {
		return e.Write(tagCount, "not an int")
	})
	if !errors.Is(err, protocol.ErrUnsupportedValue) {
		t.Errorf("Send() = %v, want ErrUnsupportedValue", err)
	}
	if after := server.Stats().Bytes; after != before {
		t.Errorf("Stats().Bytes = %d, want %d", after, before)
	}
}

func TestConfigClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.WithReadTimeout(time.Second).WithWriteTimeout(2 * time.Second)

	if cfg.ReadTimeout != 60*time.Second {
		t.Errorf("original ReadTimeout changed to %v", cfg.ReadTimeout)
	}
	if clone.ReadTimeout != time.Second || clone.WriteTimeout != 2*time.Second {
		t.Errorf("clone = %+v", clone)
	}
	if clone.Flush == cfg.Flush {
		t.Error("Clone() shares the flush config")
	}
	var nilCfg *Config
	if nilCfg.Clone() != nil {
		t.Error("nil Clone() should be nil")
	}
}

func TestConnError(t *testing.T) {
	err := &ConnError{ConnID: "abc", Op: "read", Err: io.EOF}
	if got, want := err.Error(), "socket: conn abc: read: EOF"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, io.EOF) {
		t.Error("ConnError should unwrap")
	}
	anon := &ConnError{Op: "dial", Err: io.EOF}
	if got, want := anon.Error(), "socket: dial: EOF"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSilentPeerHitsReadTimeout(t *testing.T) {
	url, conns := startServer(t, nil, testConfig().WithReadTimeout(200*time.Millisecond))
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()
	peer.send(encode(t, hello(protocol.ProtocolVersion)))

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close a silent peer")
	}
	err := server.Err()
	if err == nil {
		t.Fatal("Err() = nil after a read timeout, want the timeout")
	}
	var ce *ConnError
	if !errors.As(err, &ce) || ce.Op != "read" {
		t.Errorf("Err() = %v, want read ConnError", err)
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("Err() = %v, want a timeout", err)
	}
}

func TestPeerCloseIsReported(t *testing.T) {
	url, conns := startServer(t, nil, testConfig())
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()
	peer.send(encode(t, hello(protocol.ProtocolVersion)))

	peer.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))

	select {
	case <-server.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close after the peer did")
	}
	var closeErr *websocket.CloseError
	if !errors.As(server.Err(), &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("server Err() = %v, want the peer's close", server.Err())
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	cfg := (&Config{}).normalize()
	def := DefaultConfig()
	if cfg.ReadTimeout != def.ReadTimeout ||
		cfg.WriteTimeout != def.WriteTimeout ||
		cfg.HandshakeTimeout != def.HandshakeTimeout {
		t.Errorf("normalize() timeouts = %v/%v/%v", cfg.ReadTimeout, cfg.WriteTimeout, cfg.HandshakeTimeout)
	}
	if cfg.HeartbeatInterval != 0 {
		t.Errorf("HeartbeatInterval = %v, want 0 (disabled)", cfg.HeartbeatInterval)
	}
	if cfg.Flush == nil {
		t.Error("normalize() left Flush nil")
	}
	var nilCfg *Config
	if nilCfg.normalize() == nil {
		t.Error("nil normalize() should return defaults")
	}

	url, conns := startServer(t, nil, &Config{})
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	if f := peer.nextFrame(); f == nil {
		t.Fatal("no handshake written with a zero WriteTimeout")
	}
	peer.send(encode(t, hello(protocol.ProtocolVersion)))

	if err := server.SendNow(textFrame("still open")); err != nil {
		t.Fatalf("SendNow() error: %v", err)
	}
	f := peer.nextFrame()
	if f == nil {
		t.Fatal("server closed with a zero config")
	}
	if u, ok := f.Get(tagText); !ok || u.Value != "still open" {
		t.Errorf("frame = %v, want text", f.Units)
	}
	if server.IsClosed() {
		t.Errorf("connection closed: %v", server.Err())
	}
}

func TestConnectionSpanRecordsChunks(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := telemetry.NewTracer(telemetry.WithTracerProvider(tp))

	url, conns := startServer(t, nil, testConfig(), WithTracer(tracer))
	peer := dialRaw(t, url)
	server := waitConn(t, conns)
	peer.nextFrame()
	peer.send(encode(t, hello(protocol.ProtocolVersion)))

	if err := server.SendNow(textFrame("traced")); err != nil {
		t.Fatalf("SendNow() error: %v", err)
	}
	if f := peer.nextFrame(); f == nil {
		t.Fatal("traced frame not delivered")
	}
	server.Close()

	var span sdktrace.ReadOnlySpan
	deadline := time.Now().Add(2 * time.Second)
	for span == nil {
		for _, s := range sr.Ended() {
			if s.Name() == "uiwire.connection" {
				span = s
			}
		}
		if span == nil {
			if time.Now().After(deadline) {
				t.Fatal("connection span never ended")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	chunks := 0
	for _, ev := range span.Events() {
		if ev.Name != "chunk" {
			continue
		}
		chunks++
		for _, kv := range ev.Attributes {
			if kv.Key == "uiwire.chunk_bytes" && kv.Value.AsInt64() <= 0 {
				t.Errorf("chunk event with %d bytes", kv.Value.AsInt64())
			}
		}
	}
	if chunks < 2 {
		t.Errorf("connection span has %d chunk events, want hello and text", chunks)
	}
}
