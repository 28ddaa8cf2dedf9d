package socket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Tap observes raw bytes crossing a connection. Implementations must not
// retain or modify b.
type Tap interface {
	Outbound(b []byte)
	Inbound(b []byte)
}

type writeRequest struct {
	b    []byte
	done func(error)
}

// wsTransport adapts a WebSocket connection to flush.Transport. Every chunk
// is written as one binary message by a dedicated writer goroutine, so
// completion callbacks never run on the caller's goroutine.
type wsTransport struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	tap          Tap

	// mu serializes data writes; gorilla allows one concurrent writer.
	mu sync.Mutex

	queue     chan writeRequest
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(ws *websocket.Conn, writeTimeout time.Duration, tap Tap) *wsTransport {
	t := &wsTransport{
		ws:           ws,
		writeTimeout: writeTimeout,
		tap:          tap,
		queue:        make(chan writeRequest, 1),
		done:         make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

// SendAsync queues b for the writer goroutine.
func (t *wsTransport) SendAsync(b []byte, done func(error)) {
	select {
	case t.queue <- writeRequest{b: b, done: done}:
	case <-t.done:
		done(ErrConnClosed)
	}
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case req := <-t.queue:
			req.done(t.write(req.b))
		case <-t.done:
			// Fail a request that raced with Close.
			select {
			case req := <-t.queue:
				req.done(ErrConnClosed)
			default:
			}
			return
		}
	}
}

func (t *wsTransport) write(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tap != nil {
		t.tap.Outbound(b)
	}
	t.ws.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.ws.WriteMessage(websocket.BinaryMessage, b)
}

// Close sends a close message and closes the socket. It is safe to call
// more than once.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = t.ws.Close()
	})
	return err
}
