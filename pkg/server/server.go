package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/uiwire/pkg/capture"
	"github.com/vango-dev/uiwire/pkg/protocol"
	"github.com/vango-dev/uiwire/pkg/socket"
	"github.com/vango-dev/uiwire/pkg/telemetry"
)

// captureSaveTimeout bounds saving one capture after its connection closed.
const captureSaveTimeout = 30 * time.Second

// Server accepts uiwire connections over WebSocket and tracks them until
// they close.
type Server struct {
	config   *Config
	dict     *protocol.Dictionary
	handler  socket.Handler
	upgrader websocket.Upgrader
	router   chi.Router
	logger   *slog.Logger

	registry   *prometheus.Registry
	metricOpts []telemetry.MetricsOption
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer

	mu       sync.Mutex
	conns    map[string]*socket.Conn
	reserved int
	closing  bool
	wg       sync.WaitGroup

	baseCtx    context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Connections log through it too.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTracer opens spans for every connection.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithRegistry registers the server's collectors in reg instead of a
// private registry. opts configure the wire metrics.
func WithRegistry(reg *prometheus.Registry, opts ...telemetry.MetricsOption) Option {
	return func(s *Server) {
		s.registry = reg
		s.metricOpts = opts
	}
}

// New creates a server that decodes with dict and dispatches inbound frames
// to h.
func New(dict *protocol.Dictionary, h socket.Handler, cfg *Config, opts ...Option) (*Server, error) {
	if dict == nil {
		return nil, ErrNoDictionary
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	if cfg.Conn == nil {
		cfg.Conn = socket.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = SameOriginCheck
	}

	s := &Server{
		config:  cfg,
		dict:    dict,
		handler: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.Conn.HandshakeTimeout,
			CheckOrigin:      checkOrigin,
		},
		logger: slog.Default(),
		conns:  make(map[string]*socket.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = telemetry.NewMetrics(append(s.metricOpts, telemetry.WithRegistry(s.registry))...)
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/debug/connections", s.handleConnections)
	r.Get(s.config.Path, s.handleWebSocket)
	if s.config.MetricsPath != "" {
		r.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleWebSocket upgrades the request and runs the connection until it
// closes. The request goroutine is held for the connection's lifetime.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := s.reserve(); err != nil {
		s.logger.Warn("connection refused", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release()
		s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	id := socket.NewID()
	opts := []socket.Option{
		socket.WithID(id),
		socket.WithLogger(s.logger),
		socket.WithMetrics(s.metrics),
		socket.WithTracer(s.tracer),
		socket.WithOnClose(s.remove),
	}
	var rec *capture.Recorder
	if s.config.Capture != nil {
		rec = capture.NewRecorder(captureName(id), s.config.Capture, s.config.CaptureMaxSize, s.logger)
		opts = append(opts, socket.WithTap(rec))
	}

	conn := socket.New(ws, s.dict, s.handler, s.config.Conn, opts...)
	if !s.add(conn) {
		conn.Close()
		return
	}
	defer s.wg.Done()

	if err := conn.Run(s.baseCtx); err != nil {
		s.logger.Debug("connection ended", "conn_id", id, "error", err)
	}

	if rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), captureSaveTimeout)
		if err := rec.Close(ctx); err != nil {
			s.logger.Error("capture save failed", "conn_id", id, "capture", rec.Name(), "error", err)
		}
		cancel()
	}
}

// captureName names a connection's capture so that names sort by start
// time.
func captureName(id string) string {
	return time.Now().UTC().Format("20060102T150405Z") + "-" + id
}

// reserve claims a connection slot before the upgrade.
func (s *Server) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ErrServerClosed
	}
	if s.config.MaxConnections > 0 && s.reserved >= s.config.MaxConnections {
		return ErrMaxConnections
	}
	s.reserved++
	return nil
}

func (s *Server) release() {
	s.mu.Lock()
	s.reserved--
	s.mu.Unlock()
}

// add registers conn in its reserved slot. It fails if the server started
// shutting down after the slot was reserved.
func (s *Server) add(conn *socket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		s.reserved--
		return false
	}
	s.conns[conn.ID] = conn
	s.wg.Add(1)
	return true
}

// remove runs once per connection when it closes.
func (s *Server) remove(conn *socket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn.ID]; ok {
		delete(s.conns, conn.ID)
		s.reserved--
	}
}

// Count returns the number of open connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Conn returns the open connection with the given ID.
func (s *Server) Conn(id string) (*socket.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[id]
	return c, ok
}

// Connections returns the open connections ordered by ID.
func (s *Server) Connections() []*socket.Conn {
	s.mu.Lock()
	conns := make([]*socket.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns
}

// Broadcast sends a frame encoded by fn to every open connection and
// flushes it. It returns how many connections accepted the frame.
func (s *Server) Broadcast(fn func(*protocol.Encoder) error) int {
	sent := 0
	for _, c := range s.Connections() {
		if err := c.SendNow(fn); err != nil {
			s.logger.Debug("broadcast skipped connection", "conn_id", c.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// Registry returns the Prometheus registry the server reports into.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Config returns the server configuration.
func (s *Server) Config() *Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing, n := s.closing, len(s.conns)
	s.mu.Unlock()

	status, code := "ok", http.StatusOK
	if closing {
		status, code = "closing", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "connections": n})
}

type connInfo struct {
	ID          string     `json:"id"`
	RemoteAddr  string     `json:"remoteAddr"`
	PeerVersion uint8      `json:"peerVersion"`
	Stats       flushStats `json:"stats"`
}

type flushStats struct {
	Frames    uint64 `json:"frames"`
	Bytes     uint64 `json:"bytes"`
	BytesSent uint64 `json:"bytesSent"`
	Chunks    uint64 `json:"chunks"`
	Failures  uint64 `json:"failures"`
	Buffered  int    `json:"buffered"`
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	conns := s.Connections()
	infos := make([]connInfo, 0, len(conns))
	for _, c := range conns {
		st := c.Stats()
		infos = append(infos, connInfo{
			ID:          c.ID,
			RemoteAddr:  c.RemoteAddr(),
			PeerVersion: c.PeerVersion(),
			Stats: flushStats{
				Frames:    st.Frames,
				Bytes:     st.Bytes,
				BytesSent: st.BytesSent,
				Chunks:    st.Chunks,
				Failures:  st.Failures,
				Buffered:  st.Buffered,
			},
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Run starts the HTTP server and blocks until ctx is done, SIGINT or
// SIGTERM arrives, or the listener fails. It shuts down gracefully before
// returning.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address, "path", s.config.Path)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-shutdown:
		s.logger.Info("shutting down...")
	case <-ctx.Done():
		s.logger.Info("shutting down...", "reason", context.Cause(ctx))
	}
	return s.Shutdown(context.Background())
}

// Shutdown stops accepting connections, drains every open connection and
// waits for them to finish, bounded by ShutdownTimeout and ctx. Connections
// still open when the bound expires are closed without draining.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			firstErr = err
		}
	}

	var drains sync.WaitGroup
	for _, c := range s.Connections() {
		drains.Add(1)
		go func(c *socket.Conn) {
			defer drains.Done()
			if err := c.Shutdown(ctx); err != nil {
				s.logger.Debug("connection not drained", "conn_id", c.ID, "error", err)
			}
		}(c)
	}
	drains.Wait()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		for _, c := range s.Connections() {
			c.Close()
		}
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	s.cancel()

	s.logger.Info("server shutdown complete")
	return firstErr
}
