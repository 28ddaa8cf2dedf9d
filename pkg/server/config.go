package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-dev/uiwire/pkg/capture"
	"github.com/vango-dev/uiwire/pkg/socket"
)

// Config configures the HTTP side of a uiwire server.
type Config struct {
	// Address is the TCP address to listen on.
	// Default: ":8080"
	Address string

	// Path is the WebSocket endpoint.
	// Default: "/ws"
	Path string

	// MetricsPath serves Prometheus metrics. Empty disables the endpoint.
	// Default: "/metrics"
	MetricsPath string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096
	WriteBufferSize int

	// CheckOrigin validates the Origin header on upgrade.
	// Default: SameOriginCheck
	CheckOrigin func(r *http.Request) bool

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10s
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration

	// MaxConnections limits concurrent connections. Upgrades beyond the
	// limit are refused with 503.
	// Default: 0 (unlimited)
	MaxConnections int

	// Conn is applied to every accepted connection.
	// Default: socket.DefaultConfig()
	Conn *socket.Config

	// Capture records every connection when set.
	// Default: nil
	Capture capture.Store

	// CaptureMaxSize bounds one in-memory capture in bytes.
	// Default: 0 (unlimited)
	CaptureMaxSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		Path:              "/ws",
		MetricsPath:       "/metrics",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		Conn:              socket.DefaultConfig(),
	}
}

// SameOriginCheck validates that the WebSocket request origin matches the
// host. Requests without an Origin header are not from a browser and pass.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}

// AllowOrigins returns a CheckOrigin that accepts same-origin requests and
// the listed origins. Origins compare case-insensitively as scheme://host.
func AllowOrigins(origins ...string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		if SameOriginCheck(r) {
			return true
		}
		return allowed[strings.ToLower(r.Header.Get("Origin"))]
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Conn = c.Conn.Clone()
	return &clone
}

// WithAddress returns a copy with the address set.
func (c *Config) WithAddress(addr string) *Config {
	clone := c.Clone()
	clone.Address = addr
	return clone
}

// WithConn returns a copy with the per-connection config set.
func (c *Config) WithConn(sc *socket.Config) *Config {
	clone := c.Clone()
	clone.Conn = sc
	return clone
}

// WithCapture returns a copy that records connections into store.
func (c *Config) WithCapture(store capture.Store, maxSize int) *Config {
	clone := c.Clone()
	clone.Capture = store
	clone.CaptureMaxSize = maxSize
	return clone
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		return ErrInvalidPath
	}
	if c.MetricsPath != "" && (c.MetricsPath == c.Path || !strings.HasPrefix(c.MetricsPath, "/")) {
		return ErrInvalidPath
	}
	if c.MaxConnections < 0 {
		return ErrInvalidConfig
	}
	return nil
}
