package socket

import (
	"time"

	"github.com/vango-dev/uiwire/pkg/flush"
	"github.com/vango-dev/uiwire/pkg/protocol"
)

// Config holds configuration for individual connections.
type Config struct {
	// Timeouts

	// ReadTimeout is the maximum time to wait for a message from the peer.
	// Heartbeats keep an idle connection inside it.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when writing one chunk.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HandshakeTimeout is the maximum time for the version handshake.
	// Default: 10 seconds.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the time between heartbeat frames. Zero disables
	// heartbeats.
	// Default: 20 seconds.
	HeartbeatInterval time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 1MB.
	MaxMessageSize int64

	// MaxAllocation is the largest string or JSON payload accepted from the
	// peer.
	// Default: protocol.DefaultMaxAllocation.
	MaxAllocation int

	// Flush configures the outbound pipeline.
	// Default: flush.DefaultConfig().
	Flush *flush.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		MaxMessageSize:    1024 * 1024, // 1MB
		MaxAllocation:     protocol.DefaultMaxAllocation,
		Flush:             flush.DefaultConfig(),
	}
}

// Clone returns a deep copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Flush = c.Flush.Clone()
	return &clone
}

// WithReadTimeout returns a copy with the read timeout set.
func (c *Config) WithReadTimeout(d time.Duration) *Config {
	clone := c.Clone()
	clone.ReadTimeout = d
	return clone
}

// WithWriteTimeout returns a copy with the write timeout set.
func (c *Config) WithWriteTimeout(d time.Duration) *Config {
	clone := c.Clone()
	clone.WriteTimeout = d
	return clone
}

// WithHeartbeatInterval returns a copy with the heartbeat interval set.
func (c *Config) WithHeartbeatInterval(d time.Duration) *Config {
	clone := c.Clone()
	clone.HeartbeatInterval = d
	return clone
}

// WithFlush returns a copy with the pipeline configuration set.
func (c *Config) WithFlush(fc *flush.Config) *Config {
	clone := c.Clone()
	clone.Flush = fc.Clone()
	return clone
}

// normalize fills zero timeouts and a missing pipeline config with defaults.
// A zero deadline would expire immediately.
func (c *Config) normalize() *Config {
	out := c.Clone()
	if out == nil {
		out = DefaultConfig()
	}
	def := DefaultConfig()
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = def.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.HeartbeatInterval < 0 {
		out.HeartbeatInterval = 0
	}
	if out.Flush == nil {
		out.Flush = def.Flush
	}
	return out
}
