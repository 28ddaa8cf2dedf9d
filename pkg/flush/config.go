package flush

import "time"

// Config holds configuration for a Pipeline.
type Config struct {
	// BufferSize is the number of buffered bytes that triggers a flush.
	// Default: 8KB.
	BufferSize int

	// MaxChunkSize is the largest payload handed to the transport in a
	// single write.
	// Default: 32KB.
	MaxChunkSize int

	// FlushTimeout bounds how long committed bytes wait in the buffer. The
	// deadline starts at the first byte after the buffer was empty and is not
	// pushed back by later writes. Zero disables the timer.
	// Default: 25ms.
	FlushTimeout time.Duration

	// OnFailure is called once, from the goroutine that observed the failed
	// write, before the transport is closed.
	OnFailure func(err error)

	// OnChunk is called after every transport write completes with the
	// chunk size, the write latency and the write result.
	OnChunk func(n int, elapsed time.Duration, err error)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BufferSize:   8 * 1024,
		MaxChunkSize: 32 * 1024,
		FlushTimeout: 25 * time.Millisecond,
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithBufferSize returns a copy with the flush threshold set.
func (c *Config) WithBufferSize(n int) *Config {
	clone := c.Clone()
	clone.BufferSize = n
	return clone
}

// WithMaxChunkSize returns a copy with the chunk limit set.
func (c *Config) WithMaxChunkSize(n int) *Config {
	clone := c.Clone()
	clone.MaxChunkSize = n
	return clone
}

// WithFlushTimeout returns a copy with the idle deadline set.
func (c *Config) WithFlushTimeout(d time.Duration) *Config {
	clone := c.Clone()
	clone.FlushTimeout = d
	return clone
}

// WithOnFailure returns a copy with the failure hook set.
func (c *Config) WithOnFailure(fn func(err error)) *Config {
	clone := c.Clone()
	clone.OnFailure = fn
	return clone
}

// WithOnChunk returns a copy with the per-write hook set.
func (c *Config) WithOnChunk(fn func(n int, elapsed time.Duration, err error)) *Config {
	clone := c.Clone()
	clone.OnChunk = fn
	return clone
}

// normalize fills zero values with defaults.
func (c *Config) normalize() *Config {
	out := c.Clone()
	if out == nil {
		out = DefaultConfig()
	}
	def := DefaultConfig()
	if out.BufferSize <= 0 {
		out.BufferSize = def.BufferSize
	}
	if out.MaxChunkSize <= 0 {
		out.MaxChunkSize = def.MaxChunkSize
	}
	if out.FlushTimeout < 0 {
		out.FlushTimeout = 0
	}
	return out
}
