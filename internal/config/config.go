package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/uiwire/internal/errors"
	"github.com/vango-dev/uiwire/pkg/capture"
	"github.com/vango-dev/uiwire/pkg/flush"
	"github.com/vango-dev/uiwire/pkg/protocol"
	"github.com/vango-dev/uiwire/pkg/server"
	"github.com/vango-dev/uiwire/pkg/socket"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "uiwire.json"

	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"

	// DefaultPath is the default WebSocket endpoint.
	DefaultPath = "/ws"

	// DefaultMetricsPath is the default Prometheus endpoint.
	DefaultMetricsPath = "/metrics"

	// DefaultCaptureDir is the default directory of the disk capture store.
	DefaultCaptureDir = "captures"
)

// Duration is a time.Duration written as a string ("25ms") in JSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config represents the complete uiwire.json configuration.
type Config struct {
	// Server contains HTTP server configuration.
	Server ServerConfig `json:"server"`

	// Connection contains per-connection timeouts and limits.
	Connection ConnectionConfig `json:"connection"`

	// Flush contains outbound pipeline configuration.
	Flush FlushConfig `json:"flush"`

	// Limits contains decoder limits.
	Limits LimitsConfig `json:"limits"`

	// Capture contains stream recording configuration.
	Capture CaptureConfig `json:"capture"`

	// Telemetry contains metrics and tracing configuration.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Log contains logging configuration.
	Log LogConfig `json:"log"`

	// Dictionary lists the application tags. The reserved protocol tags
	// are always present and must not be listed.
	Dictionary []DictionaryEntry `json:"dictionary,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `json:"addr,omitempty"`

	// Path is the WebSocket endpoint.
	Path string `json:"path,omitempty"`

	// MetricsPath is the Prometheus endpoint. "-" disables it.
	MetricsPath string `json:"metricsPath,omitempty"`

	// AllowedOrigins lists origins accepted on upgrade. Empty allows
	// same-origin requests only.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `json:"shutdownTimeout,omitempty"`

	// MaxConnections limits concurrent connections (0 = unlimited).
	MaxConnections int `json:"maxConnections,omitempty"`
}

// ConnectionConfig contains per-connection settings.
type ConnectionConfig struct {
	ReadTimeout       Duration `json:"readTimeout,omitempty"`
	WriteTimeout      Duration `json:"writeTimeout,omitempty"`
	HandshakeTimeout  Duration `json:"handshakeTimeout,omitempty"`
	HeartbeatInterval Duration `json:"heartbeatInterval,omitempty"`
	MaxMessageSize    int64    `json:"maxMessageSize,omitempty"`
}

// FlushConfig contains outbound pipeline settings.
type FlushConfig struct {
	// BufferSize is the buffered byte count that triggers a flush.
	BufferSize int `json:"bufferSize,omitempty"`

	// MaxChunkSize bounds one transport write.
	MaxChunkSize int `json:"maxChunkSize,omitempty"`

	// Timeout flushes a partly filled buffer. "0s" disables it.
	Timeout *Duration `json:"timeout,omitempty"`
}

// LimitsConfig contains decoder limits.
type LimitsConfig struct {
	// MaxAllocation is the largest string or JSON payload accepted.
	MaxAllocation int `json:"maxAllocation,omitempty"`
}

// CaptureConfig contains stream recording settings.
type CaptureConfig struct {
	// Enabled records every connection.
	Enabled bool `json:"enabled,omitempty"`

	// Backend is "disk" or "s3".
	Backend string `json:"backend,omitempty"`

	// Dir is the disk store directory, relative to the config file.
	Dir string `json:"dir,omitempty"`

	// Bucket, Prefix, Region, Endpoint and PathStyle configure the s3
	// backend.
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"pathStyle,omitempty"`

	// MaxSize bounds one capture in bytes.
	MaxSize int64 `json:"maxSize,omitempty"`

	// Retention is how long captures are kept.
	Retention Duration `json:"retention,omitempty"`
}

// TelemetryConfig contains metrics and tracing settings.
type TelemetryConfig struct {
	// Namespace prefixes every metric name.
	Namespace string `json:"namespace,omitempty"`

	// Tracing enables OpenTelemetry spans.
	Tracing bool `json:"tracing,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// DictionaryEntry binds an application tag to its kind.
type DictionaryEntry struct {
	Tag        uint8  `json:"tag"`
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	sc := socket.DefaultConfig()
	fc := flush.DefaultConfig()
	timeout := Duration(fc.FlushTimeout)
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			Path:            DefaultPath,
			MetricsPath:     DefaultMetricsPath,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Connection: ConnectionConfig{
			ReadTimeout:       Duration(sc.ReadTimeout),
			WriteTimeout:      Duration(sc.WriteTimeout),
			HandshakeTimeout:  Duration(sc.HandshakeTimeout),
			HeartbeatInterval: Duration(sc.HeartbeatInterval),
			MaxMessageSize:    sc.MaxMessageSize,
		},
		Flush: FlushConfig{
			BufferSize:   fc.BufferSize,
			MaxChunkSize: fc.MaxChunkSize,
			Timeout:      &timeout,
		},
		Limits: LimitsConfig{
			MaxAllocation: protocol.DefaultMaxAllocation,
		},
		Capture: CaptureConfig{
			Backend:   "disk",
			Dir:       DefaultCaptureDir,
			Prefix:    "captures/",
			MaxSize:   16 << 20,
			Retention: Duration(7 * 24 * time.Hour),
		},
		Telemetry: TelemetryConfig{
			Namespace: "uiwire",
			Tracing:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the specified directory.
// It looks for uiwire.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("U001").
				WithDetail("No uiwire.json found at " + path)
		}
		return nil, errors.New("U002").Wrap(err)
	}

	cfg := New()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, parseError(path, data, err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseError points a JSON decode error at its position in the file.
func parseError(path string, data []byte, err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case stderrors.As(err, &syntaxErr):
		return errors.New("U002").
			WithOffset(path, data, syntaxErr.Offset).
			WithSuggestion("Check that uiwire.json is valid JSON").
			Wrap(err)
	case stderrors.As(err, &typeErr):
		return errors.New("U003").
			WithOffset(path, data, typeErr.Offset).
			WithDetail(fmt.Sprintf("Field %q must be of type %s.", typeErr.Field, typeErr.Type)).
			Wrap(err)
	default:
		return errors.New("U003").Wrap(err)
	}
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.CategoryConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New("U003").Wrap(err)
	}

	// Add newline at end of file
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New("U003").Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	def := New()

	// Server
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.Path == "" {
		c.Server.Path = def.Server.Path
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = def.Server.MetricsPath
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}

	// Connection
	if c.Connection.ReadTimeout == 0 {
		c.Connection.ReadTimeout = def.Connection.ReadTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = def.Connection.WriteTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = def.Connection.HandshakeTimeout
	}
	if c.Connection.MaxMessageSize == 0 {
		c.Connection.MaxMessageSize = def.Connection.MaxMessageSize
	}

	// Flush; a zero timeout is meaningful, only a missing one is defaulted.
	if c.Flush.BufferSize == 0 {
		c.Flush.BufferSize = def.Flush.BufferSize
	}
	if c.Flush.MaxChunkSize == 0 {
		c.Flush.MaxChunkSize = def.Flush.MaxChunkSize
	}
	if c.Flush.Timeout == nil {
		c.Flush.Timeout = def.Flush.Timeout
	}

	// Limits
	if c.Limits.MaxAllocation == 0 {
		c.Limits.MaxAllocation = def.Limits.MaxAllocation
	}

	// Capture
	if c.Capture.Backend == "" {
		c.Capture.Backend = def.Capture.Backend
	}
	if c.Capture.Dir == "" {
		c.Capture.Dir = def.Capture.Dir
	}
	if c.Capture.MaxSize == 0 {
		c.Capture.MaxSize = def.Capture.MaxSize
	}
	if c.Capture.Retention == 0 {
		c.Capture.Retention = def.Capture.Retention
	}

	// Telemetry and logging
	if c.Telemetry.Namespace == "" {
		c.Telemetry.Namespace = def.Telemetry.Namespace
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.Path, "/") {
		return errors.New("U003").
			WithDetail("server.path must start with '/'")
	}
	if mp := c.Server.MetricsPath; mp != "-" && (!strings.HasPrefix(mp, "/") || mp == c.Server.Path) {
		return errors.New("U003").
			WithDetail("server.metricsPath must start with '/' and differ from server.path, or be \"-\"")
	}
	if c.Flush.BufferSize < 0 || c.Flush.MaxChunkSize < 0 {
		return errors.New("U003").
			WithDetail("flush.bufferSize and flush.maxChunkSize must not be negative")
	}
	if c.Flush.Timeout != nil && *c.Flush.Timeout < 0 {
		return errors.New("U003").
			WithDetail("flush.timeout must not be negative")
	}
	if c.Limits.MaxAllocation < 0 || c.Limits.MaxAllocation > protocol.HardMaxAllocation {
		return errors.New("U003").
			WithDetail(fmt.Sprintf("limits.maxAllocation must be between 0 and %d", protocol.HardMaxAllocation))
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("U003").
			WithDetail("server.maxConnections must not be negative")
	}
	switch c.Capture.Backend {
	case "disk":
	case "s3":
		if c.Capture.Enabled && c.Capture.Bucket == "" {
			return errors.New("U003").
				WithDetail("capture.bucket is required for the s3 backend")
		}
	default:
		return errors.New("U003").
			WithDetail(fmt.Sprintf("capture.backend must be \"disk\" or \"s3\", got %q", c.Capture.Backend))
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("U003").
			WithDetail(fmt.Sprintf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}
	if _, err := c.BuildDictionary(); err != nil {
		return err
	}
	return nil
}

// BuildDictionary builds the protocol dictionary from the configured
// entries.
func (c *Config) BuildDictionary() (*protocol.Dictionary, error) {
	entries := make([]protocol.Entry, 0, len(c.Dictionary))
	for i, de := range c.Dictionary {
		kind, err := protocol.ParseKind(de.Kind)
		if err != nil {
			return nil, errors.New("U004").
				WithDetail(fmt.Sprintf("dictionary[%d] (tag %d): unknown kind %q", i, de.Tag, de.Kind)).
				Wrap(err)
		}
		entries = append(entries, protocol.Entry{
			Tag:        protocol.Tag(de.Tag),
			Kind:       kind,
			Name:       de.Name,
			Compressed: de.Compressed,
		})
	}
	dict, err := protocol.NewDictionary(entries...)
	if err != nil {
		return nil, errors.New("U004").Wrap(err)
	}
	return dict, nil
}

// SocketConfig returns the per-connection configuration.
func (c *Config) SocketConfig() *socket.Config {
	fc := flush.DefaultConfig().
		WithBufferSize(c.Flush.BufferSize).
		WithMaxChunkSize(c.Flush.MaxChunkSize)
	if c.Flush.Timeout != nil {
		fc = fc.WithFlushTimeout(time.Duration(*c.Flush.Timeout))
	}

	sc := socket.DefaultConfig().WithFlush(fc)
	sc.ReadTimeout = time.Duration(c.Connection.ReadTimeout)
	sc.WriteTimeout = time.Duration(c.Connection.WriteTimeout)
	sc.HandshakeTimeout = time.Duration(c.Connection.HandshakeTimeout)
	sc.HeartbeatInterval = time.Duration(c.Connection.HeartbeatInterval)
	sc.MaxMessageSize = c.Connection.MaxMessageSize
	sc.MaxAllocation = c.Limits.MaxAllocation
	return sc
}

// ServerConfig returns the HTTP server configuration. When capture is
// enabled the store is opened and attached.
func (c *Config) ServerConfig() (*server.Config, error) {
	sc := server.DefaultConfig().WithConn(c.SocketConfig())
	sc.Address = c.Server.Addr
	sc.Path = c.Server.Path
	sc.MetricsPath = c.Server.MetricsPath
	if sc.MetricsPath == "-" {
		sc.MetricsPath = ""
	}
	if len(c.Server.AllowedOrigins) > 0 {
		sc.CheckOrigin = server.AllowOrigins(c.Server.AllowedOrigins...)
	}
	sc.ShutdownTimeout = time.Duration(c.Server.ShutdownTimeout)
	sc.MaxConnections = c.Server.MaxConnections

	if c.Capture.Enabled {
		store, err := c.CaptureStore()
		if err != nil {
			return nil, err
		}
		sc.Capture = store
		sc.CaptureMaxSize = int(c.Capture.MaxSize)
	}
	return sc, nil
}

// CaptureStore opens the configured capture store.
func (c *Config) CaptureStore() (capture.Store, error) {
	switch c.Capture.Backend {
	case "s3":
		client := capture.NewS3Client(capture.S3Options{
			Region:    c.Capture.Region,
			Endpoint:  c.Capture.Endpoint,
			PathStyle: c.Capture.PathStyle,
		})
		return capture.NewS3Store(client, c.Capture.Bucket, c.Capture.Prefix, c.Capture.MaxSize), nil
	default:
		store, err := capture.NewDiskStore(c.CaptureDir(), c.Capture.MaxSize)
		if err != nil {
			return nil, errors.New("U042").Wrap(err)
		}
		return store, nil
	}
}

// CaptureDir returns the absolute path of the disk capture store.
func (c *Config) CaptureDir() string {
	if filepath.IsAbs(c.Capture.Dir) {
		return c.Capture.Dir
	}
	return filepath.Join(c.Dir(), c.Capture.Dir)
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, errors.New("U003").
			WithDetail(fmt.Sprintf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return level, nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing uiwire.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("U001").
				WithDetail("No uiwire.json found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the current working directory
// or the nearest parent containing uiwire.json.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		return nil, err
	}

	return Load(root)
}
