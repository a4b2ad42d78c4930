package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding the file configuration
const (
	EnvWebSocketURL = "TRANSLATAR_WS_URL"
	EnvJWTToken     = "TRANSLATAR_JWT_TOKEN"
	EnvSourceLang   = "TRANSLATAR_SOURCE_LANG"
	EnvTargetLang   = "TRANSLATAR_TARGET_LANG"
	EnvLogLevel     = "TRANSLATAR_LOG_LEVEL"
)

const redacted = "[redacted]"

// Config represents the complete client configuration
type Config struct {
	Client  ClientConfig  `yaml:"client" json:"client"`
	Audio   AudioConfig   `yaml:"audio" json:"audio"`
	HTTP    HTTPConfig    `yaml:"http" json:"http"`
	Backend BackendConfig `yaml:"backend" json:"backend"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ClientConfig contains the remote service connection settings
type ClientConfig struct {
	WebSocketURL     string  `yaml:"websocket_url" json:"websocket_url"`
	SourceLang       string  `yaml:"source_lang" json:"source_lang"`
	TargetLang       string  `yaml:"target_lang" json:"target_lang"`
	JWTToken         string  `yaml:"jwt_token" json:"jwt_token"`
	HandshakeTimeout float64 `yaml:"handshake_timeout" json:"handshake_timeout"` // seconds
	WriteTimeout     float64 `yaml:"write_timeout" json:"write_timeout"`         // seconds
	SendQueueSize    int     `yaml:"send_queue_size" json:"send_queue_size"`
}

// AudioConfig contains capture and chunking parameters
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate" json:"sample_rate"`
	Channels          int     `yaml:"channels" json:"channels"`
	ChunkDuration     float64 `yaml:"chunk_duration" json:"chunk_duration"`           // seconds
	Overlap           float64 `yaml:"overlap" json:"overlap"`                         // seconds
	MinChunkDuration  float64 `yaml:"min_chunk_duration" json:"min_chunk_duration"`   // seconds
	MaxBufferDuration float64 `yaml:"max_buffer_duration" json:"max_buffer_duration"` // seconds
	SilenceThreshold  float64 `yaml:"silence_threshold" json:"silence_threshold"`
	DeviceBlockMs     int     `yaml:"device_block_ms" json:"device_block_ms"`
	DeviceName        string  `yaml:"device_name" json:"device_name"`
}

// HTTPConfig contains HTTP status server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" json:"port"`
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// BackendConfig contains the development frame backend configuration
type BackendConfig struct {
	Port        int    `yaml:"port" json:"port"`
	Address     string `yaml:"address" json:"address"`
	Path        string `yaml:"path" json:"path"`
	RequireAuth bool   `yaml:"require_auth" json:"require_auth"`
}

// TracingConfig contains OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			WebSocketURL:     "ws://localhost:8000/ws",
			SourceLang:       "en",
			TargetLang:       "es",
			HandshakeTimeout: 10,
			WriteTimeout:     10,
			SendQueueSize:    16,
		},
		Audio: AudioConfig{
			SampleRate:        48000,
			Channels:          1,
			ChunkDuration:     8.0,
			Overlap:           1.0,
			MinChunkDuration:  2.0,
			MaxBufferDuration: 30.0,
			SilenceThreshold:  0.01,
			DeviceBlockMs:     20,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Backend: BackendConfig{
			Port:    8000,
			Address: "0.0.0.0",
			Path:    "/ws",
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			Endpoint:    "localhost:4317",
			SampleRate:  1.0,
			ServiceName: "translatar-client",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if not
// empty), the given env files (".env" when none are named) and the process
// environment, then validates it.
func Load(path string, envFiles ...string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadEnvFiles populates the environment from dotenv files without
// overriding variables that are already set. A missing default .env is ignored.
func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env files %v: %w", files, err)
	}
	return nil
}

// ApplyEnv overlays the TRANSLATAR_* environment variables
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvWebSocketURL); v != "" {
		c.Client.WebSocketURL = v
	}
	if v := os.Getenv(EnvJWTToken); v != "" {
		c.Client.JWTToken = v
	}
	if v := os.Getenv(EnvSourceLang); v != "" {
		c.Client.SourceLang = v
	}
	if v := os.Getenv(EnvTargetLang); v != "" {
		c.Client.TargetLang = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Redacted returns a copy safe to expose over the status API
func (c *Config) Redacted() Config {
	out := *c
	if out.Client.JWTToken != "" {
		out.Client.JWTToken = redacted
	}
	return out
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Client.Validate(); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the remote service connection settings
func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.WebSocketURL)
	if err != nil {
		return fmt.Errorf("websocket_url is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("websocket_url must use ws or wss, got '%s'", c.WebSocketURL)
	}
	if u.Host == "" {
		return fmt.Errorf("websocket_url must include a host, got '%s'", c.WebSocketURL)
	}

	if c.SourceLang == "" {
		return fmt.Errorf("source_lang cannot be empty")
	}

	if c.TargetLang == "" {
		return fmt.Errorf("target_lang cannot be empty")
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %f", c.HandshakeTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %f", c.WriteTimeout)
	}

	if c.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size must be at least 1, got %d", c.SendQueueSize)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.Overlap < 0 || a.Overlap >= a.ChunkDuration {
		return fmt.Errorf("overlap must be between 0 and chunk_duration (%f), got %f", a.ChunkDuration, a.Overlap)
	}

	if a.MinChunkDuration < 0 || a.MinChunkDuration > a.ChunkDuration {
		return fmt.Errorf("min_chunk_duration must be between 0 and chunk_duration (%f), got %f",
			a.ChunkDuration, a.MinChunkDuration)
	}

	if a.MaxBufferDuration < a.ChunkDuration+a.Overlap {
		return fmt.Errorf("max_buffer_duration (%f) must hold a chunk plus overlap (%f)",
			a.MaxBufferDuration, a.ChunkDuration+a.Overlap)
	}

	if a.SilenceThreshold < 0 || a.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", a.SilenceThreshold)
	}

	if a.DeviceBlockMs < 1 || a.DeviceBlockMs > 1000 {
		return fmt.Errorf("device_block_ms must be between 1 and 1000, got %d", a.DeviceBlockMs)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("backend port must be between 1 and 65535, got %d", b.Port)
	}

	if b.Address == "" {
		return fmt.Errorf("backend address cannot be empty")
	}

	if len(b.Path) == 0 || b.Path[0] != '/' {
		return fmt.Errorf("backend path must start with '/', got '%s'", b.Path)
	}

	return nil
}

// Validate validates tracing configuration
func (t *TracingConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	validExporters := map[string]bool{"stdout": true, "otlp": true, "none": true}
	if !validExporters[t.Exporter] {
		return fmt.Errorf("exporter must be one of [stdout, otlp, none], got '%s'", t.Exporter)
	}

	if t.Exporter == "otlp" && t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty for the otlp exporter")
	}

	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got %f", t.SampleRate)
	}

	if t.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout or stderr is treated as a file path.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetHandshakeTimeout returns the handshake timeout as a time.Duration
func (c *ClientConfig) GetHandshakeTimeout() time.Duration {
	return seconds(c.HandshakeTimeout)
}

// GetWriteTimeout returns the write timeout as a time.Duration
func (c *ClientConfig) GetWriteTimeout() time.Duration {
	return seconds(c.WriteTimeout)
}

// GetChunkDuration returns the chunk period as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return seconds(a.ChunkDuration)
}

// GetOverlap returns the chunk overlap as a time.Duration
func (a *AudioConfig) GetOverlap() time.Duration {
	return seconds(a.Overlap)
}

// GetMinChunkDuration returns the minimum new audio per tick as a time.Duration
func (a *AudioConfig) GetMinChunkDuration() time.Duration {
	return seconds(a.MinChunkDuration)
}

// GetMaxBufferDuration returns the capture buffer length as a time.Duration
func (a *AudioConfig) GetMaxBufferDuration() time.Duration {
	return seconds(a.MaxBufferDuration)
}

// GetBlockDuration returns the capture block length as a time.Duration
func (a *AudioConfig) GetBlockDuration() time.Duration {
	return time.Duration(a.DeviceBlockMs) * time.Millisecond
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
