// Package config provides the configuration schema, loader and detector
// registry of the poise server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/poise/internal/vision"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration. Load it with [Load] or [LoadFromReader];
// fields absent from the file keep the values of [Default].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Analysis   vision.Config    `yaml:"analysis"`
	Recordings RecordingsConfig `yaml:"recordings"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the ingest API (e.g. ":8090").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown, including stopping every open
	// recording.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxFrameBytes caps a single uploaded or streamed frame.
	MaxFrameBytes int64 `yaml:"max_frame_bytes"`

	// TraceSampleRatio is the fraction of root spans sampled, in [0, 1].
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds PEM file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the face and pose detector backends. Either may be
// left empty, but not both.
type ProvidersConfig struct {
	Face ProviderEntry `yaml:"face"`
	Pose ProviderEntry `yaml:"pose"`

	// Breaker tunes the circuit breaker placed in front of every backend when
	// fallbacks are configured.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry configures one detector backend. Name selects the factory in
// the [Registry].
type ProviderEntry struct {
	Name    string        `yaml:"name"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// Options holds backend-specific values.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// IsZero reports whether no backend is configured.
func (e ProviderEntry) IsZero() bool {
	return e.Name == ""
}

// BreakerConfig mirrors the tunable parts of a circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// RecordingsConfig limits concurrent recordings.
type RecordingsConfig struct {
	// MaxConcurrent is the number of recordings that may be open at once.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// Default returns the configuration used for every field a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8090",
			LogLevel:         LogInfo,
			ShutdownTimeout:  15 * time.Second,
			MaxFrameBytes:    8 << 20,
			TraceSampleRatio: 1,
		},
		Analysis:   vision.DefaultConfig(),
		Recordings: RecordingsConfig{MaxConcurrent: 4},
	}
}
