// Package config manages isofep daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete isofep configuration.
type Config struct {
	Client  ClientConfig  `koanf:"client"`
	Server  ServerConfig  `koanf:"server"`
	Framer  FramerConfig  `koanf:"framer"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// ClientConfig holds the dual-channel client parameters.
type ClientConfig struct {
	// Mode is "dual" (separate send/receive sockets) or "unified" (one
	// socket for both directions).
	Mode string `koanf:"mode"`

	// FailureStrategy is "fail_when_both_down" or "fail_when_any_down".
	FailureStrategy string `koanf:"failure_strategy"`

	SendAddr          string `koanf:"send_addr"`
	SendBackupAddr    string `koanf:"send_backup_addr"`
	ReceiveAddr       string `koanf:"receive_addr"`
	ReceiveBackupAddr string `koanf:"receive_backup_addr"`
	UnifiedAddr       string `koanf:"unified_addr"`
	UnifiedBackupAddr string `koanf:"unified_backup_addr"`

	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	SignOnTimeout  time.Duration `koanf:"sign_on_timeout"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `koanf:"heartbeat_timeout"`

	ReconnectDelay       time.Duration `koanf:"reconnect_delay"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts"`

	// StrictClient closes the receive socket on a decode error instead
	// of logging and continuing.
	StrictClient bool `koanf:"strict"`
}

// ServerConfig holds the front-end-processor server parameters.
type ServerConfig struct {
	// Mode is "dual" or "unified", mirroring ClientConfig.Mode.
	Mode string `koanf:"mode"`

	ReceiveAddr string `koanf:"receive_addr"`
	SendAddr    string `koanf:"send_addr"`
	UnifiedAddr string `koanf:"unified_addr"`

	// ValidationErrorCode is the field-39 value returned when the
	// server's Validator callback rejects an inbound message.
	ValidationErrorCode string `koanf:"validation_error_code"`

	// ResponseDelay simulates processing latency before a response is
	// written (used primarily by the isofep-sim binary).
	ResponseDelay time.Duration `koanf:"response_delay"`

	// ResponseQueueCapacity bounds the server's single outbound
	// response queue, shared by all connections.
	ResponseQueueCapacity int `koanf:"response_queue_capacity"`

	// ResponseQueuePolicy is "drop_oldest", "drop_newest", or "block".
	ResponseQueuePolicy string `koanf:"response_queue_policy"`
}

// FramerConfig mirrors framer.Config for configuration-file purposes.
type FramerConfig struct {
	// LengthWidth is the size in bytes of the length prefix (1-4).
	LengthWidth int `koanf:"length_width"`

	// Encoding is "ascii", "bcd", or "binary".
	Encoding string `koanf:"encoding"`

	// LengthIncludesSelf reports whether the length header counts its
	// own bytes in the encoded value.
	LengthIncludesSelf bool `koanf:"length_includes_self"`

	MaxFrameSize int `koanf:"max_frame_size"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Mode:                 "dual",
			FailureStrategy:      "fail_when_both_down",
			ConnectTimeout:       5 * time.Second,
			ReadTimeout:          30 * time.Second,
			SignOnTimeout:        30 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			HeartbeatTimeout:     15 * time.Second,
			ReconnectDelay:       5 * time.Second,
			MaxReconnectAttempts: 10,
		},
		Server: ServerConfig{
			Mode:                  "dual",
			ValidationErrorCode:   "30",
			ResponseQueueCapacity: 256,
			ResponseQueuePolicy:   "drop_oldest",
		},
		Framer: FramerConfig{
			LengthWidth:        2,
			Encoding:           "ascii",
			LengthIncludesSelf: false,
			MaxFrameSize:       8192,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for isofep configuration.
// Variables are named ISOFEP_<section>_<key>, e.g., ISOFEP_CLIENT_SEND_ADDR.
const envPrefix = "ISOFEP_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (ISOFEP_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ISOFEP_CLIENT_SEND_ADDR -> client.send_addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"client.mode":                   defaults.Client.Mode,
		"client.failure_strategy":       defaults.Client.FailureStrategy,
		"client.connect_timeout":        defaults.Client.ConnectTimeout.String(),
		"client.read_timeout":           defaults.Client.ReadTimeout.String(),
		"client.sign_on_timeout":        defaults.Client.SignOnTimeout.String(),
		"client.heartbeat_interval":     defaults.Client.HeartbeatInterval.String(),
		"client.heartbeat_timeout":      defaults.Client.HeartbeatTimeout.String(),
		"client.reconnect_delay":        defaults.Client.ReconnectDelay.String(),
		"client.max_reconnect_attempts": defaults.Client.MaxReconnectAttempts,
		"server.mode":                   defaults.Server.Mode,
		"server.validation_error_code":  defaults.Server.ValidationErrorCode,
		"server.response_queue_capacity": defaults.Server.ResponseQueueCapacity,
		"server.response_queue_policy":  defaults.Server.ResponseQueuePolicy,
		"framer.length_width":           defaults.Framer.LengthWidth,
		"framer.encoding":               defaults.Framer.Encoding,
		"framer.length_includes_self":   defaults.Framer.LengthIncludesSelf,
		"framer.max_frame_size":         defaults.Framer.MaxFrameSize,
		"metrics.addr":                  defaults.Metrics.Addr,
		"metrics.path":                  defaults.Metrics.Path,
		"log.level":                     defaults.Log.Level,
		"log.format":                    defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	ErrInvalidClientMode        = errors.New("client.mode must be \"dual\" or \"unified\"")
	ErrInvalidServerMode        = errors.New("server.mode must be \"dual\" or \"unified\"")
	ErrUnsupportedFailureStrategy = errors.New("client.failure_strategy must be \"fail_when_both_down\" or \"fail_when_any_down\"")
	ErrInvalidFramerWidth       = errors.New("framer.length_width must be between 1 and 4")
	ErrInvalidFramerEncoding    = errors.New("framer.encoding must be \"ascii\", \"bcd\", or \"binary\"")
	ErrInvalidResponseQueuePolicy = errors.New("server.response_queue_policy must be \"drop_oldest\", \"drop_newest\", or \"block\"")
	ErrEmptyMetricsAddr         = errors.New("metrics.addr must not be empty")
)

// ValidModes lists recognized ClientConfig.Mode/ServerConfig.Mode
// values.
var ValidModes = map[string]bool{"dual": true, "unified": true}

// ValidFailureStrategies lists recognized ClientConfig.FailureStrategy
// values. "fallback_to_single" is deliberately absent: an unbounded
// recursive fallback is rejected at construction rather than supported.
var ValidFailureStrategies = map[string]bool{
	"fail_when_both_down": true,
	"fail_when_any_down":  true,
}

// ValidFramerEncodings lists recognized FramerConfig.Encoding values.
var ValidFramerEncodings = map[string]bool{"ascii": true, "bcd": true, "binary": true}

// ValidResponseQueuePolicies lists recognized
// ServerConfig.ResponseQueuePolicy values.
var ValidResponseQueuePolicies = map[string]bool{
	"drop_oldest": true,
	"drop_newest": true,
	"block":       true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if !ValidModes[cfg.Client.Mode] {
		return ErrInvalidClientMode
	}
	if !ValidFailureStrategies[cfg.Client.FailureStrategy] {
		return ErrUnsupportedFailureStrategy
	}
	if !ValidModes[cfg.Server.Mode] {
		return ErrInvalidServerMode
	}
	if cfg.Framer.LengthWidth < 1 || cfg.Framer.LengthWidth > 4 {
		return ErrInvalidFramerWidth
	}
	if !ValidFramerEncodings[cfg.Framer.Encoding] {
		return ErrInvalidFramerEncoding
	}
	if !ValidResponseQueuePolicies[cfg.Server.ResponseQueuePolicy] {
		return ErrInvalidResponseQueuePolicy
	}
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
