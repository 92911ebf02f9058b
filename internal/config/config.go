// Package config manages qperf's ambient process configuration using
// koanf/v2: logging, the metrics endpoint, and the control-channel
// defaults. Per-test parameters (message size, rate, duration, and so on)
// are negotiated over the control channel by internal/params and never
// live here.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"qperf/internal/control"
)

// Config holds qperf's ambient process configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Control ControlConfig `koanf:"control"`
	Sysfs   SysfsConfig   `koanf:"sysfs"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g.,
	// ":9100"). Empty disables the endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// ControlConfig holds defaults for the client/server control channel.
type ControlConfig struct {
	// Port is the default TCP control-channel port (spec.md Section 6).
	Port int `koanf:"port"`
}

// SysfsConfig overrides the /proc paths internal/sockdrv reads to resolve
// AF_RDS/AF_SDP on kernels whose headers don't define them (spec.md
// Section 6: "Optional AF_RDS override ... when the kernel headers do not
// define AF_RDS").
type SysfsConfig struct {
	RDSProcPath string `koanf:"rds_proc_path"`
	SDPProcPath string `koanf:"sdp_proc_path"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
		Control: ControlConfig{
			Port: control.DefaultPort,
		},
		Sysfs: SysfsConfig{
			RDSProcPath: "/proc/sys/net/rds/pf_rds",
			SDPProcPath: "/proc/sys/net/sdp/sdp_autobind",
		},
	}
}

// envPrefix is the environment variable prefix for qperf configuration.
// Variables are named QPERF_<section>_<key>, e.g., QPERF_CONTROL_PORT.
const envPrefix = "QPERF_"

// Load reads configuration from a YAML file at path (if it exists),
// overlays environment variable overrides (QPERF_ prefix), and merges on
// top of DefaultConfig(). An empty path skips the file layer entirely.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	// Environment values always arrive as strings (e.g. QPERF_CONTROL_PORT=
	// "20000"), so the decoder needs weak typing to land them on int fields.
	uc := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}
	if err := k.UnmarshalWithConf("", cfg, uc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms QPERF_CONTROL_PORT -> control.port. Strips the
// QPERF_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"control.port":        defaults.Control.Port,
		"sysfs.rds_proc_path": defaults.Sysfs.RDSProcPath,
		"sysfs.sdp_proc_path": defaults.Sysfs.SDPProcPath,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrInvalidControlPort = errors.New("control.port must be between 1 and 65535")
	ErrEmptyLogLevel      = errors.New("log.level must not be empty")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Control.Port <= 0 || cfg.Control.Port > 65535 {
		return ErrInvalidControlPort
	}
	if cfg.Log.Level == "" {
		return ErrEmptyLogLevel
	}
	return nil
}

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
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
