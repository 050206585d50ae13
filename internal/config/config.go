// Package config loads, validates, and applies defaults to the server's
// static configuration: listen address, logging, metrics, telemetry, the
// admin HTTP server, and the export table itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/cloudnbd/internal/bytesize"
)

// Config is the complete static configuration for the cloudnbd server.
//
// Configuration sources, in precedence order:
//  1. Environment variables (CLOUDNBD_*), for keys the config file sets
//  2. Configuration file (YAML), named by --config or found as ./config.yaml
//  3. Default values (lowest priority), filled in by ApplyDefaults
//
// No CLI flag other than --config feeds into Config.
//
// The export table (Exports) is immutable once loaded: per spec.md §3, it
// is never hot-reloaded, even though logging level and metrics toggles are
// safe to pick up from a config file edit.
type Config struct {
	// Server controls the NBD listener.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus metrics endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry distributed tracing and Pyroscope
	// continuous profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Admin controls the chi-based healthz/metrics/status HTTP server.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`

	// Exports lists the named block devices this server exposes. At least
	// one is required.
	Exports []ExportConfig `mapstructure:"exports" validate:"required,min=1,dive" yaml:"exports"`

	// Remote configures HTTP client behavior shared by every seafile/s3
	// backed export (bearer token, retry ceiling).
	Remote RemoteConfig `mapstructure:"remote" yaml:"remote"`
}

// ServerConfig controls the NBD TCP listener.
type ServerConfig struct {
	// ListenAddress is the host:port the NBD server accepts connections on.
	ListenAddress string `mapstructure:"listen_address" validate:"required" yaml:"listen_address"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output encoding. Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig controls the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns metrics collection on or off. Zero overhead when false.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope profiling.
type TelemetryConfig struct {
	// Enabled turns on OTLP trace export.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure selects a non-TLS connection to the collector.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling configures continuous profiling via Pyroscope.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled turns on continuous profiling (opt-in).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profiles to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// AdminConfig controls the chi-based admin HTTP server (healthz/metrics/status).
type AdminConfig struct {
	// Enabled turns the admin HTTP server on or off.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddress is the host:port the admin server binds to.
	ListenAddress string `mapstructure:"listen_address" validate:"required" yaml:"listen_address"`
}

// ExportConfig describes one named block device this server exposes.
// Exactly one of the backend-specific fields should be populated, selected
// by Backend.
type ExportConfig struct {
	// Name is the NBD export name clients select with NBD_OPT_EXPORT_NAME.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Backend selects the provider implementation: "memory", "seafile", or "s3".
	Backend string `mapstructure:"backend" validate:"required,oneof=memory seafile s3" yaml:"backend"`

	// SizeBytes is the total exported size. Required for every backend.
	SizeBytes bytesize.ByteSize `mapstructure:"size" validate:"required" yaml:"size"`

	// BlockSizeBytes is the underlying provider's block granularity.
	// Defaults to 4096 when zero.
	BlockSizeBytes bytesize.ByteSize `mapstructure:"block_size" yaml:"block_size,omitempty"`

	// CacheCapacityBlocks is the number of blocks the LRU write-back cache
	// keeps resident for this export. ApplyDefaults replaces zero with the
	// default (256), so every export loaded through Load is cached.
	CacheCapacityBlocks int `mapstructure:"cache_capacity_blocks" validate:"omitempty,min=0" yaml:"cache_capacity_blocks,omitempty"`

	// JournalPath, when set and CacheCapacityBlocks > 0, durably records
	// dirty blocks to a BadgerDB-backed write-ahead journal at this
	// directory before they are acknowledged, and replays any unflushed
	// blocks back into the cache at startup. Empty disables journaling.
	JournalPath string `mapstructure:"journal_path" yaml:"journal_path,omitempty"`

	// Seafile configures a seafile-backed export. Required when Backend == "seafile".
	Seafile *SeafileExportConfig `mapstructure:"seafile" yaml:"seafile,omitempty"`

	// S3 configures an S3-compatible-backed export. Required when Backend == "s3".
	S3 *S3ExportConfig `mapstructure:"s3" yaml:"s3,omitempty"`
}

// SeafileExportConfig configures a Seafile-backed export.
type SeafileExportConfig struct {
	BaseURL   string `mapstructure:"base_url" validate:"required,url" yaml:"base_url"`
	LibraryID string `mapstructure:"library_id" validate:"required" yaml:"library_id"`
}

// S3ExportConfig configures an S3-compatible-backed export.
type S3ExportConfig struct {
	Bucket         string `mapstructure:"bucket" validate:"required" yaml:"bucket"`
	Region         string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	KeyPrefix      string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// RemoteConfig holds settings shared by every remote (seafile/s3) backend:
// authentication and retry policy. Per-export identity (library id, bucket)
// lives on the export itself.
type RemoteConfig struct {
	// Token is the bearer token sent to the Seafile API.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// Timeout bounds every single HTTP round trip to a remote backend.
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,gt=0" yaml:"timeout,omitempty"`

	// MaxRetries is defaulted and validated but not read when the backends
	// are wired: the retry wrapper in pkg/provider/remote uses its own fixed
	// attempt count (8) for every fetch/upload call.
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=0" yaml:"max_retries,omitempty"`
}

// Load reads the YAML file at configPath (or ./config.yaml when configPath
// is empty), lets CLOUDNBD_* environment variables override the keys the
// file sets, then fills anything still unset with defaults. A missing file
// is not an error; environment variables are then not read either, and the
// result holds defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg to path in YAML form, respecting yaml tags.
func SaveConfig(cfg *Config, path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires environment-variable support (CLOUDNBD_* prefix,
// dots replaced with underscores) and config file search.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("CLOUDNBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the config file if present. A missing file is not
// an error: the caller falls back to defaults.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks composes the custom mapstructure decode hooks this
// config needs: human-readable byte sizes ("1Gi", "500MB") and durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// byteSizeDecodeHook converts strings and numbers into bytesize.ByteSize,
// so config files can use human-readable sizes like "1Gi", "500Mi", "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// Validate runs go-playground/validator over cfg's struct tags, then rejects
// duplicate export names and exports missing their backend's section.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	seen := make(map[string]bool, len(cfg.Exports))
	for i, exp := range cfg.Exports {
		if seen[exp.Name] {
			return fmt.Errorf("exports[%d] (%s): duplicate export name", i, exp.Name)
		}
		seen[exp.Name] = true
		if exp.Backend == "seafile" && exp.Seafile == nil {
			return fmt.Errorf("exports[%d] (%s): backend=seafile requires a seafile section", i, exp.Name)
		}
		if exp.Backend == "s3" && exp.S3 == nil {
			return fmt.Errorf("exports[%d] (%s): backend=s3 requires an s3 section", i, exp.Name)
		}
	}
	return nil
}
