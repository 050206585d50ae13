package config

import (
	"strings"
	"time"

	"github.com/marmos91/cloudnbd/internal/bytesize"
)

// ApplyDefaults fills in zero-valued fields with sensible defaults. Called
// after unmarshaling config file and environment values, before validation.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyAdminDefaults(&cfg.Admin)
	applyRemoteDefaults(&cfg.Remote)
	for i := range cfg.Exports {
		applyExportDefaults(&cfg.Exports[i])
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:19191"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "127.0.0.1:19192"
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRemoteTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
}

func applyExportDefaults(cfg *ExportConfig) {
	if cfg.BlockSizeBytes == 0 {
		cfg.BlockSizeBytes = bytesize.ByteSize(defaultBlockSize)
	}
	if cfg.CacheCapacityBlocks == 0 {
		cfg.CacheCapacityBlocks = defaultCacheCapacityBlocks
	}
	if cfg.S3 != nil && cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

const (
	defaultBlockSize           = 4096
	defaultCacheCapacityBlocks = 256
	defaultMaxRetries          = 8
	defaultRemoteTimeout       = 30 * time.Second
)
