package config

import "testing"

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != "127.0.0.1:19191" {
		t.Errorf("Expected default server listen address '127.0.0.1:19191', got %q", cfg.Server.ListenAddress)
	}
}

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_LoggingLevelUppercased(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected logging level to be uppercased to 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestApplyDefaults_Admin(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Admin.ListenAddress != "127.0.0.1:19192" {
		t.Errorf("Expected default admin listen address '127.0.0.1:19192', got %q", cfg.Admin.ListenAddress)
	}
}

func TestApplyDefaults_Remote(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Remote.Timeout != defaultRemoteTimeout {
		t.Errorf("Expected default remote timeout %v, got %v", defaultRemoteTimeout, cfg.Remote.Timeout)
	}
	if cfg.Remote.MaxRetries != defaultMaxRetries {
		t.Errorf("Expected default max retries %d, got %d", defaultMaxRetries, cfg.Remote.MaxRetries)
	}
}

func TestApplyDefaults_Export(t *testing.T) {
	cfg := &Config{Exports: []ExportConfig{{Name: "disk0", Backend: "memory", SizeBytes: 1 << 20}}}
	ApplyDefaults(cfg)

	if cfg.Exports[0].BlockSizeBytes != defaultBlockSize {
		t.Errorf("Expected default block size %d, got %d", defaultBlockSize, cfg.Exports[0].BlockSizeBytes)
	}
	if cfg.Exports[0].CacheCapacityBlocks != defaultCacheCapacityBlocks {
		t.Errorf("Expected default cache capacity %d, got %d", defaultCacheCapacityBlocks, cfg.Exports[0].CacheCapacityBlocks)
	}
}

func TestApplyDefaults_S3RegionDefaultsToUsEast1(t *testing.T) {
	cfg := &Config{Exports: []ExportConfig{{
		Name: "bucket0", Backend: "s3", SizeBytes: 1 << 20,
		S3: &S3ExportConfig{Bucket: "my-bucket"},
	}}}
	ApplyDefaults(cfg)

	if cfg.Exports[0].S3.Region != "us-east-1" {
		t.Errorf("Expected default S3 region 'us-east-1', got %q", cfg.Exports[0].S3.Region)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{ListenAddress: "0.0.0.0:9000"},
		Logging: LoggingConfig{Level: "ERROR", Format: "json", Output: "stderr"},
	}
	ApplyDefaults(cfg)

	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("Expected explicit server listen address to survive, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected explicit logging format to survive, got %q", cfg.Logging.Format)
	}
}
