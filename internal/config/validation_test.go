package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{
		Exports: []ExportConfig{
			{Name: "disk0", Backend: "memory", SizeBytes: 1 << 20},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_RequiresAtLeastOneExport(t *testing.T) {
	cfg := validConfig()
	cfg.Exports = nil

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for empty export list")
	}
}

func TestValidate_InvalidBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Exports[0].Backend = "nfs"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for unknown backend")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_SeafileBackendRequiresSeafileSection(t *testing.T) {
	cfg := validConfig()
	cfg.Exports[0].Backend = "seafile"
	cfg.Exports[0].Seafile = nil

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for seafile backend missing its section")
	}
	if !strings.Contains(err.Error(), "seafile") {
		t.Errorf("Expected error to mention seafile, got: %v", err)
	}
}

func TestValidate_S3BackendRequiresS3Section(t *testing.T) {
	cfg := validConfig()
	cfg.Exports[0].Backend = "s3"
	cfg.Exports[0].S3 = nil

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for s3 backend missing its section")
	}
	if !strings.Contains(err.Error(), "s3") {
		t.Errorf("Expected error to mention s3, got: %v", err)
	}
}
