package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  listen_address: "0.0.0.0:10809"

exports:
  - name: disk0
    backend: memory
    size: 64Mi
    block_size: 4Ki
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:10809" {
		t.Errorf("Expected server listen address '0.0.0.0:10809', got %q", cfg.Server.ListenAddress)
	}
	if len(cfg.Exports) != 1 {
		t.Fatalf("Expected 1 export, got %d", len(cfg.Exports))
	}
	if cfg.Exports[0].SizeBytes != 64*1024*1024 {
		t.Errorf("Expected size 64Mi in bytes, got %d", cfg.Exports[0].SizeBytes)
	}
	if cfg.Exports[0].BlockSizeBytes != 4096 {
		t.Errorf("Expected block size 4Ki in bytes, got %d", cfg.Exports[0].BlockSizeBytes)
	}
	// Defaults still apply to fields the file left unset.
	if cfg.Admin.ListenAddress != "127.0.0.1:19192" {
		t.Errorf("Expected default admin listen address, got %q", cfg.Admin.ListenAddress)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	_, err := Load(nonExistentPath)
	if err == nil {
		t.Fatal("Expected an error: the default config has no exports and validation requires at least one")
	}
}

func TestLoad_RejectsInvalidBackend(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
exports:
  - name: disk0
    backend: nfs
    size: 64Mi
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown export backend")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "saved.yaml")

	cfg := validConfig()
	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}

	if loaded.Exports[0].Name != cfg.Exports[0].Name {
		t.Errorf("Expected export name %q to survive round trip, got %q", cfg.Exports[0].Name, loaded.Exports[0].Name)
	}
	if loaded.Server.ListenAddress != cfg.Server.ListenAddress {
		t.Errorf("Expected listen address %q to survive round trip, got %q", cfg.Server.ListenAddress, loaded.Server.ListenAddress)
	}
}
