package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Tree.MaxOrder != 1000 {
		t.Fatalf("MaxOrder = %d, want 1000", cfg.Tree.MaxOrder)
	}
	if cfg.Tree.Compression {
		t.Fatalf("Compression = true, want false by default")
	}
}

func TestSaveAndLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/rootsdb"
	cfg.Tree.Compression = true
	cfg.Tree.Vault = "aes-gcm"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.DataDir != cfg.DataDir || loaded.Tree.Vault != cfg.Tree.Vault || !loaded.Tree.Compression {
		t.Fatalf("LoadConfig round trip mismatch: %+v", loaded)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadConfig on missing file: want error, got nil")
	}
}
