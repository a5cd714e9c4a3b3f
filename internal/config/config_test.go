package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.APIBaseURL = "https://covoit.example.com/api"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.APIBaseURL != "https://covoit.example.com/api" {
		t.Errorf("APIBaseURL = %q", loaded.APIBaseURL)
	}
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v for missing file", err)
	}
	if cfg.ContactRefreshSeconds != 30 {
		t.Errorf("ContactRefreshSeconds = %d, want default 30", cfg.ContactRefreshSeconds)
	}
	if cfg.CacheCapacity != 64 {
		t.Errorf("CacheCapacity = %d, want default 64", cfg.CacheCapacity)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RIDECHAT_API_URL", "https://staging.example.com/api")
	t.Setenv("RIDECHAT_CACHE_CAPACITY", "8")
	t.Setenv("RIDECHAT_RECONNECT_MAX_SECONDS", "120")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIBaseURL != "https://staging.example.com/api" {
		t.Errorf("APIBaseURL = %q, want env override", cfg.APIBaseURL)
	}
	if cfg.CacheCapacity != 8 {
		t.Errorf("CacheCapacity = %d, want 8", cfg.CacheCapacity)
	}
	if cfg.ReconnectMaxSeconds != 120 {
		t.Errorf("ReconnectMaxSeconds = %d, want 120", cfg.ReconnectMaxSeconds)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
