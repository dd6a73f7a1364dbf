package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Ledger.Path != "data/ledger.db" {
		t.Errorf("Path = %q", cfg.Ledger.Path)
	}
	if cfg.Retention.MaxIncidents != 5000 || cfg.Retention.MaxAgeDays != 90 {
		t.Errorf("retention defaults = %+v", cfg.Retention)
	}
	if cfg.Ledger.Disabled {
		t.Error("ledger should be enabled by default")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.Path != "data/ledger.db" {
		t.Errorf("Path = %q, want default", cfg.Ledger.Path)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Instance.ID != "local" {
		t.Errorf("Instance.ID = %q", cfg.Instance.ID)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[ledger]
path = "/var/lib/evidence/ledger.db"
session_id = "sess-42"

[retention]
max_incidents = 100

[instance]
id = "agent-7"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.Path != "/var/lib/evidence/ledger.db" {
		t.Errorf("Path = %q", cfg.Ledger.Path)
	}
	if cfg.Ledger.SessionID != "sess-42" {
		t.Errorf("SessionID = %q", cfg.Ledger.SessionID)
	}
	if cfg.Retention.MaxIncidents != 100 {
		t.Errorf("MaxIncidents = %d", cfg.Retention.MaxIncidents)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Retention.MaxAgeDays != 90 {
		t.Errorf("MaxAgeDays = %d, want default 90", cfg.Retention.MaxAgeDays)
	}
	if cfg.Instance.ID != "agent-7" {
		t.Errorf("Instance.ID = %q", cfg.Instance.ID)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[ledger\npath ="), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed TOML should error")
	}
}
