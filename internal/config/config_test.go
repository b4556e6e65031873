package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.UI.RefreshIntervalMs != 1000 {
		t.Errorf("default refresh = %d, want 1000", cfg.UI.RefreshIntervalMs)
	}
	if cfg.RefreshInterval() != time.Second {
		t.Errorf("RefreshInterval() = %v, want 1s", cfg.RefreshInterval())
	}
	if filepath.Base(cfg.Daemon.SocketPath) != "daemon.sock" {
		t.Errorf("default socket = %q", cfg.Daemon.SocketPath)
	}
}

func TestDefaultSocketPath_XDGState(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/var/state")
	if got, want := DefaultSocketPath(), "/var/state/geminiusage/daemon.sock"; got != want {
		t.Errorf("DefaultSocketPath() = %q, want %q", got, want)
	}
}

func TestConfigPath_XDGConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/etc/xdg")
	if got, want := ConfigPath(), "/etc/xdg/geminiusage/settings.json"; got != want {
		t.Errorf("ConfigPath() = %q, want %q", got, want)
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nonexistent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.UI.RefreshIntervalMs != 1000 {
		t.Error("should return defaults for missing file")
	}
}

func TestLoadFrom_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")

	content := `{
  "sessions_dir": "/data/gemini/tmp",
  "daemon": {"socket_path": "/run/gu.sock"},
  "ui": {"refresh_interval_ms": 250},
  "debug": true
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}

	if cfg.SessionsDir != "/data/gemini/tmp" {
		t.Errorf("sessions_dir = %q", cfg.SessionsDir)
	}
	if cfg.Daemon.SocketPath != "/run/gu.sock" {
		t.Errorf("socket_path = %q", cfg.Daemon.SocketPath)
	}
	if cfg.UI.RefreshIntervalMs != 250 {
		t.Errorf("refresh = %d, want 250", cfg.UI.RefreshIntervalMs)
	}
	if cfg.UI.RecentDeltas != 50 {
		t.Errorf("recent_deltas = %d, want default 50", cfg.UI.RecentDeltas)
	}
	if !cfg.Debug {
		t.Error("debug = false, want true")
	}
}

func TestLoadFrom_Normalizes(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := filepath.Join(t.TempDir(), "settings.json")
	os.WriteFile(path, []byte(`{"sessions_dir":"~/g","ui":{"refresh_interval_ms":5}}`), 0o644)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom() error: %v", err)
	}
	if want := filepath.Join(home, "g"); cfg.SessionsDir != want {
		t.Errorf("sessions_dir = %q, want %q", cfg.SessionsDir, want)
	}
	if cfg.UI.RefreshIntervalMs != 100 {
		t.Errorf("refresh = %d, want clamped 100", cfg.UI.RefreshIntervalMs)
	}
}

func TestLoadFrom_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	os.WriteFile(path, []byte(`{"ui":`), 0o644)

	cfg, err := LoadFrom(path)
	if err == nil {
		t.Fatal("LoadFrom() error = nil for broken JSON")
	}
	if cfg.UI.RefreshIntervalMs != 1000 {
		t.Error("should return defaults alongside the error")
	}
}

func TestSaveSessionsDirTo_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")
	cfg := DefaultConfig()
	cfg.UI.RefreshIntervalMs = 500
	if err := SaveTo(path, cfg); err != nil {
		t.Fatalf("SaveTo() error: %v", err)
	}
	if err := SaveSessionsDirTo(path, "/elsewhere"); err != nil {
		t.Fatalf("SaveSessionsDirTo() error: %v", err)
	}

	got, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionsDir != "/elsewhere" || got.UI.RefreshIntervalMs != 500 {
		t.Errorf("loaded = %+v", got)
	}
}
