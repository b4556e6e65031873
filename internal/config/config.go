package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/janekbaraniewski/geminiusage/internal/session"
)

const (
	appName = "geminiusage"

	defaultRefreshIntervalMs = 1000
	defaultRecentDeltas      = 50
	minRefreshIntervalMs     = 100
)

type UIConfig struct {
	RefreshIntervalMs int `json:"refresh_interval_ms"`
	RecentDeltas      int `json:"recent_deltas"`
}

type DaemonConfig struct {
	SocketPath string `json:"socket_path"`
}

type Config struct {
	SessionsDir string       `json:"sessions_dir"`
	Daemon      DaemonConfig `json:"daemon"`
	UI          UIConfig     `json:"ui"`
	Debug       bool         `json:"debug"`
}

func DefaultConfig() Config {
	return Config{
		SessionsDir: session.DefaultSessionsDir(),
		Daemon:      DaemonConfig{SocketPath: DefaultSocketPath()},
		UI: UIConfig{
			RefreshIntervalMs: defaultRefreshIntervalMs,
			RecentDeltas:      defaultRecentDeltas,
		},
	}
}

// RefreshInterval is UI.RefreshIntervalMs as a duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.UI.RefreshIntervalMs) * time.Millisecond
}

func ConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), appName)
	}
	if dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appName)
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "settings.json")
}

func DefaultSocketPath() string {
	if dir := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); dir != "" {
		return filepath.Join(dir, appName, "daemon.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", appName, "daemon.sock")
}

func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("parsing config %s: %w", path, err)
	}

	defaults := DefaultConfig()
	cfg.SessionsDir = expandHome(strings.TrimSpace(cfg.SessionsDir))
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = defaults.SessionsDir
	}
	cfg.Daemon.SocketPath = expandHome(strings.TrimSpace(cfg.Daemon.SocketPath))
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = defaults.Daemon.SocketPath
	}
	if cfg.UI.RefreshIntervalMs <= 0 {
		cfg.UI.RefreshIntervalMs = defaultRefreshIntervalMs
	}
	if cfg.UI.RefreshIntervalMs < minRefreshIntervalMs {
		cfg.UI.RefreshIntervalMs = minRefreshIntervalMs
	}
	if cfg.UI.RecentDeltas <= 0 {
		cfg.UI.RecentDeltas = defaultRecentDeltas
	}

	return cfg, nil
}

// saveMu guards read-modify-write cycles on the config file.
var saveMu sync.Mutex

func SaveTo(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SaveSessionsDirTo persists the sessions directory (read-modify-write).
func SaveSessionsDirTo(path, dir string) error {
	saveMu.Lock()
	defer saveMu.Unlock()

	cfg, err := LoadFrom(path)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.SessionsDir = dir
	return SaveTo(path, cfg)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
