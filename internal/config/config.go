package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Engine contains configuration for the external rendering engine and its client.
type Engine struct {
	Emacs               string `toml:"emacs"`
	EmacsClient         string `toml:"emacsclient"`
	DaemonName          string `toml:"daemon_name"`
	CacheDir            string `toml:"cachedir"`
	UserConfig          string `toml:"user_config"`
	Theme               string `toml:"theme"`
	Common              string `toml:"common"`
	Htmlize             bool   `toml:"htmlize"`
	LineNumber          bool   `toml:"line_number"`
	Debug               bool   `toml:"debug"`
	ClientTTY           bool   `toml:"client_tty"`
	EntryScript         string `toml:"entry_script"`
	FallbackEntryScript string `toml:"fallback_entry_script"`
}

// Paths contains directory and bind configuration.
type Paths struct {
	BaseDir    string `toml:"base_dir"`
	RuntimeDir string `toml:"runtime_dir"`
	LogDir     string `toml:"log_dir"`
	TempDir    string `toml:"temp_dir"`
}

// Retry contains the client invocation backoff policy.
type Retry struct {
	MaxRetries            int     `toml:"max_retries"`
	MinTimeoutMillis      int     `toml:"min_timeout_ms"`
	MaxTimeoutMillis      int     `toml:"max_timeout_ms"`
	Factor                float64 `toml:"factor"`
	Randomize             bool    `toml:"randomize"`
	AttemptTimeoutSeconds int     `toml:"attempt_timeout_seconds"`
}

// Supervisor contains daemon lifecycle timings. Zero bounds keep the
// unbounded behaviour.
type Supervisor struct {
	StopRetryIntervalMillis int `toml:"stop_retry_interval_ms"`
	StopMaxAttempts         int `toml:"stop_max_attempts"`
	ReadyPollIntervalMillis int `toml:"ready_poll_interval_ms"`
	ReadyTimeoutSeconds     int `toml:"ready_timeout_seconds"`
	WatchIntervalSeconds    int `toml:"watch_interval_seconds"`
}

// History contains configuration for the render history database.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// API contains configuration for the optional HTTP API of the resident host.
type API struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for orgrender.
//
// Configuration sections by subsystem:
//   - Engine: engine/client binaries and the settings rendered into the bootstrap script
//   - Paths: base, runtime, log, and temp directories
//   - Retry: client invocation backoff
//   - Supervisor: stop/readiness/watch timings
//   - History: render history database
//   - API: optional HTTP API bind address
//   - Logging: log format and level
type Config struct {
	Engine     Engine     `toml:"engine"`
	Paths      Paths      `toml:"paths"`
	Retry      Retry      `toml:"retry"`
	Supervisor Supervisor `toml:"supervisor"`
	History    History    `toml:"history"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/orgrender/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("orgrender.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The engine cache directory is created on a best-effort basis; the engine
// creates it itself when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.RuntimeDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Engine.CacheDir) != "" {
		_ = os.MkdirAll(c.Engine.CacheDir, 0o755)
	}
	if strings.TrimSpace(c.Paths.TempDir) != "" {
		if err := os.MkdirAll(c.Paths.TempDir, 0o755); err != nil {
			return fmt.Errorf("create temp directory %q: %w", c.Paths.TempDir, err)
		}
	}
	return nil
}

// EntryScriptCandidates returns the engine entry script locations in lookup
// order: the primary location first, then the packaged fallback.
func (c *Config) EntryScriptCandidates() []string {
	candidates := make([]string, 0, 2)
	for _, value := range []string{c.Engine.EntryScript, c.Engine.FallbackEntryScript} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		candidates = append(candidates, c.resolveAgainstBase(value))
	}
	return candidates
}

// UserConfigPath returns the absolute user-config path, or "" when unset.
func (c *Config) UserConfigPath() string {
	value := strings.TrimSpace(c.Engine.UserConfig)
	if value == "" {
		return ""
	}
	return c.resolveAgainstBase(filepath.Clean(value))
}

// SocketPath returns the resident host IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "orgrender.sock")
}

// HostLockPath returns the resident host single-instance lock location.
func (c *Config) HostLockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "orgrender.lock")
}

// PIDPath returns the resident host PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.RuntimeDir, "orgrender.pid")
}

// DaemonLockPath returns the lock file guarding the named engine daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.RuntimeDir, c.Engine.DaemonName+".lock")
}

// HistoryPath returns the render history database location.
func (c *Config) HistoryPath() string {
	if strings.TrimSpace(c.History.Path) != "" {
		return c.History.Path
	}
	return filepath.Join(c.Paths.LogDir, defaultHistoryFile)
}

// MinTimeout returns the first retry delay.
func (c *Config) MinTimeout() time.Duration {
	return time.Duration(c.Retry.MinTimeoutMillis) * time.Millisecond
}

// MaxTimeout returns the retry delay ceiling.
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.Retry.MaxTimeoutMillis) * time.Millisecond
}

// AttemptTimeout returns the per-attempt watchdog, or zero when disabled.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Retry.AttemptTimeoutSeconds) * time.Second
}

// StopRetryInterval returns the delay between failed stop directives.
func (c *Config) StopRetryInterval() time.Duration {
	return time.Duration(c.Supervisor.StopRetryIntervalMillis) * time.Millisecond
}

// ReadyPollInterval returns the delay between readiness pings.
func (c *Config) ReadyPollInterval() time.Duration {
	return time.Duration(c.Supervisor.ReadyPollIntervalMillis) * time.Millisecond
}

// ReadyTimeout returns the readiness bound, or zero when unbounded.
func (c *Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Supervisor.ReadyTimeoutSeconds) * time.Second
}

// WatchInterval returns the sentinel polling interval, or zero when disabled.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.Supervisor.WatchIntervalSeconds) * time.Second
}

func (c *Config) resolveAgainstBase(value string) string {
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(c.Paths.BaseDir, value)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
