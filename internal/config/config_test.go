package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"orgrender/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRuntime := filepath.Join(tempHome, ".local", "share", "orgrender", "run")
	if cfg.Paths.RuntimeDir != wantRuntime {
		t.Fatalf("unexpected runtime dir: got %q want %q", cfg.Paths.RuntimeDir, wantRuntime)
	}
	if cfg.Engine.CacheDir != filepath.Join(tempHome, ".cache", "orgrender") {
		t.Fatalf("unexpected cache dir: %q", cfg.Engine.CacheDir)
	}
	if cfg.Engine.DaemonName != "hexo-renderer-org" {
		t.Fatalf("unexpected daemon name: %q", cfg.Engine.DaemonName)
	}
	if cfg.Retry.MaxRetries != 100 || cfg.Retry.MinTimeoutMillis != 100 || cfg.Retry.MaxTimeoutMillis != 1000 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Retry.Factor != 2 || !cfg.Retry.Randomize {
		t.Fatalf("unexpected backoff shape: %+v", cfg.Retry)
	}
	if !cfg.Engine.ClientTTY {
		t.Fatal("expected client tty enabled by default")
	}
	if cfg.StopRetryInterval().Milliseconds() != 1000 {
		t.Fatalf("unexpected stop retry interval: %v", cfg.StopRetryInterval())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.RuntimeDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "orgrender.toml")

	type payload struct {
		Engine struct {
			Theme      string `toml:"theme"`
			Htmlize    bool   `toml:"htmlize"`
			UserConfig string `toml:"user_config"`
		} `toml:"engine"`
		Paths struct {
			BaseDir string `toml:"base_dir"`
		} `toml:"paths"`
		Retry struct {
			MaxRetries int `toml:"max_retries"`
		} `toml:"retry"`
	}
	custom := payload{}
	custom.Engine.Theme = "dark"
	custom.Engine.Htmlize = true
	custom.Engine.UserConfig = "emacs/init.el"
	custom.Paths.BaseDir = tempDir
	custom.Retry.MaxRetries = 7

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Engine.Theme != "dark" || !cfg.Engine.Htmlize {
		t.Fatalf("unexpected engine settings: %+v", cfg.Engine)
	}
	if cfg.Retry.MaxRetries != 7 {
		t.Fatalf("expected max retries override, got %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.MaxTimeoutMillis != 1000 {
		t.Fatalf("expected untouched defaults to survive decode, got %d", cfg.Retry.MaxTimeoutMillis)
	}
	if got, want := cfg.UserConfigPath(), filepath.Join(tempDir, "emacs", "init.el"); got != want {
		t.Fatalf("unexpected user config path: got %q want %q", got, want)
	}
	candidates := cfg.EntryScriptCandidates()
	if len(candidates) != 2 {
		t.Fatalf("expected primary and fallback entry scripts, got %v", candidates)
	}
	if candidates[0] != filepath.Join(tempDir, "emacs", "hexo-renderer-org.el") {
		t.Fatalf("unexpected primary entry script: %q", candidates[0])
	}
	if candidates[1] != filepath.Join(tempDir, "node_modules", "hexo-renderer-org", "emacs", "hexo-renderer-org.el") {
		t.Fatalf("unexpected fallback entry script: %q", candidates[1])
	}
}

func TestUserConfigPathEmptyWhenUnset(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.BaseDir = "/srv/blog"
	if got := cfg.UserConfigPath(); got != "" {
		t.Fatalf("expected empty user config path, got %q", got)
	}
}

func TestLoadBinaryEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ORGRENDER_EMACS", "/opt/emacs/bin/emacs")
	t.Setenv("ORGRENDER_EMACSCLIENT", "/opt/emacs/bin/emacsclient")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Engine.Emacs != "/opt/emacs/bin/emacs" {
		t.Fatalf("expected emacs from env, got %q", cfg.Engine.Emacs)
	}
	if cfg.Engine.EmacsClient != "/opt/emacs/bin/emacsclient" {
		t.Fatalf("expected emacsclient from env, got %q", cfg.Engine.EmacsClient)
	}
}

func TestValidateRejectsBadRetryPolicy(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"negative retries", func(c *config.Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"inverted timeouts", func(c *config.Config) { c.Retry.MaxTimeoutMillis = 50 }, "retry.max_timeout_ms"},
		{"shrinking factor", func(c *config.Config) { c.Retry.Factor = 0.5 }, "retry.factor"},
		{"zero stop interval", func(c *config.Config) { c.Supervisor.StopRetryIntervalMillis = 0 }, "supervisor.stop_retry_interval_ms"},
		{"daemon name with slash", func(c *config.Config) { c.Engine.DaemonName = "a/b" }, "engine.daemon_name"},
		{"api on all interfaces", func(c *config.Config) { c.API.Bind = ":7488" }, "api.bind"},
		{"api on public address", func(c *config.Config) { c.API.Bind = "192.168.1.10:7488" }, "api.bind"},
		{"api without port", func(c *config.Config) { c.API.Bind = "127.0.0.1" }, "api.bind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in error, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAcceptsLoopbackAPI(t *testing.T) {
	for _, bind := range []string{"", "127.0.0.1:7488", "[::1]:7488", "localhost:7488"} {
		cfg := config.Default()
		cfg.API.Bind = bind
		if err := cfg.Validate(); err != nil {
			t.Fatalf("api.bind %q: unexpected error %v", bind, err)
		}
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Engine.DaemonName != "hexo-renderer-org" {
		t.Fatalf("unexpected daemon name from sample: %q", cfg.Engine.DaemonName)
	}
}
