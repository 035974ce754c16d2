package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"orgrender/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The runtime directory lives under a short os temp path so socket paths stay
// within the unix socket length limit.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	runtimeDir, err := os.MkdirTemp("", "orgr-")
	if err != nil {
		t.Fatalf("create runtime dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(runtimeDir) })

	cfgVal := config.Default()
	cfgVal.Paths.BaseDir = base
	cfgVal.Paths.RuntimeDir = runtimeDir
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.TempDir = filepath.Join(base, "tmp")
	cfgVal.Engine.CacheDir = filepath.Join(base, "cache")
	cfgVal.Supervisor.StopRetryIntervalMillis = 10
	cfgVal.Supervisor.ReadyPollIntervalMillis = 10
	cfgVal.Supervisor.ReadyTimeoutSeconds = 5
	cfgVal.Supervisor.WatchIntervalSeconds = 0
	cfgVal.Retry.MinTimeoutMillis = 1
	cfgVal.Retry.MaxTimeoutMillis = 5
	cfgVal.API.Bind = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithDaemonName overrides the engine daemon name.
func WithDaemonName(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Engine.DaemonName = name
	}
}

// WithHistory toggles the render history database.
func WithHistory(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.History.Enabled = enabled
	}
}

// WithEntryScript writes an empty engine entry script at the primary location.
func WithEntryScript() ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, b.cfg.Engine.EntryScript)
		WriteFile(b.t, path, ";; test entry script\n")
	}
}

// Stub scripts standing in for the engine binaries. The client stub writes
// a fixed document to the :output-file named in a render request and accepts
// every other directive.
const (
	emacsStub = "#!/bin/sh\nexit 0\n"

	emacsClientStub = `#!/bin/sh
out=$(printf '%s' "$*" | sed -n 's/.*:output-file "\([^"]*\)".*/\1/p')
if [ -n "$out" ]; then
  printf '<p>rendered</p>' > "$out"
fi
exit 0
`
)

// StubbedOutput is the document the stub client writes for every render.
const StubbedOutput = "<p>rendered</p>"

// WithStubbedBinaries writes stub emacs and emacsclient executables and points
// the config at them.
func WithStubbedBinaries() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		stubs := map[string]string{
			"emacs":       emacsStub,
			"emacsclient": emacsClientStub,
		}
		for name, body := range stubs {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, []byte(body), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.cfg.Engine.Emacs = filepath.Join(binDir, "emacs")
		b.cfg.Engine.EmacsClient = filepath.Join(binDir, "emacsclient")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return cfg.Paths.BaseDir
}
