package engine

import (
	"time"

	"orgrender/internal/config"
	"orgrender/internal/script"
)

// Settings is the subset of configuration a Supervisor needs.
type Settings struct {
	Emacs           string
	EmacsClient     string
	Name            string
	EntryCandidates []string
	Bootstrap       script.BootstrapParams
	Debug           bool
	TempDir         string
	LockPath        string

	StopRetryInterval time.Duration
	StopMaxAttempts   int
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration
	WatchInterval     time.Duration
}

// SettingsFromConfig derives supervisor settings from the loaded config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Emacs:           cfg.Engine.Emacs,
		EmacsClient:     cfg.Engine.EmacsClient,
		Name:            cfg.Engine.DaemonName,
		EntryCandidates: cfg.EntryScriptCandidates(),
		Bootstrap: script.BootstrapParams{
			CacheDir:   cfg.Engine.CacheDir,
			UserConfig: cfg.UserConfigPath(),
			Theme:      cfg.Engine.Theme,
			Common:     cfg.Engine.Common,
			Htmlize:    cfg.Engine.Htmlize,
			LineNumber: cfg.Engine.LineNumber,
		},
		Debug:             cfg.Engine.Debug,
		TempDir:           cfg.Paths.TempDir,
		LockPath:          cfg.DaemonLockPath(),
		StopRetryInterval: cfg.StopRetryInterval(),
		StopMaxAttempts:   cfg.Supervisor.StopMaxAttempts,
		ReadyPollInterval: cfg.ReadyPollInterval(),
		ReadyTimeout:      cfg.ReadyTimeout(),
		WatchInterval:     cfg.WatchInterval(),
	}
}

// PingCommand returns the health-check client invocation.
func PingCommand(client, name string) Command {
	return Command{Binary: client, Args: []string{"-s", name, "-e", script.PingDirective}}
}

// KillCommand returns the shutdown client invocation.
func KillCommand(client, name string) Command {
	return Command{Binary: client, Args: []string{"-s", name, "-e", script.KillDirective}, Detached: true}
}

// LaunchCommand returns the daemon launch invocation for a rendered bootstrap script.
func LaunchCommand(emacs, name, bootstrap string) Command {
	return Command{
		Binary:   emacs,
		Args:     []string{"-Q", "--daemon=" + name, "--eval", bootstrap},
		Inherit:  true,
		Detached: true,
	}
}
