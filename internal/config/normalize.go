package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeRetry()
	c.normalizeSupervisor()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return fmt.Errorf("paths.base_dir: %w", wdErr)
		}
		c.Paths.BaseDir = wd
	}
	if c.Paths.BaseDir, err = expandPath(c.Paths.BaseDir); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RuntimeDir) == "" {
		c.Paths.RuntimeDir = defaultRuntimeDir
	}
	if c.Paths.RuntimeDir, err = expandPath(c.Paths.RuntimeDir); err != nil {
		return fmt.Errorf("paths.runtime_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.TempDir, err = expandPath(strings.TrimSpace(c.Paths.TempDir)); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() error {
	c.Engine.Emacs = strings.TrimSpace(c.Engine.Emacs)
	if value, ok := os.LookupEnv("ORGRENDER_EMACS"); ok && strings.TrimSpace(value) != "" {
		c.Engine.Emacs = strings.TrimSpace(value)
	}
	if c.Engine.Emacs == "" {
		c.Engine.Emacs = defaultEmacsBinary
	}
	c.Engine.EmacsClient = strings.TrimSpace(c.Engine.EmacsClient)
	if value, ok := os.LookupEnv("ORGRENDER_EMACSCLIENT"); ok && strings.TrimSpace(value) != "" {
		c.Engine.EmacsClient = strings.TrimSpace(value)
	}
	if c.Engine.EmacsClient == "" {
		c.Engine.EmacsClient = defaultEmacsClientBinary
	}
	c.Engine.DaemonName = strings.TrimSpace(c.Engine.DaemonName)
	if c.Engine.DaemonName == "" {
		c.Engine.DaemonName = defaultDaemonName
	}

	var err error
	if c.Engine.CacheDir, err = expandPath(strings.TrimSpace(c.Engine.CacheDir)); err != nil {
		return fmt.Errorf("engine.cachedir: %w", err)
	}
	c.Engine.UserConfig = strings.TrimSpace(c.Engine.UserConfig)
	c.Engine.Theme = strings.TrimSpace(c.Engine.Theme)
	c.Engine.EntryScript = strings.TrimSpace(c.Engine.EntryScript)
	if c.Engine.EntryScript == "" {
		c.Engine.EntryScript = defaultEntryScript
	}
	c.Engine.FallbackEntryScript = strings.TrimSpace(c.Engine.FallbackEntryScript)
	return nil
}

func (c *Config) normalizeHistory() error {
	var err error
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeRetry() {
	if c.Retry.Factor == 0 {
		c.Retry.Factor = defaultBackoffFactor
	}
	if c.Retry.MinTimeoutMillis == 0 {
		c.Retry.MinTimeoutMillis = defaultMinTimeoutMillis
	}
	if c.Retry.MaxTimeoutMillis == 0 {
		c.Retry.MaxTimeoutMillis = defaultMaxTimeoutMillis
	}
}

func (c *Config) normalizeSupervisor() {
	if c.Supervisor.StopRetryIntervalMillis == 0 {
		c.Supervisor.StopRetryIntervalMillis = defaultStopRetryMillis
	}
	if c.Supervisor.ReadyPollIntervalMillis == 0 {
		c.Supervisor.ReadyPollIntervalMillis = defaultReadyPollMillis
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
