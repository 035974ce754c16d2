package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateSupervisor(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.Emacs) == "" {
		return errors.New("engine.emacs must be set")
	}
	if strings.TrimSpace(c.Engine.EmacsClient) == "" {
		return errors.New("engine.emacsclient must be set")
	}
	name := strings.TrimSpace(c.Engine.DaemonName)
	if name == "" {
		return errors.New("engine.daemon_name must be set")
	}
	if strings.ContainsAny(name, "/\\ \t\n") {
		return fmt.Errorf("engine.daemon_name %q must not contain path separators or whitespace", name)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"retry.min_timeout_ms": c.Retry.MinTimeoutMillis,
		"retry.max_timeout_ms": c.Retry.MaxTimeoutMillis,
	}); err != nil {
		return err
	}
	if c.Retry.MaxTimeoutMillis < c.Retry.MinTimeoutMillis {
		return errors.New("retry.max_timeout_ms must be >= retry.min_timeout_ms")
	}
	if c.Retry.Factor < 1 {
		return errors.New("retry.factor must be >= 1")
	}
	if c.Retry.AttemptTimeoutSeconds < 0 {
		return errors.New("retry.attempt_timeout_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateSupervisor() error {
	if err := ensurePositiveMap(map[string]int{
		"supervisor.stop_retry_interval_ms": c.Supervisor.StopRetryIntervalMillis,
		"supervisor.ready_poll_interval_ms": c.Supervisor.ReadyPollIntervalMillis,
	}); err != nil {
		return err
	}
	if c.Supervisor.StopMaxAttempts < 0 {
		return errors.New("supervisor.stop_max_attempts must be >= 0")
	}
	if c.Supervisor.ReadyTimeoutSeconds < 0 {
		return errors.New("supervisor.ready_timeout_seconds must be >= 0")
	}
	if c.Supervisor.WatchIntervalSeconds < 0 {
		return errors.New("supervisor.watch_interval_seconds must be >= 0")
	}
	return nil
}

// validateAPI keeps the HTTP API on loopback. It has no authentication.
func (c *Config) validateAPI() error {
	bind := strings.TrimSpace(c.API.Bind)
	if bind == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(bind)
	if err != nil {
		return fmt.Errorf("api.bind %q: %w", bind, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("api.bind %q must be a loopback address", bind)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
