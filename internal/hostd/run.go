package hostd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"orgrender/internal/config"
	"orgrender/internal/daemonctl"
	"orgrender/internal/logging"
)

// Options configures the resident host process.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the resident host and blocks until SIGINT/SIGTERM, a shutdown
// request, or an engine fatal error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options, hostOpts ...Option) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := filepath.Join(cfg.Paths.LogDir, "orgrender.log")
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)

	host, err := New(cfg, logger, hostOpts...)
	if err != nil {
		return fmt.Errorf("create host: %w", err)
	}
	if err := host.Serve(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "orgrender host stopped with error", "host_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "see "+logPath),
		)
		return err
	}
	return nil
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("pid", os.Getpid()),
	}
	for _, dep := range daemonctl.ResolveDependencies(cfg) {
		attrs = append(attrs, logging.Group(dep.Name,
			logging.Bool("available", dep.Available),
			logging.String("command", dep.Command),
		))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
