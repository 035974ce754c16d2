package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"orgrender/internal/config"
	"orgrender/internal/engine"
	"orgrender/internal/fileutil"
	"orgrender/internal/logging"
	"orgrender/internal/script"
	"orgrender/internal/services"
)

// Liveness is the read side of the daemon state cell.
type Liveness interface {
	Dead() bool
	Reason() error
}

// Recorder persists finished requests.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Request describes one render.
type Request struct {
	Source string
	// Output, when set, receives a copy of the rendered result.
	Output string
	// Debug logs this request's attempts even when engine debug is off.
	Debug bool
}

// Result is the terminal value of a request. Err is nil on success; the
// services markers classify failures.
type Result struct {
	RequestID  string
	Source     string
	Output     string
	OutputPath string
	Attempts   int
	Duration   time.Duration
	Err        error
}

// Retries returns the number of attempts after the first.
func (r Result) Retries() int {
	if r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}

// Settings is the subset of configuration an Invoker needs.
type Settings struct {
	EmacsClient    string
	Name           string
	ClientTTY      bool
	Debug          bool
	TempDir        string
	Backoff        Backoff
	AttemptTimeout time.Duration
}

// SettingsFromConfig derives invoker settings from the loaded config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		EmacsClient:    cfg.Engine.EmacsClient,
		Name:           cfg.Engine.DaemonName,
		ClientTTY:      cfg.Engine.ClientTTY,
		Debug:          cfg.Engine.Debug,
		TempDir:        cfg.Paths.TempDir,
		Backoff:        BackoffFromConfig(cfg),
		AttemptTimeout: cfg.AttemptTimeout(),
	}
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec engine.Executor) Option {
	return func(i *Invoker) {
		if exec != nil {
			i.exec = exec
		}
	}
}

// WithSleeper replaces the wait between attempts.
func WithSleeper(sleep engine.Sleeper) Option {
	return func(i *Invoker) {
		if sleep != nil {
			i.sleep = sleep
		}
	}
}

// WithRand replaces the jitter source.
func WithRand(rnd func() float64) Option {
	return func(i *Invoker) {
		if rnd != nil {
			i.rnd = rnd
		}
	}
}

// WithRecorder persists every finished request.
func WithRecorder(rec Recorder) Option {
	return func(i *Invoker) {
		i.recorder = rec
	}
}

// Invoker renders requests against one named daemon.
type Invoker struct {
	settings Settings
	live     Liveness
	logger   *slog.Logger
	exec     engine.Executor
	sleep    engine.Sleeper
	rnd      func() float64
	recorder Recorder
	gate     chan struct{}
}

var gates sync.Map

func daemonGate(name string) chan struct{} {
	gate, _ := gates.LoadOrStore(name, make(chan struct{}, 1))
	return gate.(chan struct{})
}

// New constructs an invoker reading liveness from live.
func New(settings Settings, live Liveness, logger *slog.Logger, opts ...Option) (*Invoker, error) {
	if strings.TrimSpace(settings.EmacsClient) == "" || strings.TrimSpace(settings.Name) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "invoker", "init", "client binary and daemon name required", nil)
	}
	if live == nil {
		return nil, errors.New("invoker requires a liveness source")
	}
	inv := &Invoker{
		settings: settings,
		live:     live,
		logger:   logging.NewComponentLogger(logger, "invoker"),
		exec:     engine.CommandExecutor{},
		sleep:    engine.SleepContext,
		rnd:      rand.Float64,
		gate:     daemonGate(settings.Name),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv, nil
}

// Invoke renders one request. It always returns a Result; failures are
// reported through Result.Err.
func (i *Invoker) Invoke(ctx context.Context, req Request) Result {
	started := time.Now()
	res := Result{RequestID: uuid.NewString(), Source: req.Source}
	ctx = services.WithDaemon(services.WithRequestID(ctx, res.RequestID), i.settings.Name)
	logger := logging.WithContext(ctx, i.logger).With(logging.String(logging.FieldSource, req.Source))

	select {
	case i.gate <- struct{}{}:
	case <-ctx.Done():
		res.Err = services.Wrap(services.ErrTimeout, "invoker", "queue", "request cancelled", ctx.Err())
		return i.finish(ctx, logger, res, started)
	}
	defer func() { <-i.gate }()

	res = i.invoke(ctx, logger, req, res)
	return i.finish(ctx, logger, res, started)
}

func (i *Invoker) invoke(ctx context.Context, logger *slog.Logger, req Request, res Result) Result {
	if i.live.Dead() {
		res.Err = i.deadError()
		return res
	}

	outputPath, err := allocateOutput(i.settings.TempDir)
	if err != nil {
		res.Err = services.Wrap(services.ErrExternalTool, "invoker", "allocate", "output file", err)
		return res
	}
	res.OutputPath = outputPath

	debug := i.settings.Debug || req.Debug
	logAttempt := logger.Debug
	if debug {
		logAttempt = logger.Info
	}
	if debug {
		logger.Info("render request script",
			logging.String("emacsclient", i.settings.EmacsClient),
			logging.String("script", script.RequestSource(req.Source, outputPath)),
		)
	}

	cmd := engine.Command{
		Binary:  i.settings.EmacsClient,
		Args:    i.clientArgs(script.Request(req.Source, outputPath)),
		Inherit: i.settings.ClientTTY,
	}

	policy := i.settings.Backoff
	for retry := 0; ; retry++ {
		if i.live.Dead() {
			_ = os.Remove(outputPath)
			res.OutputPath = ""
			res.Err = i.deadError()
			return res
		}

		res.Attempts++
		attemptErr := i.attempt(ctx, cmd)
		logAttempt("render attempt",
			logging.String(logging.FieldEventType, "render_attempt"),
			logging.Int(logging.FieldAttempt, res.Attempts),
			logging.Bool("ok", attemptErr == nil),
			logging.String("reason", errString(attemptErr)),
		)

		if attemptErr == nil {
			return i.collect(res, req, outputPath)
		}
		if ctx.Err() != nil {
			res.Err = services.Wrap(services.ErrTimeout, "invoker", "render", "request cancelled", ctx.Err())
			return res
		}
		if retry >= policy.MaxRetries {
			if i.live.Dead() {
				_ = os.Remove(outputPath)
				res.OutputPath = ""
				res.Err = i.deadError()
				return res
			}
			content, _ := os.ReadFile(outputPath)
			res.Output = string(content)
			res.Err = services.Wrap(services.ErrDaemonUnreachable, "invoker", "render",
				fmt.Sprintf("client failed after %d attempts", res.Attempts), attemptErr)
			return res
		}
		if err := i.sleep(ctx, policy.Delay(retry, i.rnd)); err != nil {
			res.Err = services.Wrap(services.ErrTimeout, "invoker", "render", "request cancelled", err)
			return res
		}
	}
}

func (i *Invoker) attempt(ctx context.Context, cmd engine.Command) error {
	if i.settings.AttemptTimeout <= 0 {
		return i.exec.Run(ctx, cmd)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, i.settings.AttemptTimeout)
	defer cancel()
	err := i.exec.Run(attemptCtx, cmd)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return services.Wrap(services.ErrTimeout, "invoker", "attempt", "client exceeded attempt timeout", err)
	}
	return err
}

// collect reads the engine output after a successful attempt. An empty
// output file is a successful render with empty content.
func (i *Invoker) collect(res Result, req Request, outputPath string) Result {
	content, err := os.ReadFile(outputPath)
	if err != nil {
		res.Err = services.Wrap(services.ErrExternalTool, "invoker", "collect", "read output", err)
		return res
	}
	res.Output = string(content)
	if strings.TrimSpace(req.Output) != "" {
		if err := fileutil.WriteFileAtomic(req.Output, content, 0o644); err != nil {
			res.Err = services.Wrap(services.ErrExternalTool, "invoker", "collect", "write "+req.Output, err)
			return res
		}
	}
	_ = os.Remove(outputPath)
	res.OutputPath = ""
	return res
}

func (i *Invoker) finish(ctx context.Context, logger *slog.Logger, res Result, started time.Time) Result {
	res.Duration = time.Since(started)
	if res.Err != nil {
		res.Output = outputOnFailure(res)
	}
	attrs := []logging.Attr{
		logging.Int("attempts", res.Attempts),
		logging.Duration("duration", res.Duration),
		logging.String("outcome", services.Outcome(res.Err)),
	}
	switch {
	case res.Err == nil:
		logger.Debug("render complete", logging.Args(append(attrs, logging.String(logging.FieldEventType, "render_complete"))...)...)
	case errors.Is(res.Err, services.ErrDaemonDead):
		logger.Debug("render skipped", logging.Args(append(attrs,
			logging.String(logging.FieldEventType, "render_skipped"),
			logging.Error(res.Err),
		)...)...)
	default:
		logging.WarnWithContext(logger, "render failed", "render_failed", append(attrs,
			logging.Error(res.Err),
			logging.String(logging.FieldImpact, "document rendered empty"),
			logging.String(logging.FieldErrorHint, "check that the engine daemon is running"),
			logging.String("output_file", res.OutputPath),
		)...)
	}
	if i.recorder != nil {
		if err := i.recorder.Record(context.WithoutCancel(ctx), res); err != nil {
			logger.Warn("render history write failed", logging.Error(err))
		}
	}
	return res
}

func outputOnFailure(res Result) string {
	if errors.Is(res.Err, services.ErrDaemonUnreachable) {
		return res.Output
	}
	return ""
}

func (i *Invoker) clientArgs(elisp string) []string {
	args := make([]string, 0, 5)
	if i.settings.ClientTTY {
		args = append(args, "-nw")
	}
	return append(args, "-s", i.settings.Name, "-e", elisp)
}

func (i *Invoker) deadError() error {
	return services.Wrap(services.ErrDaemonDead, "invoker", "render", "engine daemon is dead", i.live.Reason())
}

func allocateOutput(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "orgrender-out-*.html")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
