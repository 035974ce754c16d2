package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"orgrender/internal/logging"
	"orgrender/internal/script"
	"orgrender/internal/sentinel"
	"orgrender/internal/services"
)

// ErrAlreadyRunning reports that another supervisor owns the daemon name.
var ErrAlreadyRunning = errors.New("engine daemon already supervised")

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ChannelFactory allocates the sentinel channel handed to the engine.
type ChannelFactory func(dir string) (sentinel.Channel, error)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(s *Supervisor) {
		if exec != nil {
			s.exec = exec
		}
	}
}

// WithSleeper replaces the wait used between stop and readiness attempts.
func WithSleeper(sleep Sleeper) Option {
	return func(s *Supervisor) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithChannelFactory replaces the sentinel channel allocation.
func WithChannelFactory(factory ChannelFactory) Option {
	return func(s *Supervisor) {
		if factory != nil {
			s.newChannel = factory
		}
	}
}

// WithOnFatal registers the hook fired once when the engine records a fatal error.
func WithOnFatal(fn func(*sentinel.EngineError)) Option {
	return func(s *Supervisor) {
		s.onFatal = fn
	}
}

// Status summarizes supervisor state.
type Status struct {
	Name         string
	State        State
	PID          int
	EntryScript  string
	SentinelPath string
	StartedAt    time.Time
	Reason       string
}

// Supervisor owns one named engine daemon.
type Supervisor struct {
	settings   Settings
	logger     *slog.Logger
	exec       Executor
	sleep      Sleeper
	newChannel ChannelFactory
	onFatal    func(*sentinel.EngineError)

	live      Liveness
	fatalOnce sync.Once
	watchOnce sync.Once
	closeOnce sync.Once
	stopWatch chan struct{}

	mu        sync.Mutex
	lock      *flock.Flock
	channel   sentinel.Channel
	pid       int
	entry     string
	startedAt time.Time
}

// NewSupervisor constructs a supervisor for settings.Name.
func NewSupervisor(settings Settings, logger *slog.Logger, opts ...Option) (*Supervisor, error) {
	if strings.TrimSpace(settings.Emacs) == "" || strings.TrimSpace(settings.EmacsClient) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "init", "engine and client binaries required", nil)
	}
	if strings.TrimSpace(settings.Name) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "engine", "init", "daemon name required", nil)
	}
	if settings.StopRetryInterval <= 0 {
		settings.StopRetryInterval = time.Second
	}
	if settings.ReadyPollInterval <= 0 {
		settings.ReadyPollInterval = 200 * time.Millisecond
	}
	s := &Supervisor{
		settings:   settings,
		logger:     logging.NewComponentLogger(logger, "engine").With(logging.String(logging.FieldDaemon, settings.Name)),
		exec:       CommandExecutor{},
		sleep:      SleepContext,
		newChannel: func(dir string) (sentinel.Channel, error) { return sentinel.NewFile(dir) },
		stopWatch:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the daemon name.
func (s *Supervisor) Name() string {
	return s.settings.Name
}

// Liveness exposes the read side of the state cell.
func (s *Supervisor) Liveness() *Liveness {
	return &s.live
}

// Start launches the engine daemon with a freshly rendered bootstrap script.
// It returns once the launcher process has been spawned; use WaitUntilReady
// before issuing requests.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.live.transition(StateNotStarted, StateStarting) {
		return fmt.Errorf("engine daemon %q: supervisor already used", s.settings.Name)
	}
	if err := s.claim(); err != nil {
		s.live.transition(StateStarting, StateNotStarted)
		return err
	}

	entry := s.locateEntryScript()
	channel, err := s.newChannel(s.settings.TempDir)
	if err != nil {
		return s.failStart(services.Wrap(services.ErrDaemonStartup, "engine", "start", "allocate sentinel", err))
	}

	params := s.settings.Bootstrap
	params.DebugFile = channel.Path()
	params.EntryScript = entry
	s.debugLog("engine bootstrap script",
		logging.String("emacs", s.settings.Emacs),
		logging.String("script", script.BootstrapSource(params)),
	)

	s.mu.Lock()
	s.channel = channel
	s.entry = entry
	s.mu.Unlock()

	proc, err := s.exec.Start(ctx, LaunchCommand(s.settings.Emacs, s.settings.Name, script.Bootstrap(params)))
	if err != nil {
		return s.failStart(services.Wrap(services.ErrDaemonStartup, "engine", "spawn", s.settings.Emacs, err))
	}

	s.mu.Lock()
	s.pid = proc.Pid()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.live.transition(StateStarting, StateAlive)
	s.logger.Info("engine daemon launched",
		logging.String(logging.FieldEventType, "daemon_launch"),
		logging.Int("pid", proc.Pid()),
		logging.String("entry_script", entry),
	)

	go s.observeExit(proc)
	return nil
}

func (s *Supervisor) failStart(err error) error {
	s.live.markDead(err)
	logging.ErrorWithContext(s.logger, "engine daemon failed to start", "daemon_start_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the emacs binary and entry script paths"),
	)
	s.release()
	return err
}

func (s *Supervisor) observeExit(proc Process) {
	waitErr := proc.Wait()
	if s.checkSentinel("exit") {
		return
	}
	if waitErr != nil && !s.live.Dead() {
		logging.WarnWithContext(s.logger, "engine launcher exited with error", "daemon_launch_exit",
			logging.Error(waitErr),
			logging.String(logging.FieldImpact, "requests will retry until the daemon answers"),
		)
		return
	}
	s.logger.Debug("engine launcher exited", logging.String(logging.FieldEventType, "daemon_launch_exit"))
}

// checkSentinel reads the sentinel channel and flips liveness on a fatal
// record. It reports whether a record was found.
func (s *Supervisor) checkSentinel(trigger string) bool {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		return false
	}
	rec, ok := channel.Check()
	if !ok {
		return false
	}
	reason := services.Wrap(services.ErrDaemonDead, "engine", trigger, "fatal engine error", rec)
	if !s.live.markDead(reason) {
		return true
	}
	logging.ErrorWithContext(s.logger, rec.Message, "daemon_fatal",
		logging.String("trigger", trigger),
		logging.String("code", rec.Code),
		logging.String(logging.FieldErrorHint, "inspect the engine configuration and user config"),
	)
	s.fatalOnce.Do(func() {
		if s.onFatal != nil {
			s.onFatal(rec)
		}
	})
	s.release()
	return true
}

// Stop asks the daemon to exit. It does not block: the returned channel
// yields once the daemon confirmed the stop, the attempt bound was reached,
// or ctx ended. Stop on a dead or never-started daemon spawns nothing.
func (s *Supervisor) Stop(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if state := s.live.State(); state == StateDead || state == StateNotStarted {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		done <- s.stopLoop(ctx)
	}()
	return done
}

func (s *Supervisor) stopLoop(ctx context.Context) error {
	cmd := KillCommand(s.settings.EmacsClient, s.settings.Name)
	for attempt := 1; ; attempt++ {
		if s.live.Dead() {
			return nil
		}
		err := s.exec.Run(ctx, cmd)
		if err == nil {
			if s.live.markDead(services.Wrap(services.ErrDaemonStopped, "engine", "stop", "", nil)) {
				s.logger.Info("engine daemon stopped",
					logging.String(logging.FieldEventType, "daemon_stop"),
					logging.Int(logging.FieldAttempt, attempt),
				)
			}
			s.release()
			return nil
		}
		if limit := s.settings.StopMaxAttempts; limit > 0 && attempt >= limit {
			logging.WarnWithContext(s.logger, "engine daemon did not acknowledge stop", "daemon_stop_gave_up",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(err),
				logging.String(logging.FieldImpact, "daemon may still be running"),
				logging.String(logging.FieldErrorHint, "run emacsclient -s "+s.settings.Name+" -e '(kill-emacs)'"),
			)
			return services.Wrap(services.ErrTimeout, "engine", "stop", fmt.Sprintf("gave up after %d attempts", attempt), err)
		}
		s.debugLog("waiting for engine daemon exit",
			logging.String(logging.FieldEventType, "daemon_stop_retry"),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(err),
		)
		if err := s.sleep(ctx, s.settings.StopRetryInterval); err != nil {
			return err
		}
	}
}

// WaitUntilReady blocks until the daemon answers a ping. It returns the
// death reason immediately when the daemon is dead.
func (s *Supervisor) WaitUntilReady(ctx context.Context) error {
	if s.live.Dead() {
		return s.live.Reason()
	}
	if s.settings.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.ReadyTimeout)
		defer cancel()
	}

	cmd := PingCommand(s.settings.EmacsClient, s.settings.Name)
	for attempt := 1; ; attempt++ {
		if s.live.Dead() {
			return s.live.Reason()
		}
		err := s.exec.Run(ctx, cmd)
		if err == nil {
			s.logger.Info("engine daemon ready",
				logging.String(logging.FieldEventType, "daemon_ready"),
				logging.Int(logging.FieldAttempt, attempt),
			)
			s.startWatch()
			return nil
		}
		s.logger.Debug("engine daemon not ready",
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(err),
		)
		if err := s.sleep(ctx, s.settings.ReadyPollInterval); err != nil {
			if s.live.Dead() {
				return s.live.Reason()
			}
			return services.Wrap(services.ErrTimeout, "engine", "wait", fmt.Sprintf("daemon not ready after %d pings", attempt), err)
		}
	}
}

// Ping issues a single health-check directive.
func (s *Supervisor) Ping(ctx context.Context) error {
	if s.live.Dead() {
		return s.live.Reason()
	}
	return s.exec.Run(ctx, PingCommand(s.settings.EmacsClient, s.settings.Name))
}

func (s *Supervisor) startWatch() {
	interval := s.settings.WatchInterval
	if interval <= 0 {
		return
	}
	s.watchOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-s.stopWatch:
					return
				case <-ticker.C:
					if s.live.Dead() || s.checkSentinel("watch") {
						return
					}
				}
			}
		}()
	})
}

// Status returns a snapshot of supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		Name:        s.settings.Name,
		State:       s.live.State(),
		PID:         s.pid,
		EntryScript: s.entry,
		StartedAt:   s.startedAt,
	}
	if s.channel != nil {
		status.SentinelPath = s.channel.Path()
	}
	if reason := s.live.Reason(); reason != nil {
		status.Reason = reason.Error()
	}
	return status
}

// Close releases the name claim, the lock file, and the sentinel channel.
// It does not stop the daemon.
func (s *Supervisor) Close() error {
	s.release()
	return nil
}

func (s *Supervisor) claim() error {
	if !claimName(s.settings.Name, s) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.settings.Name)
	}
	if s.settings.LockPath == "" {
		return nil
	}
	lock := flock.New(s.settings.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		releaseName(s.settings.Name, s)
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		releaseName(s.settings.Name, s)
		return fmt.Errorf("%w: %s (lock %s)", ErrAlreadyRunning, s.settings.Name, s.settings.LockPath)
	}
	s.mu.Lock()
	s.lock = lock
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) release() {
	s.closeOnce.Do(func() {
		close(s.stopWatch)
		s.mu.Lock()
		lock := s.lock
		channel := s.channel
		s.mu.Unlock()
		if channel != nil {
			if err := channel.Close(); err != nil {
				s.logger.Debug("sentinel cleanup failed", logging.Error(err))
			}
		}
		if lock != nil {
			if err := lock.Unlock(); err != nil {
				s.logger.Warn("failed to release daemon lock", logging.Error(err))
			}
		}
		releaseName(s.settings.Name, s)
	})
}

func (s *Supervisor) locateEntryScript() string {
	candidates := s.settings.EntryCandidates
	if len(candidates) == 0 {
		return ""
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	fallback := candidates[len(candidates)-1]
	logging.WarnWithContext(s.logger, "engine entry script not found", "entry_script_missing",
		logging.Any("candidates", candidates),
		logging.String(logging.FieldImpact, "engine will fail to load the renderer"),
		logging.String(logging.FieldErrorHint, "install hexo-renderer-org or set engine.entry_script"),
	)
	return fallback
}

func (s *Supervisor) debugLog(msg string, attrs ...logging.Attr) {
	if s.settings.Debug {
		s.logger.Info(msg, logging.Args(attrs...)...)
		return
	}
	s.logger.Debug(msg, logging.Args(attrs...)...)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
