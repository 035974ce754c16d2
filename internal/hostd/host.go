package hostd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"orgrender/internal/config"
	"orgrender/internal/daemonctl"
	"orgrender/internal/engine"
	"orgrender/internal/history"
	"orgrender/internal/invoker"
	"orgrender/internal/ipc"
	"orgrender/internal/logging"
	"orgrender/internal/sentinel"
	"orgrender/internal/services"
)

// Option configures a Host.
type Option func(*Host)

// WithEngineOptions forwards options to the engine supervisor.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(h *Host) {
		h.engineOpts = append(h.engineOpts, opts...)
	}
}

// WithInvokerOptions forwards options to the client invoker.
func WithInvokerOptions(opts ...invoker.Option) Option {
	return func(h *Host) {
		h.invokerOpts = append(h.invokerOpts, opts...)
	}
}

// Host owns one engine daemon together with its invoker and render history.
// It is used in-process by one-shot renders and as the resident process
// behind `orgrender serve`.
type Host struct {
	cfg         *config.Config
	logger      *slog.Logger
	engineOpts  []engine.Option
	invokerOpts []invoker.Option

	sup   *engine.Supervisor
	inv   *invoker.Invoker
	store *history.Store

	startedAt    time.Time
	shutdown     chan struct{}
	shutdownOnce sync.Once

	mu    sync.Mutex
	abort context.CancelCauseFunc
}

// New wires the supervisor, invoker, and history store from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Host, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	h := &Host{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "host"),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	engineOpts := append([]engine.Option{engine.WithOnFatal(h.onFatal)}, h.engineOpts...)
	sup, err := engine.NewSupervisor(engine.SettingsFromConfig(cfg), logger, engineOpts...)
	if err != nil {
		return nil, err
	}
	h.sup = sup

	invokerOpts := h.invokerOpts
	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath(), cfg.Engine.DaemonName)
		if err != nil {
			logging.WarnWithContext(h.logger, "render history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String("history_path", cfg.HistoryPath()),
				logging.String(logging.FieldImpact, "renders will not be recorded"),
				logging.String(logging.FieldErrorHint, "check history.path permissions or disable history"),
			)
		} else {
			h.store = store
			invokerOpts = append([]invoker.Option{invoker.WithRecorder(store)}, invokerOpts...)
		}
	}

	inv, err := invoker.New(invoker.SettingsFromConfig(cfg), sup.Liveness(), logger, invokerOpts...)
	if err != nil {
		h.closeStore()
		return nil, err
	}
	h.inv = inv
	return h, nil
}

// Supervisor exposes the engine supervisor.
func (h *Host) Supervisor() *engine.Supervisor {
	return h.sup
}

// Start launches the engine daemon and blocks until it answers pings.
func (h *Host) Start(ctx context.Context) error {
	h.startedAt = time.Now()
	if err := h.sup.Start(ctx); err != nil {
		return err
	}
	return h.sup.WaitUntilReady(ctx)
}

// Stop stops the engine daemon, waits for the stop to finish, and releases
// the host resources. A daemon that is already dead is not signalled.
func (h *Host) Stop(ctx context.Context) error {
	err := <-h.sup.Stop(ctx)
	if closeErr := h.sup.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	h.closeStore()
	return err
}

// Render renders one document through the engine daemon.
func (h *Host) Render(ctx context.Context, req invoker.Request) invoker.Result {
	return h.inv.Invoke(ctx, req)
}

// Ping checks that the engine daemon answers.
func (h *Host) Ping(ctx context.Context) error {
	return h.sup.Ping(ctx)
}

// Shutdown asks Serve to stop the daemon and return.
func (h *Host) Shutdown() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

// Serve runs the resident host: it takes the host lock, starts the engine
// daemon, exposes IPC (and the HTTP API when configured), and waits for
// ctx cancellation, a shutdown request, or an engine fatal error. The engine
// daemon is stopped before Serve returns.
func (h *Host) Serve(ctx context.Context) error {
	lock := flock.New(h.cfg.HostLockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire host lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (lock %s)", engine.ErrAlreadyRunning, h.cfg.HostLockPath())
	}
	defer lock.Unlock()

	pidPath := h.cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	h.mu.Lock()
	h.abort = abort
	h.mu.Unlock()

	if err := h.Start(runCtx); err != nil {
		h.logger.Error("engine daemon failed to start",
			logging.Error(err),
			logging.String(logging.FieldEventType, "host_start_failed"),
			logging.String(logging.FieldErrorHint, "run orgrender status to check dependencies"),
		)
		h.stopDetached()
		return err
	}

	ipcServer, err := ipc.NewServer(runCtx, h.cfg.SocketPath(), &backend{host: h}, h.logger)
	if err != nil {
		h.stopDetached()
		return fmt.Errorf("start IPC server: %w", err)
	}
	ipcServer.Serve()

	var httpServer *http.Server
	if bind := h.cfg.API.Bind; bind != "" {
		httpServer, err = h.serveHTTP(bind)
		if err != nil {
			ipcServer.Close()
			h.stopDetached()
			return err
		}
	}

	h.logger.Info("orgrender host ready",
		logging.String(logging.FieldEventType, "host_ready"),
		logging.String("socket", h.cfg.SocketPath()),
		logging.String("api_bind", h.cfg.API.Bind),
	)

	select {
	case <-runCtx.Done():
	case <-h.shutdown:
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	ipcServer.Close()

	stopErr := h.stopDetached()
	if cause := context.Cause(runCtx); errors.Is(cause, services.ErrDaemonDead) {
		h.logger.Info("orgrender host exiting after engine failure",
			logging.String(logging.FieldEventType, "host_exit_fatal"))
		return cause
	}
	h.logger.Info("orgrender host shutting down", logging.String(logging.FieldEventType, "host_shutdown"))
	return stopErr
}

// stopDetached stops the daemon with a context independent of the serve
// context, which is usually already cancelled at this point.
func (h *Host) stopDetached() error {
	ctx := context.Background()
	if limit := h.stopBudget(); limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	err := h.Stop(ctx)
	if err != nil {
		logging.WarnWithContext(h.logger, "engine daemon stop failed", "engine_stop_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "engine daemon may still be running"),
			logging.String(logging.FieldErrorHint, "stop it manually with emacsclient -s "+h.cfg.Engine.DaemonName+" -e '(kill-emacs)'"),
		)
	}
	return err
}

func (h *Host) stopBudget() time.Duration {
	if h.cfg.Supervisor.StopMaxAttempts <= 0 {
		return 0
	}
	return time.Duration(h.cfg.Supervisor.StopMaxAttempts+1) * h.cfg.StopRetryInterval()
}

func (h *Host) onFatal(rec *sentinel.EngineError) {
	h.mu.Lock()
	abort := h.abort
	h.mu.Unlock()
	if abort != nil {
		abort(services.Wrap(services.ErrDaemonDead, "host", "watch", "engine reported a fatal error", rec))
	}
}

// Status reports host and engine daemon state.
func (h *Host) Status(ctx context.Context) ipc.StatusResponse {
	st := h.sup.Status()
	resp := ipc.StatusResponse{
		Running:      true,
		PID:          os.Getpid(),
		Daemon:       st.Name,
		State:        st.State.String(),
		EnginePID:    st.PID,
		EntryScript:  st.EntryScript,
		SentinelPath: st.SentinelPath,
		Reason:       st.Reason,
		LockPath:     h.cfg.HostLockPath(),
		Dependencies: daemonctl.ResolveDependencies(h.cfg),
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	if h.store != nil {
		resp.HistoryPath = h.store.Path()
		if stats, err := h.store.Stats(ctx); err == nil {
			resp.RenderStats = stats
		} else {
			h.logger.Debug("render stats unavailable", logging.Error(err))
		}
	}
	return resp
}

func (h *Host) serveHTTP(bind string) (*http.Server, error) {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}
	server := &http.Server{
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(h.logger, "HTTP API stopped", "api_serve_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "HTTP renders unavailable; IPC still works"),
				logging.String(logging.FieldErrorHint, "check api.bind"),
			)
		}
	}()
	h.logger.Info("HTTP API listening", logging.String("listen", listener.Addr().String()))
	return server, nil
}

func (h *Host) closeStore() {
	if h.store == nil {
		return
	}
	if err := h.store.Close(); err != nil {
		h.logger.Debug("history close failed", logging.Error(err))
	}
	h.store = nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// RenderResponse converts a render result to its wire form.
func RenderResponse(res invoker.Result) ipc.RenderResponse {
	resp := ipc.RenderResponse{
		RequestID:      res.RequestID,
		Output:         res.Output,
		OutputPath:     res.OutputPath,
		Attempts:       res.Attempts,
		DurationMillis: res.Duration.Milliseconds(),
		Outcome:        services.Outcome(res.Err),
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// backend adapts Host to the IPC surface.
type backend struct {
	host *Host
}

func (b *backend) Render(ctx context.Context, req ipc.RenderRequest) ipc.RenderResponse {
	return RenderResponse(b.host.Render(ctx, invoker.Request{Source: req.Source, Output: req.Output, Debug: req.Debug}))
}

func (b *backend) Ping(ctx context.Context) error {
	return b.host.Ping(ctx)
}

func (b *backend) Status(ctx context.Context) ipc.StatusResponse {
	return b.host.Status(ctx)
}

func (b *backend) Shutdown() {
	b.host.Shutdown()
}
