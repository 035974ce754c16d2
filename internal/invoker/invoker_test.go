package invoker_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orgrender/internal/engine"
	"orgrender/internal/invoker"
	"orgrender/internal/logging"
	"orgrender/internal/services"
)

var outputFilePattern = regexp.MustCompile(`:output-file "([^"]+)"`)

type fakeLiveness struct {
	dead atomic.Bool
}

func (f *fakeLiveness) Dead() bool { return f.dead.Load() }

func (f *fakeLiveness) Reason() error {
	if f.dead.Load() {
		return errors.New("fatal parse error")
	}
	return nil
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []engine.Command
	run   func(ctx context.Context, n int, outputPath string) error
}

func (f *fakeExecutor) Start(context.Context, engine.Command) (engine.Process, error) {
	return nil, errors.New("not supported")
}

func (f *fakeExecutor) Run(ctx context.Context, cmd engine.Command) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	n := len(f.calls)
	f.mu.Unlock()
	var output string
	if m := outputFilePattern.FindStringSubmatch(cmd.Args[len(cmd.Args)-1]); m != nil {
		output = m[1]
	}
	if f.run == nil {
		return nil
	}
	return f.run(ctx, n, output)
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type recorder struct {
	mu      sync.Mutex
	results []invoker.Result
}

func (r *recorder) Record(_ context.Context, res invoker.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func defaultSettings(t *testing.T, name string) invoker.Settings {
	t.Helper()
	return invoker.Settings{
		EmacsClient: "emacsclient",
		Name:        name,
		ClientTTY:   true,
		TempDir:     t.TempDir(),
		Backoff: invoker.Backoff{
			MaxRetries: 100,
			Min:        100 * time.Millisecond,
			Max:        time.Second,
			Factor:     2,
			Randomize:  true,
		},
	}
}

func newInvoker(t *testing.T, settings invoker.Settings, live invoker.Liveness, logger *bytes.Buffer, opts ...invoker.Option) *invoker.Invoker {
	t.Helper()
	base := logging.NewNop()
	if logger != nil {
		var err error
		base, err = logging.New(logging.Options{Format: "console", Level: "info", Writer: logger})
		if err != nil {
			t.Fatal(err)
		}
	}
	inv, err := invoker.New(settings, live, base, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return inv
}

func TestInvokeRetriesUntilClientSucceeds(t *testing.T) {
	settings := defaultSettings(t, "retry-success")
	settings.Debug = true
	exec := &fakeExecutor{run: func(_ context.Context, n int, output string) error {
		if n < 4 {
			return errors.New("exit status 1")
		}
		return os.WriteFile(output, []byte("<p>hello</p>"), 0o644)
	}}
	sleeper := &recordingSleeper{}
	var logs bytes.Buffer
	inv := newInvoker(t, settings, &fakeLiveness{}, &logs, invoker.WithExecutor(exec), invoker.WithSleeper(sleeper.sleep))

	res := inv.Invoke(context.Background(), invoker.Request{Source: "/blog/source/_posts/hello.org"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if res.Output != "<p>hello</p>" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.Attempts != 4 || res.Retries() != 3 {
		t.Fatalf("expected 4 attempts, got %d", res.Attempts)
	}
	if len(sleeper.delays) != 3 {
		t.Fatalf("expected 3 waits, got %v", sleeper.delays)
	}
	if got := strings.Count(logs.String(), "render attempt"); got != 4 {
		t.Fatalf("expected 4 attempt logs, got %d in %q", got, logs.String())
	}
	if res.RequestID == "" {
		t.Fatal("expected request id")
	}
	entries, _ := os.ReadDir(settings.TempDir)
	if len(entries) != 0 {
		t.Fatalf("expected output file removed after success, found %d entries", len(entries))
	}
}

func TestInvokeSilentWithoutDebug(t *testing.T) {
	settings := defaultSettings(t, "retry-quiet")
	exec := &fakeExecutor{run: func(_ context.Context, n int, _ string) error {
		if n < 2 {
			return errors.New("exit status 1")
		}
		return nil
	}}
	var logs bytes.Buffer
	inv := newInvoker(t, settings, &fakeLiveness{}, &logs, invoker.WithExecutor(exec), invoker.WithSleeper((&recordingSleeper{}).sleep))

	res := inv.Invoke(context.Background(), invoker.Request{Source: "post.org"})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no output at info level without debug, got %q", logs.String())
	}
}

func TestInvokeAlwaysFailingExhaustsRetryBudget(t *testing.T) {
	settings := defaultSettings(t, "retry-exhaust")
	exec := &fakeExecutor{run: func(context.Context, int, string) error { return errors.New("exit status 1") }}
	sleeper := &recordingSleeper{}
	inv := newInvoker(t, settings, &fakeLiveness{}, nil, invoker.WithExecutor(exec), invoker.WithSleeper(sleeper.sleep))

	res := inv.Invoke(context.Background(), invoker.Request{Source: "post.org"})
	if !errors.Is(res.Err, services.ErrDaemonUnreachable) {
		t.Fatalf("expected unreachable, got %v", res.Err)
	}
	if res.Retries() != 100 || exec.count() != 101 {
		t.Fatalf("expected 100 retries over 101 spawns, got retries=%d spawns=%d", res.Retries(), exec.count())
	}
	if len(sleeper.delays) != 100 {
		t.Fatalf("expected 100 waits, got %d", len(sleeper.delays))
	}
	if sleeper.delays[0] < 100*time.Millisecond {
		t.Fatalf("first delay below minimum: %v", sleeper.delays[0])
	}
	for i, d := range sleeper.delays {
		if d > time.Second {
			t.Fatalf("delay %d above cap: %v", i, d)
		}
		if i > 0 && d < sleeper.delays[i-1] {
			t.Fatalf("delay %d decreased: %v < %v", i, d, sleeper.delays[i-1])
		}
	}
	if res.OutputPath == "" {
		t.Fatal("expected output file kept for diagnosis")
	}
}

func TestInvokeDeadDaemonSpawnsNothing(t *testing.T) {
	live := &fakeLiveness{}
	live.dead.Store(true)
	exec := &fakeExecutor{}
	inv := newInvoker(t, defaultSettings(t, "dead"), live, nil, invoker.WithExecutor(exec))

	res := inv.Invoke(context.Background(), invoker.Request{Source: "post.org"})
	if !errors.Is(res.Err, services.ErrDaemonDead) {
		t.Fatalf("expected dead error, got %v", res.Err)
	}
	if res.Output != "" || res.Attempts != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if exec.count() != 0 {
		t.Fatalf("expected zero spawns, got %d", exec.count())
	}
}

func TestInvokeStopsWhenDaemonDiesMidRetry(t *testing.T) {
	live := &fakeLiveness{}
	exec := &fakeExecutor{run: func(_ context.Context, n int, output string) error {
		_ = os.WriteFile(output, []byte("partial"), 0o644)
		if n == 2 {
			live.dead.Store(true)
		}
		return errors.New("exit status 1")
	}}
	settings := defaultSettings(t, "dies-mid-retry")
	inv := newInvoker(t, settings, live, nil, invoker.WithExecutor(exec), invoker.WithSleeper((&recordingSleeper{}).sleep))

	res := inv.Invoke(context.Background(), invoker.Request{Source: "post.org"})
	if !errors.Is(res.Err, services.ErrDaemonDead) {
		t.Fatalf("expected dead error, got %v", res.Err)
	}
	if res.Output != "" {
		t.Fatalf("dead daemon must yield empty output, got %q", res.Output)
	}
	if exec.count() != 2 {
		t.Fatalf("expected 2 spawns, got %d", exec.count())
	}
}

func TestInvokeEmptyOutputIsSuccess(t *testing.T) {
	inv := newInvoker(t, defaultSettings(t, "empty-output"), &fakeLiveness{}, nil, invoker.WithExecutor(&fakeExecutor{}))
	res := inv.Invoke(context.Background(), invoker.Request{Source: "empty.org"})
	if res.Err != nil || res.Output != "" || res.Attempts != 1 {
		t.Fatalf("expected empty success, got %+v", res)
	}
}

func TestInvokeBuildsClientCommand(t *testing.T) {
	exec := &fakeExecutor{}
	settings := defaultSettings(t, "client-args")
	inv := newInvoker(t, settings, &fakeLiveness{}, nil, invoker.WithExecutor(exec))
	inv.Invoke(context.Background(), invoker.Request{Source: `C:\posts\a.org`})

	cmd := exec.calls[0]
	if cmd.Binary != "emacsclient" || !cmd.Inherit {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if len(cmd.Args) != 5 || cmd.Args[0] != "-nw" || cmd.Args[1] != "-s" || cmd.Args[2] != "client-args" || cmd.Args[3] != "-e" {
		t.Fatalf("unexpected args: %q", cmd.Args)
	}
	if !strings.Contains(cmd.Args[4], `(hexo-renderer-org '(:file "C:/posts/a.org"`) || !strings.HasSuffix(cmd.Args[4], "(delete-frame))") {
		t.Fatalf("unexpected request script: %q", cmd.Args[4])
	}

	settings.ClientTTY = false
	settings.Name = "client-args-notty"
	exec = &fakeExecutor{}
	inv = newInvoker(t, settings, &fakeLiveness{}, nil, invoker.WithExecutor(exec))
	inv.Invoke(context.Background(), invoker.Request{Source: "a.org"})
	if exec.calls[0].Args[0] != "-s" || exec.calls[0].Inherit {
		t.Fatalf("expected no terminal flags, got %+v", exec.calls[0])
	}
}

func TestInvokeCopiesRequestedOutput(t *testing.T) {
	exec := &fakeExecutor{run: func(_ context.Context, _ int, output string) error {
		return os.WriteFile(output, []byte("<h1>done</h1>"), 0o644)
	}}
	rec := &recorder{}
	inv := newInvoker(t, defaultSettings(t, "copy-output"), &fakeLiveness{}, nil, invoker.WithExecutor(exec), invoker.WithRecorder(rec))
	target := filepath.Join(t.TempDir(), "post.html")

	res := inv.Invoke(context.Background(), invoker.Request{Source: "post.org", Output: target})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "<h1>done</h1>" {
		t.Fatalf("expected copied output, got %q err=%v", data, err)
	}
	if len(rec.results) != 1 || rec.results[0].RequestID != res.RequestID {
		t.Fatalf("expected one recorded result, got %+v", rec.results)
	}
}

func TestInvokeAttemptTimeoutCountsAsFailure(t *testing.T) {
	settings := defaultSettings(t, "attempt-timeout")
	settings.AttemptTimeout = 20 * time.Millisecond
	settings.Backoff.MaxRetries = 1
	exec := &fakeExecutor{run: func(ctx context.Context, _ int, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	inv := newInvoker(t, settings, &fakeLiveness{}, nil, invoker.WithExecutor(exec), invoker.WithSleeper((&recordingSleeper{}).sleep))

	res := inv.Invoke(context.Background(), invoker.Request{Source: "hung.org"})
	if !errors.Is(res.Err, services.ErrDaemonUnreachable) || !errors.Is(res.Err, services.ErrTimeout) {
		t.Fatalf("expected unreachable wrapping timeout, got %v", res.Err)
	}
	if exec.count() != 2 {
		t.Fatalf("expected 2 attempts, got %d", exec.count())
	}
}

func TestInvokeSerializesRequestsPerDaemon(t *testing.T) {
	var inFlight, peak atomic.Int32
	exec := &fakeExecutor{run: func(context.Context, int, string) error {
		current := inFlight.Add(1)
		for {
			old := peak.Load()
			if current <= old || peak.CompareAndSwap(old, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}}
	settings := defaultSettings(t, "serialized")
	first := newInvoker(t, settings, &fakeLiveness{}, nil, invoker.WithExecutor(exec))
	second := newInvoker(t, settings, &fakeLiveness{}, nil, invoker.WithExecutor(exec))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); first.Invoke(context.Background(), invoker.Request{Source: "a.org"}) }()
		go func() { defer wg.Done(); second.Invoke(context.Background(), invoker.Request{Source: "b.org"}) }()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Fatalf("expected serialized client calls, peak concurrency %d", peak.Load())
	}
}

func TestNewRequiresSettings(t *testing.T) {
	if _, err := invoker.New(invoker.Settings{}, &fakeLiveness{}, nil); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := invoker.New(invoker.Settings{EmacsClient: "c", Name: "n"}, nil, nil); err == nil {
		t.Fatal("expected error without liveness")
	}
}
