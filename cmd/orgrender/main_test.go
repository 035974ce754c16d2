package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"orgrender/internal/config"
	"orgrender/internal/ipc"
	"orgrender/internal/services"
	"orgrender/internal/testsupport"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeConfigFile(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "orgrender.toml")
	testsupport.WriteFile(t, path, string(data))
	return path
}

func stubbedCLIConfig(t *testing.T, name string) (*config.Config, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t,
		testsupport.WithStubbedBinaries(),
		testsupport.WithEntryScript(),
		testsupport.WithDaemonName(name),
	)
	cfg.Logging.Level = "error"
	return cfg, writeConfigFile(t, cfg)
}

func TestConfigInitAndValidate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")

	stdout, _, err := runCLI(t, "config", "init", "--path", path)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout, "Wrote sample configuration") {
		t.Fatalf("unexpected init output: %q", stdout)
	}

	if _, _, err := runCLI(t, "config", "init", "--path", path); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	stdout, _, err = runCLI(t, "--config", path, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(stdout, "Config path: "+path) || !strings.Contains(stdout, "Configuration valid") {
		t.Fatalf("unexpected validate output: %q", stdout)
	}
}

func TestRenderInProcessWritesNextToSource(t *testing.T) {
	cfg, configPath := stubbedCLIConfig(t, "cli-render")
	source := testsupport.WriteSource(t, testsupport.BaseDir(cfg), "post.org")

	stdout, _, err := runCLI(t, "--config", configPath, "render", "--local", source)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := filepath.Join(filepath.Dir(source), "post.html")
	if !strings.Contains(stdout, "Rendered "+source+" -> "+want+" (1 attempt)") {
		t.Fatalf("unexpected render output: %q", stdout)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read rendered file: %v", err)
	}
	if string(data) != testsupport.StubbedOutput {
		t.Fatalf("unexpected rendered content: %q", data)
	}
}

func TestRenderInProcessToStdout(t *testing.T) {
	cfg, configPath := stubbedCLIConfig(t, "cli-stdout")
	first := testsupport.WriteSource(t, testsupport.BaseDir(cfg), "a.org")
	second := testsupport.WriteSource(t, testsupport.BaseDir(cfg), "b.org")

	stdout, _, err := runCLI(t, "--config", configPath, "render", "--local", "--stdout", first, second)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if stdout != testsupport.StubbedOutput+testsupport.StubbedOutput {
		t.Fatalf("unexpected stdout: %q", stdout)
	}
}

func TestStatusWhenHostNotRunning(t *testing.T) {
	_, configPath := stubbedCLIConfig(t, "cli-status")

	stdout, _, err := runCLI(t, "--config", configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"== Host ==", "Not running", "== Dependencies ==", "Emacs client:", "No renders recorded"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in status output:\n%s", want, stdout)
		}
	}
}

func TestStopWhenHostNotRunning(t *testing.T) {
	_, configPath := stubbedCLIConfig(t, "cli-stop")
	stdout, _, err := runCLI(t, "--config", configPath, "stop")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(stdout, "Host is not running") {
		t.Fatalf("unexpected stop output: %q", stdout)
	}
}

func TestBuildRenderRequests(t *testing.T) {
	outDir := t.TempDir()
	requests, err := buildRenderRequests([]string{"/blog/source/post.org", "/blog/source/about.org"}, outDir, false, true)
	if err != nil {
		t.Fatalf("buildRenderRequests: %v", err)
	}
	if len(requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(requests))
	}
	if requests[0].Output != filepath.Join(outDir, "post.html") || !requests[0].Debug {
		t.Fatalf("unexpected first request: %+v", requests[0])
	}

	requests, err = buildRenderRequests([]string{"/blog/source/post.org"}, "", true, false)
	if err != nil {
		t.Fatalf("buildRenderRequests: %v", err)
	}
	if requests[0].Output != "" {
		t.Fatalf("expected no output path for stdout mode, got %q", requests[0].Output)
	}

	if _, err := buildRenderRequests([]string{"post.org"}, outDir, true, false); err == nil {
		t.Fatal("expected --stdout with --out to be rejected")
	}
}

func TestRunRendersAbortsOnDeadEngine(t *testing.T) {
	calls := 0
	render := func(_ context.Context, req ipc.RenderRequest) (ipc.RenderResponse, error) {
		calls++
		if calls == 1 {
			return ipc.RenderResponse{Outcome: services.OutcomeUnreachable, Error: "client failed after 101 attempts", OutputPath: "/tmp/out.html"}, nil
		}
		return ipc.RenderResponse{Outcome: services.OutcomeDead, Error: "engine daemon is dead"}, nil
	}
	requests := []ipc.RenderRequest{{Source: "a.org"}, {Source: "b.org"}, {Source: "c.org"}}
	var stdout, stderr bytes.Buffer

	err := runRenders(context.Background(), &stdout, &stderr, requests, false, render)
	if err == nil || !strings.Contains(err.Error(), "engine daemon is dead") {
		t.Fatalf("expected dead-engine abort, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected abort after the second render, got %d calls", calls)
	}
	if !strings.Contains(stderr.String(), "partial output kept at /tmp/out.html") {
		t.Fatalf("expected partial output notice, got %q", stderr.String())
	}
}

func TestRunRendersCountsFailures(t *testing.T) {
	render := func(_ context.Context, req ipc.RenderRequest) (ipc.RenderResponse, error) {
		if req.Source == "bad.org" {
			return ipc.RenderResponse{Outcome: services.OutcomeFailed, Error: "boom"}, nil
		}
		return ipc.RenderResponse{Outcome: services.OutcomeSucceeded, Attempts: 3}, nil
	}
	requests := []ipc.RenderRequest{{Source: "good.org", Output: "good.html"}, {Source: "bad.org"}}
	var stdout, stderr bytes.Buffer

	err := runRenders(context.Background(), &stdout, &stderr, requests, false, render)
	if err == nil || err.Error() != "1 of 2 renders failed" {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stdout.String(), "good.org -> good.html (3 attempts)") {
		t.Fatalf("unexpected stdout: %q", stdout.String())
	}
}

func TestRunRendersTransportError(t *testing.T) {
	render := func(context.Context, ipc.RenderRequest) (ipc.RenderResponse, error) {
		return ipc.RenderResponse{}, errors.New("connection reset")
	}
	err := runRenders(context.Background(), &bytes.Buffer{}, &bytes.Buffer{}, []ipc.RenderRequest{{Source: "a.org"}}, false, render)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestRenderStatsRowsOrder(t *testing.T) {
	rows := renderStatsRows(map[string]int{"unreachable": 2, "succeeded": 5, "dead": 1})
	got := make([]string, 0, len(rows))
	for _, row := range rows {
		got = append(got, row[0])
	}
	if strings.Join(got, ",") != "succeeded,dead,unreachable" {
		t.Fatalf("unexpected order: %v", got)
	}
}
