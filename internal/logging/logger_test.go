package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"orgrender/internal/config"
	"orgrender/internal/logging"
	"orgrender/internal/services"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "orgrender.log")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("daemon starting", logging.String(logging.FieldDaemon, "hexo-renderer-org"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "orgrender.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "daemon starting") {
		t.Fatalf("expected message in log file, got %q", string(data))
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "invoker")
	component.Info("render attempt failed",
		logging.String(logging.FieldDaemon, "hexo-renderer-org"),
		logging.Int(logging.FieldAttempt, 2),
		logging.String("reason", "socket not ready"),
	)

	line := buf.String()
	if !strings.Contains(line, "INFO invoker [hexo-renderer-org]: render attempt failed") {
		t.Fatalf("unexpected console prefix: %q", line)
	}
	if !strings.Contains(line, "attempt=2") {
		t.Fatalf("expected attempt field, got %q", line)
	}
	if !strings.Contains(line, `reason="socket not ready"`) {
		t.Fatalf("expected quoted reason, got %q", line)
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should render as prefix, got %q", line)
	}
	if strings.Contains(line, ".go:") {
		t.Fatalf("info logs should omit source, got %q", line)
	}
}

func TestConsoleLoggerIncludesSourceForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("ping")
	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected source location in debug output, got %q", buf.String())
	}
}

func TestLevelFiltersLowerRecords(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("visible")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("info record should be filtered, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "WARN") {
		t.Fatalf("expected warn record, got %q", buf.String())
	}
}

func TestJSONLoggerUsesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithDaemon(context.Background(), "blog")
	ctx = services.WithRequestID(ctx, "req-123")
	logging.WithContext(ctx, logger).Info("render complete", logging.Error(errors.New("none")))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if payload["msg"] != "render complete" || payload["level"] != "info" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload[logging.FieldDaemon] != "blog" || payload[logging.FieldRequestID] != "req-123" {
		t.Fatalf("expected context fields, got %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "stop directive failed", "daemon_stop_retry")
	line := buf.String()
	for _, want := range []string{"event_type=daemon_stop_retry", "error_hint=", "impact="} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should not be enabled")
	}
}
