package history_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"orgrender/internal/history"
	"orgrender/internal/invoker"
	"orgrender/internal/services"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "logs", "history.db"), "hexo-renderer-org")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "post.org")
	if err := os.WriteFile(source, []byte("* Hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ok := invoker.Result{RequestID: "req-1", Source: source, Output: "<h1>Hello</h1>", Attempts: 2, Duration: 1500 * time.Millisecond}
	failed := invoker.Result{RequestID: "req-2", Source: "missing.org", Attempts: 101,
		Err: services.Wrap(services.ErrDaemonUnreachable, "invoker", "render", "", errors.New("exit status 1"))}
	for _, res := range []invoker.Result{ok, failed} {
		if err := store.Record(ctx, res); err != nil {
			t.Fatalf("Record(%s): %v", res.RequestID, err)
		}
	}

	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	newest, oldest := entries[0], entries[1]
	if newest.RequestID != "req-2" || newest.Status != services.OutcomeUnreachable || newest.Attempts != 101 {
		t.Fatalf("unexpected newest entry: %+v", newest)
	}
	if newest.SourceDigest != "" || newest.ErrorMessage == "" {
		t.Fatalf("expected missing digest and error message, got %+v", newest)
	}
	if oldest.Status != services.OutcomeSucceeded || oldest.OutputBytes != len(ok.Output) || oldest.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected oldest entry: %+v", oldest)
	}
	if oldest.Daemon != "hexo-renderer-org" || oldest.CreatedAt.IsZero() {
		t.Fatalf("expected daemon and timestamp, got %+v", oldest)
	}

	want, err := history.DigestFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if len(want) != 64 || oldest.SourceDigest != want {
		t.Fatalf("unexpected digest %q want %q", oldest.SourceDigest, want)
	}
	last, err := store.LastDigest(ctx, source)
	if err != nil || last != want {
		t.Fatalf("LastDigest = %q, %v", last, err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[services.OutcomeSucceeded] != 1 || stats[services.OutcomeUnreachable] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestLastDigestUnknownSource(t *testing.T) {
	store := openStore(t)
	digest, err := store.LastDigest(context.Background(), "never-rendered.org")
	if err != nil || digest != "" {
		t.Fatalf("expected empty digest, got %q %v", digest, err)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path, "blog")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Record(context.Background(), invoker.Result{RequestID: "req-1", Source: "a.org", Attempts: 1}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := history.Open(path, "blog")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	entries, err := reopened.Recent(context.Background(), 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected persisted entry, got %d %v", len(entries), err)
	}
}

func TestDigestDiffersWithContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.org")
	b := filepath.Join(dir, "b.org")
	_ = os.WriteFile(a, []byte("one"), 0o644)
	_ = os.WriteFile(b, []byte("two"), 0o644)
	da, _ := history.DigestFile(a)
	db, _ := history.DigestFile(b)
	if da == "" || da == db {
		t.Fatalf("expected distinct digests, got %q %q", da, db)
	}
}
