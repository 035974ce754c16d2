package testsupport

import (
	"testing"

	"orgrender/internal/config"
	"orgrender/internal/history"
)

// MustOpenHistory opens the render history store for tests and registers cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(cfg.HistoryPath(), cfg.Engine.DaemonName)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
