package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/offsync/internal/connectivity"
	"github.com/roach88/offsync/internal/store"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OpenQueue opens a fresh SQLite queue in a temp directory, closed on cleanup.
func OpenQueue(t testing.TB, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"), opts...)
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// NewMonitor returns a monitor driven by a manual source starting at initial.
// The monitor is closed on cleanup.
func NewMonitor(t testing.TB, initial connectivity.State) (*connectivity.Monitor, *connectivity.ManualSource) {
	t.Helper()
	src := connectivity.NewManualSource(initial)
	m, err := connectivity.NewMonitor(src, connectivity.WithLogger(DiscardLogger()))
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	t.Cleanup(m.Close)
	return m, src
}
