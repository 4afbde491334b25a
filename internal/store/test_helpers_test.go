package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/record"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh queue in a temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// enqueueTest enqueues a PENDING record created at the given offset from testEpoch.
func enqueueTest(t *testing.T, s *Store, id, resource string, offset time.Duration) record.Record {
	t.Helper()
	rec, err := record.New(id, "UPDATE", resource, []byte(`{"id":"`+id+`"}`), testEpoch.Add(offset))
	require.NoError(t, err)
	_, err = s.Enqueue(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func ids(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
