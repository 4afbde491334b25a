package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/record"
)

func TestEnqueue_Persists(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := enqueueTest(t, s, "op-1", "cart-42", 0)

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, record.OperationType("UPDATE"), got.Type)
	assert.Equal(t, "cart-42", got.ResourceID)
	assert.Equal(t, `{"id":"op-1"}`, string(got.Payload))
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.True(t, got.CreatedAt.Equal(testEpoch))
	assert.True(t, got.NextEligibleAt.Equal(testEpoch))
	assert.Nil(t, got.LastAttemptAt)
	assert.Positive(t, got.Seq)
}

func TestEnqueue_GeneratesID(t *testing.T) {
	s := createTestStore(t, WithIDGenerator(record.NewFixedGenerator("gen-1")))

	id, err := s.Enqueue(context.Background(), record.Record{
		Type:       "ADD",
		ResourceID: "r",
		CreatedAt:  testEpoch,
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-1", id)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got.Payload))
	assert.Equal(t, record.StatusPending, got.Status)
}

func TestEnqueue_DuplicateIDIsNoop(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	enqueueTest(t, s, "op-1", "a", 0)
	dup := record.Record{ID: "op-1", Type: "DELETE", ResourceID: "b", CreatedAt: testEpoch}
	id, err := s.Enqueue(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, "op-1", id)

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, record.OperationType("UPDATE"), got.Type, "first write wins")
}

func TestEnqueue_Rejects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	last := testEpoch.Add(time.Minute)

	tests := []struct {
		name string
		rec  record.Record
	}{
		{"missing type", record.Record{ID: "x", ResourceID: "r", CreatedAt: testEpoch}},
		{"missing created_at", record.Record{ID: "x", Type: "ADD", ResourceID: "r"}},
		{"bad status", record.Record{ID: "x", Type: "ADD", CreatedAt: testEpoch, Status: "DONE"}},
		{"bad payload", record.Record{ID: "x", Type: "ADD", CreatedAt: testEpoch, Payload: []byte("{")}},
		{"negative attempts", record.Record{ID: "x", Type: "ADD", CreatedAt: testEpoch, AttemptCount: -1}},
		{"eligible before last attempt", record.Record{
			ID: "x", Type: "ADD", CreatedAt: testEpoch, LastAttemptAt: &last, NextEligibleAt: testEpoch,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Enqueue(ctx, tt.rec)
			assert.Error(t, err)
		})
	}

	recs, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEnqueue_DurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	enqueueTest(t, s1, "op-1", "cart-42", 0)
	enqueueTest(t, s1, "op-2", "cart-42", time.Second)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	eligible, err := s2.ListEligible(ctx, testEpoch.Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"op-1", "op-2"}, ids(eligible))
}

func TestMarkInFlight(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)

	now := testEpoch.Add(time.Second)
	require.NoError(t, s.MarkInFlight(ctx, "op-1", now))

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusInFlight, got.Status)
	require.NotNil(t, got.ClaimedAt)
	assert.True(t, got.ClaimedAt.Equal(now))

	err = s.MarkInFlight(ctx, "op-1", now)
	assert.ErrorIs(t, err, ErrNotClaimable)

	err = s.MarkInFlight(ctx, "missing", now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkInFlight_ExclusiveUnderContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	const records = 20
	for i := 0; i < records; i++ {
		enqueueTest(t, a, "op-"+string(rune('a'+i)), "r-"+string(rune('a'+i)), time.Duration(i)*time.Millisecond)
	}

	var claimed atomic.Int64
	var wg sync.WaitGroup
	for _, s := range []*Store{a, a, b, b} {
		wg.Add(1)
		go func(s *Store) {
			defer wg.Done()
			for i := 0; i < records; i++ {
				if err := s.MarkInFlight(ctx, "op-"+string(rune('a'+i)), testEpoch); err == nil {
					claimed.Add(1)
				}
			}
		}(s)
	}
	wg.Wait()

	assert.Equal(t, int64(records), claimed.Load(), "each record claimed exactly once")
}

func TestMarkSucceeded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)

	err := s.MarkSucceeded(ctx, "op-1", testEpoch)
	assert.ErrorIs(t, err, ErrNotInFlight, "must be claimed first")

	require.NoError(t, s.MarkInFlight(ctx, "op-1", testEpoch))
	done := testEpoch.Add(2 * time.Second)
	require.NoError(t, s.MarkSucceeded(ctx, "op-1", done))

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusSucceeded, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.ClaimedAt)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(done))
	require.NotNil(t, got.LastAttemptAt)
	assert.False(t, got.NextEligibleAt.Before(*got.LastAttemptAt))
}

func TestMarkFailed_RetriesThenGivesUp(t *testing.T) {
	s := createTestStore(t, WithMaxAttempts(3))
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)

	now := testEpoch
	wantStatus := []record.Status{record.StatusPending, record.StatusPending, record.StatusFailed}
	for i, want := range wantStatus {
		require.NoError(t, s.MarkInFlight(ctx, "op-1", now))
		status, err := s.MarkFailed(ctx, "op-1", now, now.Add(time.Second), "503")
		require.NoError(t, err)
		assert.Equal(t, want, status, "attempt %d", i+1)

		got, err := s.Get(ctx, "op-1")
		require.NoError(t, err)
		assert.Equal(t, i+1, got.AttemptCount)
		assert.Equal(t, "503", got.LastError)
		now = now.Add(time.Second)
	}

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.NotNil(t, got.FinishedAt)

	err = s.MarkInFlight(ctx, "op-1", now)
	assert.ErrorIs(t, err, ErrNotClaimable, "terminal records are never claimed again")
}

func TestMarkFailed_NextEligibleNeverBeforeNow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)
	require.NoError(t, s.MarkInFlight(ctx, "op-1", testEpoch))

	now := testEpoch.Add(time.Minute)
	_, err := s.MarkFailed(ctx, "op-1", now, testEpoch, "timeout")
	require.NoError(t, err)

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.True(t, got.NextEligibleAt.Equal(now))
	assert.True(t, got.LastAttemptAt.Equal(now))
}

func TestMarkFailed_NotInFlight(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)

	_, err := s.MarkFailed(ctx, "op-1", testEpoch, testEpoch, "x")
	assert.ErrorIs(t, err, ErrNotInFlight)

	_, err = s.MarkFailed(ctx, "nope", testEpoch, testEpoch, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkTerminal(t *testing.T) {
	s := createTestStore(t, WithMaxAttempts(10))
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)
	require.NoError(t, s.MarkInFlight(ctx, "op-1", testEpoch))

	require.NoError(t, s.MarkTerminal(ctx, "op-1", testEpoch, "422 unprocessable"))

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "422 unprocessable", got.LastError)
}

func TestRelease(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)
	require.NoError(t, s.MarkInFlight(ctx, "op-1", testEpoch))

	require.NoError(t, s.Release(ctx, "op-1"))

	got, err := s.Get(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Nil(t, got.ClaimedAt)

	assert.ErrorIs(t, s.Release(ctx, "op-1"), ErrNotInFlight)
}

func TestRecoverStale(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "old", "a", 0)
	enqueueTest(t, s, "fresh", "b", 0)
	require.NoError(t, s.MarkInFlight(ctx, "old", testEpoch))
	require.NoError(t, s.MarkInFlight(ctx, "fresh", testEpoch.Add(4*time.Minute)))

	now := testEpoch.Add(5 * time.Minute)

	n, err := s.RecoverStale(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "zero timeout disables recovery")

	n, err = s.RecoverStale(ctx, now, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old, err := s.Get(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, record.StatusPending, old.Status)
	assert.Equal(t, 0, old.AttemptCount)

	fresh, err := s.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, record.StatusInFlight, fresh.Status)
}

func TestPurgeOlderThan(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"done-old", "failed-old", "done-new", "pending"} {
		enqueueTest(t, s, id, id, 0)
	}

	require.NoError(t, s.MarkInFlight(ctx, "done-old", testEpoch))
	require.NoError(t, s.MarkSucceeded(ctx, "done-old", testEpoch))
	require.NoError(t, s.MarkInFlight(ctx, "failed-old", testEpoch))
	require.NoError(t, s.MarkTerminal(ctx, "failed-old", testEpoch, "rejected"))
	require.NoError(t, s.MarkInFlight(ctx, "done-new", testEpoch))
	require.NoError(t, s.MarkSucceeded(ctx, "done-new", testEpoch.Add(6*24*time.Hour)))

	window := 7 * 24 * time.Hour
	n, err := s.PurgeOlderThan(ctx, testEpoch.Add(8*24*time.Hour), window)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"done-new", "pending"}, ids(remaining))
}
