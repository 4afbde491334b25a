package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/offsync/internal/record"
)

func TestListEligible_OrderAndCutoff(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	enqueueTest(t, s, "c", "r3", 2*time.Second)
	enqueueTest(t, s, "a", "r1", 0)
	enqueueTest(t, s, "b", "r2", time.Second)
	enqueueTest(t, s, "future", "r4", time.Hour)

	recs, err := s.ListEligible(ctx, testEpoch.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(recs))
}

func TestListEligible_SameTimestampUsesInsertionOrder(t *testing.T) {
	s := createTestStore(t)

	enqueueTest(t, s, "second-id-sorts-first", "r", 0)
	enqueueTest(t, s, "a-later", "r", 0)

	recs, err := s.ListEligible(context.Background(), testEpoch, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"second-id-sorts-first", "a-later"}, ids(recs))
}

func TestListEligible_Limit(t *testing.T) {
	s := createTestStore(t)
	for i, id := range []string{"a", "b", "c"} {
		enqueueTest(t, s, id, id, time.Duration(i)*time.Second)
	}

	recs, err := s.ListEligible(context.Background(), testEpoch.Add(time.Hour), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(recs))
}

func TestListEligible_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)
	recs, err := s.ListEligible(context.Background(), testEpoch, 10)
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestListEligible_HeadOfLineBlocking(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	enqueueTest(t, s, "add", "cart-42", 0)
	enqueueTest(t, s, "remove", "cart-42", time.Second)
	enqueueTest(t, s, "other", "cart-7", 2*time.Second)

	now := testEpoch.Add(time.Minute)

	// Older record claimed: the follower for the same resource is withheld.
	require.NoError(t, s.MarkInFlight(ctx, "add", now))
	recs, err := s.ListEligible(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, ids(recs))

	// Older record backing off: still withheld.
	_, err = s.MarkFailed(ctx, "add", now, now.Add(10*time.Second), "503")
	require.NoError(t, err)
	recs, err = s.ListEligible(ctx, now, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, ids(recs))

	// Backoff elapsed: both appear in FIFO order.
	later := now.Add(10 * time.Second)
	recs, err = s.ListEligible(ctx, later, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"add", "remove", "other"}, ids(recs))
}

func TestListEligible_TerminalFailureDoesNotBlock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	enqueueTest(t, s, "first", "r", 0)
	enqueueTest(t, s, "second", "r", time.Second)
	require.NoError(t, s.MarkInFlight(ctx, "first", testEpoch))
	require.NoError(t, s.MarkTerminal(ctx, "first", testEpoch, "rejected"))

	recs, err := s.ListEligible(ctx, testEpoch.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, ids(recs))
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_DetectsCorruption(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	enqueueTest(t, s, "op-1", "r", 0)

	_, err := s.db.Exec(`UPDATE operations SET payload = '{"id":"tampered"}' WHERE id = 'op-1'`)
	require.NoError(t, err)

	_, err = s.Get(ctx, "op-1")
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = s.ListEligible(ctx, testEpoch, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestList_Filter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	enqueueTest(t, s, "a1", "a", 0)
	enqueueTest(t, s, "b1", "b", time.Second)
	enqueueTest(t, s, "a2", "a", 2*time.Second)
	require.NoError(t, s.MarkInFlight(ctx, "a1", testEpoch))
	require.NoError(t, s.MarkSucceeded(ctx, "a1", testEpoch))

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "b1", "a2"}, ids(all))

	byResource, err := s.List(ctx, Filter{ResourceID: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(byResource))

	pending, err := s.List(ctx, Filter{Status: record.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "a2"}, ids(pending))

	limited, err := s.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, ids(limited))
}

func TestCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[record.Status]int{
		record.StatusPending:   0,
		record.StatusInFlight:  0,
		record.StatusSucceeded: 0,
		record.StatusFailed:    0,
	}, counts)

	enqueueTest(t, s, "a", "a", 0)
	enqueueTest(t, s, "b", "b", 0)
	require.NoError(t, s.MarkInFlight(ctx, "a", testEpoch))

	counts, err = s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[record.StatusPending])
	assert.Equal(t, 1, counts[record.StatusInFlight])
}

func TestNextEligibleAfter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := testEpoch.Add(time.Minute)

	_, ok, err := s.NextEligibleAfter(ctx, now)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue")

	// Already eligible records are not waited on.
	enqueueTest(t, s, "ready", "r1", 0)
	_, ok, err = s.NextEligibleAfter(ctx, now)
	require.NoError(t, err)
	assert.False(t, ok)

	enqueueTest(t, s, "later", "r2", 10*time.Minute)
	require.NoError(t, s.MarkInFlight(ctx, "ready", now))
	_, err = s.MarkFailed(ctx, "ready", now, now.Add(2*time.Second), "503")
	require.NoError(t, err)

	next, ok, err := s.NextEligibleAfter(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(now.Add(2*time.Second)), "got %v", next)

	// Claimed records are not waited on.
	require.NoError(t, s.MarkInFlight(ctx, "ready", now.Add(2*time.Second)))
	next, ok, err = s.NextEligibleAfter(ctx, now)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(testEpoch.Add(10*time.Minute)), "got %v", next)
}

func TestHasOpen(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	open, err := s.HasOpen(ctx, "cart-42")
	require.NoError(t, err)
	assert.False(t, open)

	enqueueTest(t, s, "add", "cart-42", 0)
	open, err = s.HasOpen(ctx, "cart-42")
	require.NoError(t, err)
	assert.True(t, open, "pending")

	require.NoError(t, s.MarkInFlight(ctx, "add", testEpoch))
	open, err = s.HasOpen(ctx, "cart-42")
	require.NoError(t, err)
	assert.True(t, open, "in flight")

	require.NoError(t, s.MarkTerminal(ctx, "add", testEpoch, "HTTP 422"))
	open, err = s.HasOpen(ctx, "cart-42")
	require.NoError(t, err)
	assert.False(t, open, "failed records are not open")

	open, err = s.HasOpen(ctx, "cart-7")
	require.NoError(t, err)
	assert.False(t, open)
}
