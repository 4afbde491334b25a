package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordIsPendingAndEligible(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rec, err := New("id-1", "ADD", "item-42", []byte(`{"b":1, "a":2}`), now)
	require.NoError(t, err)

	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, rec.AttemptCount)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, now, rec.NextEligibleAt)
	assert.Nil(t, rec.LastAttemptAt)
	assert.Equal(t, `{"a":2,"b":1}`, string(rec.Payload))
	assert.True(t, rec.Eligible(now))
	assert.False(t, rec.Eligible(now.Add(-time.Millisecond)))
}

func TestNewRecordRejectsInvalidPayload(t *testing.T) {
	_, err := New("id-1", "ADD", "item-42", []byte(`{"a":`), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInFlight.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestParseStatus(t *testing.T) {
	for _, s := range ValidStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseStatus("DONE")
	assert.Error(t, err)
}

func TestOperationAttemptIsOneBased(t *testing.T) {
	rec := Record{ID: "r", Type: "DELETE", ResourceID: "x", Payload: []byte("{}"), AttemptCount: 2}
	op := rec.Operation()

	assert.Equal(t, "r", op.RecordID)
	assert.Equal(t, OperationType("DELETE"), op.Type)
	assert.Equal(t, 3, op.Attempt)
}

func TestEligibleRequiresPending(t *testing.T) {
	now := time.Now()
	rec := Record{Status: StatusInFlight, NextEligibleAt: now.Add(-time.Hour)}
	assert.False(t, rec.Eligible(now))
}
