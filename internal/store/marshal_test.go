package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMillisRoundTripTruncates(t *testing.T) {
	in := time.Date(2026, 3, 1, 12, 0, 0, 123_456_789, time.FixedZone("X", 3600))
	out := fromMillis(toMillis(in))

	assert.Equal(t, time.UTC, out.Location())
	assert.True(t, out.Equal(in.Truncate(time.Millisecond)))
}

func TestNullMillis(t *testing.T) {
	assert.False(t, nullMillis(nil).Valid)
	assert.Nil(t, timePtr(sql.NullInt64{}))

	now := testEpoch
	n := nullMillis(&now)
	assert.True(t, n.Valid)
	assert.True(t, timePtr(n).Equal(now))
}

func TestLaterOf(t *testing.T) {
	a := testEpoch
	b := testEpoch.Add(time.Second)
	assert.Equal(t, b, laterOf(a, b))
	assert.Equal(t, b, laterOf(b, a))
}
