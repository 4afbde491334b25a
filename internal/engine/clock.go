package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall-clock time for eligibility and backoff.
// Tests substitute a controllable implementation.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Sequence is a monotonic logical counter used to stamp events.
//
// Thread-safety: safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence whose next value is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next value. Each call returns a unique, increasing value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued value without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
