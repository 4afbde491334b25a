package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, time.Duration(0), c.Elapsed())
}

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	c := NewFakeClock(Epoch)

	assert.Equal(t, Epoch.Add(time.Second), c.Advance(time.Second))
	c.Advance(-time.Hour)
	assert.Equal(t, Epoch.Add(time.Second), c.Now(), "never runs backwards")

	c.Set(Epoch.Add(time.Minute))
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())
	c.Set(Epoch)
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())
	assert.Equal(t, time.Minute, c.Elapsed())

	c.Reset()
	assert.Equal(t, Epoch, c.Now())
}

func TestFakeClock_ConcurrentAdvance(t *testing.T) {
	c := NewFakeClock(Epoch)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, time.Second, c.Elapsed())
}
