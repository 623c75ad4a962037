package limiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLimiter_AdmitsCapacityThenRejects(t *testing.T) {
	for _, capacity := range []int{1, 3, 10} {
		clock := newClock()
		l := New(capacity, capacity, time.Minute, WithClock(clock.Now))

		for i := 0; i < capacity; i++ {
			require.True(t, l.TryAdmit("10.0.0.1"), "request %d should be admitted", i+1)
		}
		assert.False(t, l.TryAdmit("10.0.0.1"), "request %d should be rejected", capacity+1)
	}
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	clock := newClock()
	l := New(2, 2, time.Minute, WithClock(clock.Now))

	assert.True(t, l.TryAdmit("a"))
	assert.True(t, l.TryAdmit("a"))
	assert.False(t, l.TryAdmit("a"))

	assert.True(t, l.TryAdmit("b"))
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_RefillAfterFullInterval(t *testing.T) {
	clock := newClock()
	l := New(10, 4, time.Minute, WithClock(clock.Now))

	for i := 0; i < 7; i++ {
		require.True(t, l.TryAdmit("c"))
	}
	assert.InDelta(t, 3, l.Tokens("c"), 1e-9)

	clock.Advance(time.Minute)
	assert.InDelta(t, 7, l.Tokens("c"), 1e-9)

	clock.Advance(time.Minute)
	assert.InDelta(t, 10, l.Tokens("c"), 1e-9, "never exceeds capacity")
}

func TestLimiter_IdleClientGetsFullBucket(t *testing.T) {
	clock := newClock()
	l := New(5, 5, time.Minute, WithClock(clock.Now))

	for i := 0; i < 5; i++ {
		require.True(t, l.TryAdmit("d"))
	}
	require.False(t, l.TryAdmit("d"))

	clock.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		assert.True(t, l.TryAdmit("d"))
	}
	assert.False(t, l.TryAdmit("d"))
}

func TestLimiter_NewClientStartsFull(t *testing.T) {
	l := New(10, 10, time.Minute)
	assert.InDelta(t, 10, l.Tokens("fresh"), 1e-9)
	assert.Equal(t, 10, l.Capacity())
}

func TestLimiter_ConcurrentAdmissionIsAtomic(t *testing.T) {
	clock := newClock()
	l := New(50, 50, time.Hour, WithClock(clock.Now))

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAdmit("shared") {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
	assert.Equal(t, 1, l.Len())
}
