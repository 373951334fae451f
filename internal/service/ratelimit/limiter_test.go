package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := New(10, 5).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("10.0.0.1", 8))
	assert.False(t, l.Allow("10.0.0.1", 3))
	assert.True(t, l.Allow("10.0.0.2", 10), "callers have separate buckets")

	now = now.Add(time.Second) // +5 tokens
	assert.True(t, l.Allow("10.0.0.1", 7))
	assert.False(t, l.Allow("10.0.0.1", 1))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("10.0.0.1", 10), "refill is capped at capacity")
	assert.False(t, l.Allow("10.0.0.1", 1))
}

func TestLimiterDisabled(t *testing.T) {
	l := New(1, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x", 50))
	}
	assert.Equal(t, 0, l.Len())
}

func TestLimiterPrune(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := New(5, 1).WithClock(func() time.Time { return now })
	l.Allow("a", 1)
	now = now.Add(10 * time.Minute)
	l.Allow("b", 1)

	assert.Equal(t, 1, l.Prune(5*time.Minute))
	assert.Equal(t, 1, l.Len())
}
