package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type caller struct {
	lim  *rate.Limiter
	last time.Time
}

// Limiter keeps one token bucket per caller, all sharing the same burst and rate.
type Limiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	burst   int
	every   rate.Limit
	now     func() time.Time
}

// New returns a limiter allowing bursts of burst and perSec sustained.
// A non-positive rate disables limiting.
func New(burst int, perSec float64) *Limiter {
	return &Limiter{
		callers: make(map[string]*caller),
		burst:   max(burst, 1),
		every:   rate.Limit(perSec),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow reports whether key may spend n tokens now.
func (l *Limiter) Allow(key string, n int) bool {
	if l.every <= 0 {
		return true
	}
	now := l.now()
	l.mu.Lock()
	c, ok := l.callers[key]
	if !ok {
		c = &caller{lim: rate.NewLimiter(l.every, l.burst)}
		l.callers[key] = c
	}
	c.last = now
	l.mu.Unlock()
	return c.lim.AllowN(now, n)
}

// Prune forgets callers idle for longer than idle. A forgotten caller comes back with
// a full bucket, which is where it would be anyway once idle exceeds burst/rate.
func (l *Limiter) Prune(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, c := range l.callers {
		if c.last.Before(cutoff) {
			delete(l.callers, key)
			n++
		}
	}
	return n
}

// Len reports the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}
