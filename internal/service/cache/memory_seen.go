package cache

import (
	"context"
	"sync"
	"time"
)

// MemorySeenStore is an in-process set of event ids with per-entry expiry.
type MemorySeenStore struct {
	mu  sync.Mutex
	m   map[string]time.Time // id -> expiry, zero means never
	now func() time.Time

	sweepEvery int
	writes     int
}

func NewMemorySeenStore(now func() time.Time) *MemorySeenStore {
	if now == nil {
		now = time.Now
	}
	return &MemorySeenStore{m: make(map[string]time.Time), now: now, sweepEvery: 4096}
}

func (s *MemorySeenStore) MarkSeen(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.m[eventID]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	s.m[eventID] = exp

	s.writes++
	if s.writes%s.sweepEvery == 0 {
		s.sweepLocked(now)
	}
	return true, nil
}

func (s *MemorySeenStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	delete(s.m, eventID)
	s.mu.Unlock()
	return nil
}

func (s *MemorySeenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *MemorySeenStore) sweepLocked(now time.Time) {
	for id, exp := range s.m {
		if !exp.IsZero() && !now.Before(exp) {
			delete(s.m, id)
		}
	}
}
