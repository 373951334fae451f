package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const generationKey = "seen:generation"

// seenBackend is the subset of pkg/cache.RedisCache the seen store needs.
type seenBackend interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisSeenStore keeps event ids in Redis under a run generation taken at startup.
//
// Window and alert state live in memory and die with the process, so the seen set
// must too. A restarted process starts a new generation and a replay of the
// upstream log rebuilds its state instead of being reported as duplicates. Ids of
// earlier generations expire through their TTL.
type RedisSeenStore struct {
	cache      seenBackend
	generation int64
}

func NewRedisSeenStore(ctx context.Context, c seenBackend) (*RedisSeenStore, error) {
	gen, err := c.Incr(ctx, generationKey)
	if err != nil {
		return nil, fmt.Errorf("seen generation: %w", err)
	}
	return &RedisSeenStore{cache: c, generation: gen}, nil
}

// Generation reports the run generation the store writes under.
func (s *RedisSeenStore) Generation() int64 { return s.generation }

func (s *RedisSeenStore) key(eventID string) string {
	return "seen:" + strconv.FormatInt(s.generation, 10) + ":" + eventID
}

func (s *RedisSeenStore) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := s.cache.SetIfAbsent(ctx, s.key(eventID), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("mark seen %s: %w", eventID, err)
	}
	return ok, nil
}

func (s *RedisSeenStore) Forget(ctx context.Context, eventID string) error {
	if err := s.cache.Delete(ctx, s.key(eventID)); err != nil {
		return fmt.Errorf("forget %s: %w", eventID, err)
	}
	return nil
}
