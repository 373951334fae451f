package window

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"InsiderWatch/internal/domain/models"
)

const shardCount = 64

type Config struct {
	Sizes             []time.Duration
	Buckets           int
	LatenessTolerance time.Duration
	// Retention is how long an idle entity is kept past its longest window.
	Retention time.Duration
}

// Store keeps a ring of Buckets buckets per (entity, window size). Updates and reads
// are O(Buckets); rollover happens lazily when an update crosses a bucket boundary.
type Store struct {
	cfg     Config
	longest time.Duration
	reach   time.Duration // oldest lateness every ring can still absorb
	latest  atomic.Int64  // unix nanos of the newest event applied
	shards  [shardCount]shard
}

type shard struct {
	mu       sync.RWMutex
	entities map[models.EntityKey]*entity
}

type entity struct {
	watermark time.Time
	previous  time.Time // event time preceding the watermark event
	rings     []*ring
}

func (e *entity) advance(ts time.Time) {
	switch {
	case ts.After(e.watermark):
		e.previous, e.watermark = e.watermark, ts
	case ts.Equal(e.watermark):
		e.previous = ts
	}
}

func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Sizes) == 0 {
		return nil, &models.ConfigurationError{Key: "windows.sizes", Reason: "empty"}
	}
	if cfg.Buckets < 2 {
		return nil, &models.ConfigurationError{Key: "windows.buckets", Reason: "must be at least 2"}
	}
	s := &Store{cfg: cfg}
	for _, size := range cfg.Sizes {
		if size <= 0 || size%time.Duration(cfg.Buckets) != 0 {
			return nil, &models.ConfigurationError{Key: "windows.sizes", Reason: fmt.Sprintf("%s cannot be split into %d buckets", size, cfg.Buckets)}
		}
		s.longest = max(s.longest, size)
		if r := size - size/time.Duration(cfg.Buckets); s.reach == 0 || r < s.reach {
			s.reach = r
		}
	}
	if cfg.LatenessTolerance > s.reach {
		return nil, &models.ConfigurationError{Key: "pipeline.lateness_tolerance", Reason: fmt.Sprintf("must be at most %s for the smallest window", s.reach)}
	}
	for i := range s.shards {
		s.shards[i].entities = make(map[models.EntityKey]*entity)
	}
	s.latest.Store(math.MinInt64)
	return s, nil
}

// Update applies ev to a single entity.
func (s *Store) Update(key models.EntityKey, ev *models.TradeEvent) ([]models.WindowAggregate, error) {
	return s.UpdateAll([]models.EntityKey{key}, ev)
}

// UpdateAll applies ev to every key or to none of them. It returns the aggregates of
// windows closed (or revised) by this update. An event older than the watermark of any
// key by more than the lateness tolerance yields *models.LateEventError.
func (s *Store) UpdateAll(keys []models.EntityKey, ev *models.TradeEvent) ([]models.WindowAggregate, error) {
	return s.UpdateAllWithTolerance(keys, ev, s.cfg.LatenessTolerance)
}

// UpdateAllWithTolerance is UpdateAll with a caller-chosen lateness tolerance, used for
// the second attempt of a deferred event. The tolerance is capped at what the smallest
// ring can still hold.
func (s *Store) UpdateAllWithTolerance(keys []models.EntityKey, ev *models.TradeEvent, tolerance time.Duration) ([]models.WindowAggregate, error) {
	tolerance = min(tolerance, s.reach)
	unlock := s.lockShards(keys)
	defer unlock()

	for _, key := range keys {
		e := s.shardFor(key).entities[key]
		if e == nil || !ev.Timestamp.Before(e.watermark) {
			continue
		}
		if lateness := e.watermark.Sub(ev.Timestamp); lateness > tolerance {
			return nil, &models.LateEventError{
				EventID:   ev.EventID,
				EntityKey: key,
				Lateness:  lateness,
				Tolerance: tolerance,
			}
		}
	}

	s.observe(ev.Timestamp)
	q, n := ev.QuantityFloat(), ev.NotionalFloat()
	var closed []models.WindowAggregate
	for _, key := range keys {
		sh := s.shardFor(key)
		e := sh.entities[key]
		if e == nil {
			e = s.newEntity(key)
			sh.entities[key] = e
		}
		e.advance(ev.Timestamp)
		for _, r := range e.rings {
			closed = append(closed, r.add(ev.Timestamp, q, n)...)
		}
	}
	return closed, nil
}

// Merge applies ev to key without a lateness limit. Each ring takes the event if its
// bucket is still held; rings it is too old for are returned in missed, by size. Such a
// ring's current window never covered the event, only an already closed one did.
// Keys fed from several partitions, like traders, use Merge since their arrival order
// is not serialized.
func (s *Store) Merge(key models.EntityKey, ev *models.TradeEvent) (closed []models.WindowAggregate, missed []time.Duration) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := sh.entities[key]
	if e == nil {
		e = s.newEntity(key)
		sh.entities[key] = e
	}
	e.advance(ev.Timestamp)
	s.observe(ev.Timestamp)
	q, n := ev.QuantityFloat(), ev.NotionalFloat()
	for _, r := range e.rings {
		if !r.holds(ev.Timestamp) {
			missed = append(missed, r.size)
			continue
		}
		closed = append(closed, r.add(ev.Timestamp, q, n)...)
	}
	return closed, missed
}

// Read returns the aggregate of the window of the given size ending with the bucket that
// contains asOf. Unknown entities read as zero activity.
func (s *Store) Read(key models.EntityKey, size time.Duration, asOf time.Time) (models.WindowAggregate, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if e := sh.entities[key]; e != nil {
		for _, r := range e.rings {
			if r.size == size {
				return r.read(asOf), nil
			}
		}
	}
	for _, configured := range s.cfg.Sizes {
		if configured == size {
			return emptyRing(key, size, s.cfg.Buckets).read(asOf), nil
		}
	}
	return models.WindowAggregate{}, &models.ConfigurationError{Key: "window_size", Reason: fmt.Sprintf("%s is not configured", size)}
}

// Watermark is the newest event time seen for key.
func (s *Store) Watermark(key models.EntityKey) (time.Time, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e := sh.entities[key]
	if e == nil {
		return time.Time{}, false
	}
	return e.watermark, true
}

// Previous returns the event time of the trade on key that preceded the one at ts.
// It is known only while ts is still the newest event time of key.
func (s *Store) Previous(key models.EntityKey, ts time.Time) (time.Time, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e := sh.entities[key]
	if e == nil || !ts.Equal(e.watermark) || e.previous.IsZero() {
		return time.Time{}, false
	}
	return e.previous, true
}

// EventTime is the newest event time applied to any entity. Housekeeping runs on it
// so that a backfill is expired and evicted the way a live feed would be.
func (s *Store) EventTime() (time.Time, bool) {
	n := s.latest.Load()
	if n == math.MinInt64 {
		return time.Time{}, false
	}
	return time.Unix(0, n).UTC(), true
}

func (s *Store) observe(ts time.Time) {
	n := ts.UnixNano()
	for {
		cur := s.latest.Load()
		if n <= cur || s.latest.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Evict drops entities idle for longer than the longest window plus retention.
func (s *Store) Evict(asOf time.Time) int {
	cutoff := asOf.Add(-(s.longest + s.cfg.Retention))
	evicted := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, e := range sh.entities {
			if e.watermark.Before(cutoff) {
				delete(sh.entities, key)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Len returns the number of tracked entities.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		n += len(s.shards[i].entities)
		s.shards[i].mu.RUnlock()
	}
	return n
}

func (s *Store) newEntity(key models.EntityKey) *entity {
	e := &entity{rings: make([]*ring, 0, len(s.cfg.Sizes))}
	for _, size := range s.cfg.Sizes {
		e.rings = append(e.rings, emptyRing(key, size, s.cfg.Buckets))
	}
	return e
}

func shardIndex(key models.EntityKey) int {
	return int(xxhash.Sum64String(string(key)) % shardCount)
}

func (s *Store) shardFor(key models.EntityKey) *shard {
	return &s.shards[shardIndex(key)]
}

// lockShards write-locks the shards of keys in ascending order.
func (s *Store) lockShards(keys []models.EntityKey) func() {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		i := shardIndex(k)
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			s.shards[idx[j]].mu.Unlock()
		}
	}
}
