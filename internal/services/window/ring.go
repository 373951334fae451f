package window

import (
	"math"
	"time"

	"InsiderWatch/internal/domain/models"
)

type stats struct {
	count  int64
	sum    float64
	sumSq  float64
	max    float64
	min    float64
	nSum   float64
	nSumSq float64
}

func (s *stats) add(q, n float64) {
	if s.count == 0 {
		s.max, s.min = q, q
	} else {
		s.max = math.Max(s.max, q)
		s.min = math.Min(s.min, q)
	}
	s.count++
	s.sum += q
	s.sumSq += q * q
	s.nSum += n
	s.nSumSq += n * n
}

func (s *stats) merge(o stats) {
	if o.count == 0 {
		return
	}
	if s.count == 0 {
		*s = o
		return
	}
	s.max = math.Max(s.max, o.max)
	s.min = math.Min(s.min, o.min)
	s.count += o.count
	s.sum += o.sum
	s.sumSq += o.sumSq
	s.nSum += o.nSum
	s.nSumSq += o.nSumSq
}

type bucket struct {
	index int64 // absolute bucket number, -1 when unused
	stats
}

// ring holds one window size for one entity. Windows close on multiples of size.
type ring struct {
	key     models.EntityKey
	size    time.Duration
	width   int64
	buckets []bucket
	started bool
	head    int64

	// previous closed window, the only one a tolerated late event can still reach
	prevClosed *models.WindowAggregate
}

func emptyRing(key models.EntityKey, size time.Duration, k int) *ring {
	r := &ring{
		key:     key,
		size:    size,
		width:   int64(size) / int64(k),
		buckets: make([]bucket, k),
	}
	for i := range r.buckets {
		r.buckets[i].index = -1
	}
	return r
}

func (r *ring) k() int64 { return int64(len(r.buckets)) }

func (r *ring) bucketOf(ts time.Time) int64 { return floorDiv(ts.UnixNano(), r.width) }
func (r *ring) epochOf(b int64) int64       { return floorDiv(b, r.k()) }

func (r *ring) slot(b int64) *bucket {
	i := b % r.k()
	if i < 0 {
		i += r.k()
	}
	return &r.buckets[i]
}

// holds reports whether ts falls in a bucket the ring still keeps.
func (r *ring) holds(ts time.Time) bool {
	return !r.started || r.bucketOf(ts) > r.head-r.k()
}

// add folds one observation in and returns windows closed or revised by it.
func (r *ring) add(ts time.Time, q, n float64) []models.WindowAggregate {
	b := r.bucketOf(ts)
	var out []models.WindowAggregate

	switch {
	case !r.started:
		r.started = true
		r.head = b
	case b > r.head:
		out = r.closeThrough(r.epochOf(b))
		r.advance(b)
	}

	s := r.slot(b)
	if s.index != b {
		*s = bucket{index: b}
	}
	s.add(q, n)

	// late arrival into the window that already closed
	if r.epochOf(b) < r.epochOf(r.head) && r.prevClosed != nil && r.epochOf(b) == r.epochIndex(r.prevClosed) {
		var st stats
		st.add(q, n)
		fold(r.prevClosed, st)
		r.prevClosed.Revision++
		out = append(out, *r.prevClosed)
	}
	return out
}

// closeThrough emits the current window and zero-activity windows for any gap
// before newEpoch.
func (r *ring) closeThrough(newEpoch int64) []models.WindowAggregate {
	cur := r.epochOf(r.head)
	if newEpoch <= cur {
		return nil
	}
	out := make([]models.WindowAggregate, 0, newEpoch-cur)
	first := r.aggregate(cur*r.k(), cur*r.k()+r.k()-1)
	out = append(out, first)
	for e := cur + 1; e < newEpoch; e++ {
		out = append(out, r.aggregate(e*r.k(), e*r.k()+r.k()-1))
	}
	last := out[len(out)-1]
	r.prevClosed = &last
	return out
}

func (r *ring) advance(b int64) {
	if b-r.head >= r.k() {
		for i := range r.buckets {
			r.buckets[i] = bucket{index: -1}
		}
	} else {
		for i := r.head + 1; i <= b; i++ {
			*r.slot(i) = bucket{index: i}
		}
	}
	r.head = b
}

func (r *ring) read(asOf time.Time) models.WindowAggregate {
	hi := r.bucketOf(asOf)
	return r.aggregate(hi-r.k()+1, hi)
}

// aggregate combines buckets with indexes in [lo, hi].
func (r *ring) aggregate(lo, hi int64) models.WindowAggregate {
	var st stats
	for i := range r.buckets {
		bk := &r.buckets[i]
		if bk.index >= lo && bk.index <= hi {
			st.merge(bk.stats)
		}
	}
	agg := models.WindowAggregate{
		EntityKey:  r.key,
		WindowSize: r.size,
		Start:      time.Unix(0, lo*r.width).UTC(),
		End:        time.Unix(0, (hi+1)*r.width).UTC(),
	}
	fold(&agg, st)
	return agg
}

func (r *ring) epochIndex(agg *models.WindowAggregate) int64 {
	return r.epochOf(r.bucketOf(agg.Start))
}

func fold(agg *models.WindowAggregate, st stats) {
	if st.count == 0 {
		return
	}
	if agg.Count == 0 {
		agg.Max, agg.Min = st.max, st.min
	} else {
		agg.Max = math.Max(agg.Max, st.max)
		agg.Min = math.Min(agg.Min, st.min)
	}
	agg.Count += st.count
	agg.Sum += st.sum
	agg.SumSq += st.sumSq
	agg.NotionalSum += st.nSum
	agg.NotionalSumSq += st.nSumSq
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
