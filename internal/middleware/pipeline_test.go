package middleware

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/pkg/logger"
	"InsiderWatch/pkg/metrics"
)

type fakeProc struct {
	mu      sync.Mutex
	seen    map[string][]string // security -> event ids in processing order
	retried []string
	defer_  map[string]bool
	block   chan struct{}
	ctxErrs []error
}

func newFakeProc() *fakeProc {
	return &fakeProc{seen: map[string][]string{}, defer_: map[string]bool{}}
}

func (f *fakeProc) Process(ctx context.Context, _ int, raw *models.RawTradeEvent) models.EventResult {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.seen[raw.SecurityID] = append(f.seen[raw.SecurityID], raw.EventID)
	ev := &models.TradeEvent{EventID: raw.EventID, SecurityID: raw.SecurityID}
	state := models.StateScored
	if f.defer_[raw.EventID] {
		state = models.StateDeferred
	}
	return models.EventResult{Event: ev, Disposition: models.Disposition{EventID: raw.EventID, State: state, Attempt: 1}}
}

func (f *fakeProc) Retry(_ context.Context, _ int, ev *models.TradeEvent) models.EventResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, ev.EventID)
	return models.EventResult{Event: ev, Disposition: models.Disposition{EventID: ev.EventID, State: models.StateDropped, Attempt: 2}}
}

type sink struct {
	mu      sync.Mutex
	results []models.EventResult
}

func (s *sink) Collect(res models.EventResult) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
}

func (s *sink) states() map[string]models.EventState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]models.EventState{}
	for _, r := range s.results {
		out[r.Disposition.EventID] = r.Disposition.State
	}
	return out
}

func raw(id, sec string) *models.RawTradeEvent {
	return &models.RawTradeEvent{EventID: id, SecurityID: sec}
}

func TestFullQueueReportsBackpressure(t *testing.T) {
	p := NewPipeline(newFakeProc(), nil, metrics.Nop{}, logger.Nop(), WithPartitions(1), WithQueueDepth(2))

	require.NoError(t, p.Submit(raw("e1", "ACME")))
	require.NoError(t, p.Submit(raw("e2", "ACME")))
	err := p.Submit(raw("e3", "ACME"))
	assert.ErrorIs(t, err, models.ErrBackpressure)
	assert.Equal(t, "backpressure", models.ErrorCode(err))

	p.Close()
	assert.ErrorIs(t, p.Submit(raw("e4", "ACME")), models.ErrClosed)
}

func TestEventsOfOneSecurityKeepArrivalOrder(t *testing.T) {
	proc := newFakeProc()
	p := NewPipeline(proc, nil, metrics.Nop{}, logger.Nop(), WithPartitions(4), WithQueueDepth(4))
	p.Start(context.Background())

	secs := []string{"ACME", "BOLT", "CORP"}
	for i := 0; i < 50; i++ {
		for _, s := range secs {
			require.NoError(t, p.Enqueue(context.Background(), raw(fmt.Sprintf("%s-%03d", s, i), s)))
		}
	}
	require.NoError(t, p.Flush(context.Background()))
	p.Close()

	for _, s := range secs {
		got := proc.seen[s]
		require.Len(t, got, 50)
		for i := range got {
			assert.Equal(t, fmt.Sprintf("%s-%03d", s, i), got[i])
		}
	}
}

func TestPartitionIsStablePerSecurity(t *testing.T) {
	p := NewPipeline(newFakeProc(), nil, metrics.Nop{}, logger.Nop(), WithPartitions(16))
	assert.Equal(t, p.PartitionFor("ACME"), p.PartitionFor(" acme "))
	for _, s := range []string{"A", "B", "C", "D"} {
		n := p.PartitionFor(s)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 16)
	}
}

func TestDeferredEventIsRetriedAfterNextEvent(t *testing.T) {
	proc := newFakeProc()
	proc.defer_["late"] = true
	out := &sink{}
	p := NewPipeline(proc, out, metrics.Nop{}, logger.Nop(), WithPartitions(1))
	p.Start(context.Background())

	require.NoError(t, p.Enqueue(context.Background(), raw("late", "ACME")))
	res, err := p.Do(context.Background(), raw("next", "ACME"))
	require.NoError(t, err)
	assert.Equal(t, models.StateScored, res.Disposition.State)

	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, []string{"late"}, proc.retried)
	assert.Equal(t, models.StateDropped, out.states()["late"])
	p.Close()
}

func TestFlushRetriesDeferredEvents(t *testing.T) {
	proc := newFakeProc()
	proc.defer_["late"] = true
	out := &sink{}
	p := NewPipeline(proc, out, metrics.Nop{}, logger.Nop(), WithPartitions(2))
	p.Start(context.Background())

	require.NoError(t, p.Enqueue(context.Background(), raw("late", "ACME")))
	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, []string{"late"}, proc.retried)
	p.Close()
}

func TestDoHonorsContext(t *testing.T) {
	proc := newFakeProc()
	proc.block = make(chan struct{})
	p := NewPipeline(proc, nil, metrics.Nop{}, logger.Nop(), WithPartitions(1))
	p.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, raw("e1", "ACME"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(proc.block)
	p.Close()
}

func TestDoCancelsProcessingWhenCallerGivesUp(t *testing.T) {
	proc := newFakeProc()
	proc.block = make(chan struct{})
	p := NewPipeline(proc, nil, metrics.Nop{}, logger.Nop(), WithPartitions(1))
	p.Start(context.Background())
	defer close(proc.block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Do(ctx, raw("e1", "ACME"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The worker is released by the caller's deadline, not by the block channel.
	require.NoError(t, p.Flush(context.Background()))
	proc.mu.Lock()
	errs := append([]error(nil), proc.ctxErrs...)
	proc.mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
	p.Close()
}

func TestEnqueuedEventsRunUnderPipelineContextOnly(t *testing.T) {
	proc := newFakeProc()
	p := NewPipeline(proc, nil, metrics.Nop{}, logger.Nop(), WithPartitions(1))
	p.Start(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Enqueue(ctx, raw("e1", "ACME")))
	cancel()
	require.NoError(t, p.Flush(context.Background()))
	p.Close()

	require.Len(t, proc.ctxErrs, 1)
	assert.NoError(t, proc.ctxErrs[0])
}

func TestFlushBeforeStartFails(t *testing.T) {
	p := NewPipeline(newFakeProc(), nil, metrics.Nop{}, logger.Nop(), WithPartitions(2))
	require.NoError(t, p.Submit(raw("e1", "ACME")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, p.Flush(ctx), models.ErrNotStarted)
	p.Close()
}

func TestCloseReleasesBlockedEnqueue(t *testing.T) {
	p := NewPipeline(newFakeProc(), nil, metrics.Nop{}, logger.Nop(), WithPartitions(1), WithQueueDepth(1))
	require.NoError(t, p.Submit(raw("e1", "ACME")))

	errc := make(chan error, 1)
	go func() { errc <- p.Enqueue(context.Background(), raw("e2", "ACME")) }()
	time.Sleep(10 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, models.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
