package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/domain/models"
	"InsiderWatch/internal/services/alerts"
	"InsiderWatch/pkg/logger"
	"InsiderWatch/pkg/metrics"
)

type memorySink struct {
	mu          sync.Mutex
	failures    int
	transitions []models.AlertTransition
	disp        []models.Disposition
	aggs        []models.WindowAggregate
}

func (m *memorySink) fail() error {
	if m.failures > 0 {
		m.failures--
		return errors.New("sink unavailable")
	}
	return nil
}

func (m *memorySink) PublishTransitions(_ context.Context, ts []models.AlertTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	m.transitions = append(m.transitions, ts...)
	return nil
}

func (m *memorySink) RecordDispositions(_ context.Context, ds []models.Disposition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disp = append(m.disp, ds...)
	return nil
}

func (m *memorySink) StoreAggregates(_ context.Context, as []models.WindowAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggs = append(m.aggs, as...)
	return nil
}

func newRegistry(t *testing.T) *alerts.Registry {
	t.Helper()
	r, err := alerts.NewRegistry(1, alerts.Config{Threshold: 0.6, Cooldown: time.Hour, Silence: 2 * time.Hour})
	require.NoError(t, err)
	return r
}

func TestDispatcherRetriesFailedSink(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{failures: 2}
	d := NewDispatcher(reg, metrics.Nop{}, logger.Nop(),
		WithAlertSinks(sink), WithDispositionSink(sink), WithAggregateSink(sink),
		WithMaxElapsed(5*time.Second))

	reg.Partition(0).Ingest(models.AnomalyScore{EntityKey: models.PairKey("T1", "ACME"), EventID: "e1", Timestamp: day0, CombinedScore: 0.9})
	d.Collect(models.EventResult{
		Disposition: models.Disposition{EventID: "e1", State: models.StateAlerted},
		Aggregates:  []models.WindowAggregate{{EntityKey: models.SecurityKey("ACME"), WindowSize: time.Hour}},
	})

	d.Flush(context.Background())

	assert.Len(t, sink.transitions, 1)
	assert.Equal(t, models.TransitionOpened, sink.transitions[0].Kind)
	assert.Len(t, sink.disp, 1)
	assert.Len(t, sink.aggs, 1)
	assert.Zero(t, sink.failures)

	d.Flush(context.Background())
	assert.Len(t, sink.transitions, 1, "drained transitions are sent once")
}

func TestDispatcherDropsBatchWhenContextEnds(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{failures: 1 << 30}
	d := NewDispatcher(reg, metrics.Nop{}, logger.Nop(), WithAlertSinks(sink), WithMaxElapsed(time.Minute))
	reg.Partition(0).Ingest(models.AnomalyScore{EntityKey: models.PairKey("T1", "ACME"), EventID: "e1", Timestamp: day0, CombinedScore: 0.9})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Flush(ctx)
	assert.Empty(t, sink.transitions)
}
