package server_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"InsiderWatch/internal/di"
	"InsiderWatch/internal/domain/models"
	mid "InsiderWatch/internal/middleware"
	"InsiderWatch/internal/service/ratelimit"
	"InsiderWatch/internal/usecase"
	"InsiderWatch/pkg/config"
	"InsiderWatch/pkg/logger"
	"InsiderWatch/pkg/metrics"
	"InsiderWatch/pkg/server"
)

type recordingSink struct {
	mu   sync.Mutex
	disp []models.Disposition
}

func (s *recordingSink) PublishTransitions(context.Context, []models.AlertTransition) error {
	return nil
}

func (s *recordingSink) RecordDispositions(_ context.Context, ds []models.Disposition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disp = append(s.disp, ds...)
	return nil
}

func (s *recordingSink) dispositions() []models.Disposition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Disposition(nil), s.disp...)
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

func TestServeDrainsAndFlushesOnShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Metadata.Source = "none"
	cfg.Pipeline.Partitions = 2
	cfg.Pipeline.MaintenanceEvery = 10 * time.Millisecond
	cfg.Server.ShutdownTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())

	log := logger.Nop()
	windows, err := di.ProvideWindowStore(cfg)
	require.NoError(t, err)
	src, cleanup, err := di.ProvideMetadataSource(cfg)
	require.NoError(t, err)
	defer cleanup()
	holder := di.ProvideMetadataHolder(src, log)
	engine, err := di.ProvideFeatureEngine(cfg, windows, holder)
	require.NoError(t, err)
	scorer, err := di.ProvideScorer(cfg, log)
	require.NoError(t, err)
	registry, err := di.ProvideAlertRegistry(cfg)
	require.NoError(t, err)
	seen, err := di.ProvideSeenStore(nil)
	require.NoError(t, err)
	proc := di.ProvideEventProcessor(cfg, di.ProvideNormalizer(cfg, seen), windows, engine, scorer, registry, holder, metrics.Nop{}, log)

	sink := &recordingSink{}
	dispatcher := usecase.NewDispatcher(registry, metrics.Nop{}, log,
		usecase.WithAlertSinks(sink),
		usecase.WithDispositionSink(sink),
		usecase.WithFlushInterval(time.Hour),
	)
	pipeline := mid.NewPipeline(proc, dispatcher, metrics.Nop{}, log, mid.WithPartitions(2))
	res := &closer{}
	app := server.New(cfg, log, pipeline, dispatcher, registry, windows, holder, nil,
		server.WithClosers(res),
		server.WithPruner(ratelimit.New(10, 1)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx) }()

	ts := time.Now().UTC().Add(-time.Minute)
	out, err := pipeline.Do(context.Background(), &models.RawTradeEvent{
		EventID:    "e1",
		TraderID:   "T1",
		SecurityID: "ACME",
		Timestamp:  models.RawValue(ts.Format(time.RFC3339Nano)),
		Side:       "buy",
		Quantity:   decimal.NewNullDecimal(decimal.NewFromInt(100)),
		Price:      decimal.NewNullDecimal(decimal.NewFromInt(20)),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateScored, out.Disposition.State, out.Disposition.Reason)
	assert.Empty(t, sink.dispositions(), "nothing is flushed before the hourly tick")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	got := sink.dispositions()
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].EventID)
	assert.True(t, res.closed)

	_, err = pipeline.Do(context.Background(), &models.RawTradeEvent{EventID: "e2"})
	assert.ErrorIs(t, err, models.ErrClosed)
}
