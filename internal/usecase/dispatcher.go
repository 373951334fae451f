package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"InsiderWatch/internal/domain/models"
	domrepo "InsiderWatch/internal/domain/repository"
	"InsiderWatch/internal/services/alerts"
	"InsiderWatch/pkg/logger"
)

// Dispatcher buffers pipeline output and ships it to the sinks in batches.
type Dispatcher struct {
	registry     *alerts.Registry
	alertSinks   []domrepo.AlertSink
	dispositions domrepo.DispositionSink
	aggregates   domrepo.AggregateSink
	metrics      domrepo.Metrics
	log          *logger.Logger

	interval   time.Duration
	maxElapsed time.Duration

	mu   sync.Mutex
	disp []models.Disposition
	aggs []models.WindowAggregate

	// serializes flushes so sinks see batches in order
	flushMu sync.Mutex
}

type DispatcherOption func(*Dispatcher)

func WithAlertSinks(sinks ...domrepo.AlertSink) DispatcherOption {
	return func(d *Dispatcher) { d.alertSinks = append(d.alertSinks, sinks...) }
}

func WithDispositionSink(s domrepo.DispositionSink) DispatcherOption {
	return func(d *Dispatcher) { d.dispositions = s }
}

func WithAggregateSink(s domrepo.AggregateSink) DispatcherOption {
	return func(d *Dispatcher) { d.aggregates = s }
}

// WithFlushInterval sets how often Run flushes.
func WithFlushInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithMaxElapsed bounds how long one batch is retried before it is dropped.
func WithMaxElapsed(max time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.maxElapsed = max }
}

func NewDispatcher(registry *alerts.Registry, metrics domrepo.Metrics, log *logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		metrics:    metrics,
		log:        log,
		interval:   time.Second,
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Collect buffers the outputs of one processed event.
func (d *Dispatcher) Collect(res models.EventResult) {
	d.mu.Lock()
	d.disp = append(d.disp, res.Disposition)
	d.aggs = append(d.aggs, res.Aggregates...)
	d.mu.Unlock()
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.maxElapsed)
			d.Flush(final)
			cancel()
			return
		case <-ticker.C:
			d.Flush(ctx)
		}
	}
}

// Flush sends everything buffered so far. Batches that still fail after retrying are
// logged and dropped.
func (d *Dispatcher) Flush(ctx context.Context) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	d.mu.Lock()
	disp, aggs := d.disp, d.aggs
	d.disp, d.aggs = nil, nil
	d.mu.Unlock()

	transitions := d.registry.Drain()
	for _, t := range transitions {
		d.metrics.RecordAlertTransition(string(t.Kind))
	}
	d.metrics.SetOpenAlerts(len(d.registry.Open()))

	if len(transitions) > 0 {
		for _, sink := range d.alertSinks {
			d.send(ctx, "alert_transitions", len(transitions), func(ctx context.Context) error {
				return sink.PublishTransitions(ctx, transitions)
			})
		}
	}
	if len(disp) > 0 && d.dispositions != nil {
		d.send(ctx, "dispositions", len(disp), func(ctx context.Context) error {
			return d.dispositions.RecordDispositions(ctx, disp)
		})
	}
	if len(aggs) > 0 && d.aggregates != nil {
		d.send(ctx, "window_aggregates", len(aggs), func(ctx context.Context) error {
			return d.aggregates.StoreAggregates(ctx, aggs)
		})
	}
}

func (d *Dispatcher) send(ctx context.Context, what string, n int, fn func(context.Context) error) {
	start := time.Now()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = d.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		return fn(ctx)
	}
	notify := func(err error, wait time.Duration) {
		d.log.Warn("sink write failed, retrying",
			logger.String("sink", what),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(eb, ctx), notify); err != nil {
		d.metrics.RecordError("sink_" + what)
		d.log.Error("sink write dropped", logger.String("sink", what), logger.Int("records", n), logger.Error(err))
		return
	}
	d.metrics.RecordLatency("sink_"+what, time.Since(start).Seconds())
}
