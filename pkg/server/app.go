package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"InsiderWatch/internal/middleware"
	"InsiderWatch/internal/services/alerts"
	"InsiderWatch/internal/services/metadata"
	"InsiderWatch/internal/services/window"
	"InsiderWatch/internal/usecase"
	"InsiderWatch/pkg/config"
	xhttp "InsiderWatch/pkg/http"
	pkgkafka "InsiderWatch/pkg/kafka"
	applogger "InsiderWatch/pkg/logger"
)

// App owns the running pipeline and everything feeding or draining it.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	pipeline   *middleware.Pipeline
	dispatcher *usecase.Dispatcher
	registry   *alerts.Registry
	windows    *window.Store
	holder     *metadata.Holder
	httpServer *xhttp.Server

	consumer *pkgkafka.Consumer
	handlers []pkgkafka.MessageHandler

	// closed last, in order
	closers []io.Closer
	pruners []Pruner
}

// Pruner drops per-caller state idle for longer than the given duration.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Option attaches optional infrastructure to App.
type Option func(*App)

// WithConsumer feeds the pipeline from Kafka through the given handlers.
func WithConsumer(c *pkgkafka.Consumer, handlers ...pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = c
		a.handlers = handlers
	}
}

// WithClosers registers resources released after the final flush.
func WithClosers(cs ...io.Closer) Option {
	return func(a *App) {
		for _, c := range cs {
			if c != nil {
				a.closers = append(a.closers, c)
			}
		}
	}
}

// WithPruner registers state pruned on every maintenance pass.
func WithPruner(p Pruner) Option {
	return func(a *App) {
		if p != nil {
			a.pruners = append(a.pruners, p)
		}
	}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	pipeline *middleware.Pipeline,
	dispatcher *usecase.Dispatcher,
	registry *alerts.Registry,
	windows *window.Store,
	holder *metadata.Holder,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	a := &App{
		cfg:        cfg,
		log:        log,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		registry:   registry,
		windows:    windows,
		holder:     holder,
		httpServer: httpServer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Serve(ctx)
}

// Serve runs until ctx is done, then shuts down gracefully: ingress stops first,
// queued events are processed, and the dispatcher flushes one last time.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.holder.Reload(ctx); err != nil {
		return fmt.Errorf("initial metadata load: %w", err)
	}

	// the pipeline and dispatcher outlive ctx so queued work can finish
	pipeCtx, cancelPipe := context.WithCancel(context.Background())
	defer cancelPipe()
	a.pipeline.Start(pipeCtx)

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatcher.Run(pipeCtx)
	}()

	maintDone := make(chan struct{})
	go func() {
		defer close(maintDone)
		a.maintain(ctx)
	}()

	if a.consumer != nil {
		for _, h := range a.handlers {
			a.consumer.RegisterHandler(h)
		}
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.Int("topics", len(a.handlers)))
	}

	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	<-maintDone
	return a.shutdown(cancelPipe, dispatchDone)
}

func (a *App) shutdown(cancelPipe context.CancelFunc, dispatchDone <-chan struct{}) error {
	stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(stopCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(stopCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.pipeline.Close()
	cancelPipe()
	<-dispatchDone

	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	a.log.Info("shutdown complete", applogger.Int("open_alerts", len(a.registry.Open())))
	return errors.Join(errs...)
}

// maintain expires silent alerts, drops closed ones from memory and evicts idle
// window state. Alert and window housekeeping follow event time, the newest event
// the window store has applied, so a backfill is not expired against the wall clock.
func (a *App) maintain(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Pipeline.MaintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runMaintenance()
		}
	}
}

func (a *App) runMaintenance() {
	for _, p := range a.pruners {
		p.Prune(10 * time.Minute)
	}
	asOf, ok := a.windows.EventTime()
	if !ok {
		return
	}
	expired := a.registry.Sweep(asOf)
	compacted := a.registry.Compact(asOf.Add(-a.cfg.Alerts.Silence - a.cfg.Pipeline.RetentionGrace))
	evicted := a.windows.Evict(asOf)
	if expired+compacted+evicted > 0 {
		a.log.Info("maintenance",
			applogger.Time("as_of", asOf),
			applogger.Int("expired", expired),
			applogger.Int("compacted", compacted),
			applogger.Int("evicted_entities", evicted),
		)
	}
}
