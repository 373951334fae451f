package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"InsiderWatch/internal/domain/repository"
	domsvc "InsiderWatch/internal/domain/service"
	"InsiderWatch/internal/handler/api"
	mid "InsiderWatch/internal/middleware"
	internalrepo "InsiderWatch/internal/repository"
	"InsiderWatch/internal/service/cache"
	svcmetrics "InsiderWatch/internal/service/metrics"
	"InsiderWatch/internal/service/ratelimit"
	"InsiderWatch/internal/services/alerts"
	"InsiderWatch/internal/services/analytics"
	"InsiderWatch/internal/services/features"
	"InsiderWatch/internal/services/metadata"
	"InsiderWatch/internal/services/normalizer"
	"InsiderWatch/internal/services/window"
	"InsiderWatch/internal/usecase"
	pkgcache "InsiderWatch/pkg/cache"
	pkgch "InsiderWatch/pkg/clickhouse"
	"InsiderWatch/pkg/config"
	xhttp "InsiderWatch/pkg/http"
	pkgkafka "InsiderWatch/pkg/kafka"
	"InsiderWatch/pkg/logger"
	"InsiderWatch/pkg/metrics"
	"InsiderWatch/pkg/server"
)

func noop() {}

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder and registers the detector
// collectors on the default registry.
func ProvideMetrics() repository.Metrics {
	svcmetrics.Register()
	return metrics.New(prometheus.DefaultRegisterer)
}

// ProvideRedisCache connects to Redis when enabled. A nil cache selects the
// in-memory seen store.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, noop, nil
	}
	c, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
		pkgcache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

func ProvideSeenStore(c *pkgcache.RedisCache) (repository.SeenStore, error) {
	if c == nil {
		return cache.NewMemorySeenStore(time.Now), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := cache.NewRedisSeenStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return s, nil
}

func ProvideNormalizer(cfg *config.Config, seen repository.SeenStore) *normalizer.Normalizer {
	return normalizer.New(seen,
		normalizer.WithClockSkew(cfg.Pipeline.ClockSkew),
		normalizer.WithSeenTTL(cfg.LongestWindow()+cfg.Pipeline.RetentionGrace),
	)
}

func ProvideWindowStore(cfg *config.Config) (*window.Store, error) {
	return window.NewStore(window.Config{
		Sizes:             cfg.Windows.Sizes,
		Buckets:           cfg.Windows.Buckets,
		LatenessTolerance: cfg.Pipeline.LatenessTolerance,
		Retention:         cfg.Pipeline.RetentionGrace,
	})
}

// ProvideMetadataSource selects the reference data backend.
func ProvideMetadataSource(cfg *config.Config) (repository.MetadataSource, func(), error) {
	switch cfg.Metadata.Source {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := internalrepo.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return internalrepo.NewPostgresMetadataSource(pool), pool.Close, nil
	case "none":
		return internalrepo.EmptyMetadataSource{}, noop, nil
	default:
		return internalrepo.NewFileMetadataSource(cfg.Metadata.Path), noop, nil
	}
}

func ProvideMetadataHolder(src repository.MetadataSource, log *logger.Logger) *metadata.Holder {
	return metadata.NewHolder(src, log)
}

func ProvideFeatureEngine(cfg *config.Config, windows *window.Store, holder *metadata.Holder) (domsvc.FeatureEngine, error) {
	return features.NewEngine(features.Config{
		BaselineWindow:        cfg.Features.BaselineWindow,
		ActivityWindow:        cfg.Features.ActivityWindow,
		MinHistory:            cfg.Features.MinHistory,
		StdFloorRatio:         cfg.Features.StdFloorRatio,
		DisclosureHorizonDays: cfg.Features.DisclosureHorizonDays,
		MaxGraphDepth:         cfg.Features.MaxGraphDepth,
		MeanWindows:           cfg.Features.MeanWindows,
	}, windows, holder)
}

// ProvideScorer builds the detector ensemble. The remote model only joins when it
// has a weight.
func ProvideScorer(cfg *config.Config, log *logger.Logger) (usecase.Scorer, error) {
	detectors := []domsvc.Detector{
		analytics.NewVolumeDetector(),
		analytics.NewPeerDetector(),
		analytics.NewDisclosureDetector(cfg.Features.DisclosureHorizonDays),
		analytics.NewRelationshipDetector(cfg.Features.MaxGraphDepth),
	}
	if cfg.Detectors.Weights[config.DetectorRemote] > 0 {
		detectors = append(detectors, analytics.NewRemoteModelDetector(cfg.Detectors.Remote.URL, cfg.Detectors.Remote.Timeout))
	}
	return analytics.NewEnsemble(cfg.Detectors.Weights, log, detectors...)
}

func ProvideAlertRegistry(cfg *config.Config) (*alerts.Registry, error) {
	return alerts.NewRegistry(cfg.Pipeline.Partitions, alerts.Config{
		Threshold: cfg.Alerts.Threshold,
		Cooldown:  cfg.Alerts.Cooldown,
		Silence:   cfg.Alerts.Silence,
	})
}

func ProvideEventProcessor(
	cfg *config.Config,
	n *normalizer.Normalizer,
	windows *window.Store,
	engine domsvc.FeatureEngine,
	scorer usecase.Scorer,
	registry *alerts.Registry,
	holder *metadata.Holder,
	m repository.Metrics,
	log *logger.Logger,
) *usecase.EventProcessor {
	return usecase.NewEventProcessor(n, windows, engine, scorer, registry, holder, m, log, cfg.Pipeline.HardCutoff)
}

// ProvideAuditStore connects to ClickHouse and creates the audit tables. Nil when
// ClickHouse is disabled.
func ProvideAuditStore(cfg *config.Config, log *logger.Logger) (repository.AuditStore, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, noop, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	store := internalrepo.NewCHAuditStore(client, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// ProvideKafkaProducer creates the alert producer. Nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, noop, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

func ProvideAlertStream(log *logger.Logger) *api.AlertStream {
	return api.NewAlertStream(log)
}

// ProvideDispatcher fans pipeline output out to every configured sink.
func ProvideDispatcher(
	cfg *config.Config,
	registry *alerts.Registry,
	m repository.Metrics,
	log *logger.Logger,
	audit repository.AuditStore,
	producer *pkgkafka.Producer,
	stream *api.AlertStream,
) *usecase.Dispatcher {
	sinks := []repository.AlertSink{stream}
	opts := []usecase.DispatcherOption{
		usecase.WithFlushInterval(cfg.Pipeline.DispatchInterval),
		usecase.WithMaxElapsed(cfg.Pipeline.SinkMaxElapsed),
	}
	if audit != nil {
		sinks = append(sinks, audit)
		opts = append(opts, usecase.WithDispositionSink(audit), usecase.WithAggregateSink(audit))
	}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaAlertPublisher(producer, cfg.Kafka.Topics.Alerts))
	}
	opts = append(opts, usecase.WithAlertSinks(sinks...))
	return usecase.NewDispatcher(registry, m, log, opts...)
}

func ProvidePipeline(cfg *config.Config, proc *usecase.EventProcessor, d *usecase.Dispatcher, m repository.Metrics, log *logger.Logger) *mid.Pipeline {
	return mid.NewPipeline(proc, d, m, log,
		mid.WithPartitions(cfg.Pipeline.Partitions),
		mid.WithQueueDepth(cfg.Pipeline.QueueDepth),
	)
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML. Nil when Kafka
// is disabled.
func ProvideKafkaConsumer(cfg *config.Config, log *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(log,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerErrorPolicy(usecase.IsBackpressure, usecase.IsPermanent),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

func ProvideIngestLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.Server.IngestBurst, cfg.Server.IngestRPS)
}

func ProvideAlertsHandler(
	log *logger.Logger,
	registry *alerts.Registry,
	pipeline *mid.Pipeline,
	proc *usecase.EventProcessor,
	holder *metadata.Holder,
	limiter *ratelimit.Limiter,
	windows *window.Store,
) *api.AlertsEchoHandler {
	return api.NewAlertsEchoHandler(log, registry, pipeline, proc, holder).
		WithIngestLimiter(limiter).
		WithClock(eventClock(windows))
}

// eventClock reads the newest applied event time, falling back to the wall clock
// before the first event.
func eventClock(windows *window.Store) func() time.Time {
	return func() time.Time {
		if t, ok := windows.EventTime(); ok {
			return t
		}
		return time.Now().UTC()
	}
}

func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h *api.AlertsEchoHandler, stream *api.AlertStream) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetricsPath(cfg.Metrics.Path))
	}
	return xhttp.NewServer(log, []xhttp.Handler{h, stream}, opts...)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	pipeline *mid.Pipeline,
	dispatcher *usecase.Dispatcher,
	registry *alerts.Registry,
	windows *window.Store,
	holder *metadata.Holder,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	proc *usecase.EventProcessor,
	m repository.Metrics,
	stream *api.AlertStream,
	limiter *ratelimit.Limiter,
) *server.App {
	opts := []server.Option{server.WithClosers(stream), server.WithPruner(limiter)}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer,
			usecase.NewKafkaTradesHandler(cfg.Kafka.Topics.Trades, pipeline, m),
			usecase.NewKafkaDisclosuresHandler(cfg.Kafka.Topics.Disclosures, proc, m),
		))
	}
	return server.New(cfg, log, pipeline, dispatcher, registry, windows, holder, httpServer, opts...)
}
