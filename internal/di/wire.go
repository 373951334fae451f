//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"InsiderWatch/pkg/config"
	"InsiderWatch/pkg/server"
)

// CoreSet builds the event path from normalizer to alert registry.
var CoreSet = wire.NewSet(
	ProvideMetrics,
	ProvideRedisCache,
	ProvideSeenStore,
	ProvideNormalizer,
	ProvideWindowStore,
	ProvideMetadataSource,
	ProvideMetadataHolder,
	ProvideFeatureEngine,
	ProvideScorer,
	ProvideAlertRegistry,
	ProvideEventProcessor,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		CoreSet,

		// Sinks
		ProvideAuditStore,
		ProvideKafkaProducer,
		ProvideAlertStream,
		ProvideDispatcher,

		// Transport
		ProvidePipeline,
		ProvideKafkaConsumer,
		ProvideIngestLimiter,
		ProvideAlertsHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
