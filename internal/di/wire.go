//go:build wireinject
// +build wireinject

package di

import (
	"FinCast/pkg/config"
	"FinCast/pkg/server"

	"github.com/google/wire"
)

var ProviderSet = wire.NewSet(
	// Infrastructure
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideClickHouseClient,
	ProvideCache,

	// Repositories and sources
	ProvideTickPublisher,
	ProvideBinanceClient,
	ProvideStreamSource,
	ProvideTickSource,
	ProvideTableStore,
	ProvideHistorySource,
	ProvideModels,

	// Use cases
	ProvidePublisher,
	ProvideCheckpointer,
	ProvideTracker,
	ProvidePredictor,
	ProvideForecastUseCase,
	ProvideHistoryUseCase,

	// Transport
	ProvideConsumers,
	ProvideHTTPServer,
	ProvideApp,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
