// Package observability wires logging and metrics for every entrypoint.
package observability

import (
	"github.com/portalmeter/portalmeter/internal/config"
	"github.com/portalmeter/portalmeter/internal/observability/logger"
	"github.com/portalmeter/portalmeter/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideLoggerConfig,
		logger.New,
	),
	fx.Invoke(ensureSchedulerMetrics),
)

func provideLoggerConfig(cfg config.Config) logger.Config {
	return logger.Config{
		ServiceName:   cfg.AppName,
		Environment:   cfg.Environment,
		Version:       cfg.AppVersion,
		Level:         cfg.LogLevel,
		Format:        cfg.LogFormat,
		IncludeCaller: true,
	}
}

func ensureSchedulerMetrics(cfg config.Config) {
	metrics.SchedulerWithConfig(metrics.Config{
		ServiceName: cfg.AppName,
		Environment: cfg.Environment,
	})
}
