package gateway

import (
	"context"

	"github.com/portalmeter/portalmeter/internal/config"
	"github.com/portalmeter/portalmeter/internal/gateway/routeros"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(NewPool),
	fx.Provide(routeros.NewGateway),
)

func NewPool(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *routeros.Pool {
	pool := routeros.NewPool(routeros.PoolConfig{
		MaxPerHost:   cfg.Gateway.MaxConnsPerTenant,
		IdleTimeout:  cfg.Gateway.IdleTimeout,
		DialTimeout:  cfg.Gateway.DialTimeout,
		ReapInterval: cfg.Gateway.ReapInterval,
	}, log)

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool
}
