// Command portalmeter runs the full stack in one process: the management
// API, the router gateway and the enforcement scheduler.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/clock"
	"github.com/portalmeter/portalmeter/internal/config"
	"github.com/portalmeter/portalmeter/internal/credit"
	"github.com/portalmeter/portalmeter/internal/gateway"
	"github.com/portalmeter/portalmeter/internal/migration"
	"github.com/portalmeter/portalmeter/internal/observability"
	"github.com/portalmeter/portalmeter/internal/quota"
	"github.com/portalmeter/portalmeter/internal/ratelimit"
	"github.com/portalmeter/portalmeter/internal/scheduler"
	"github.com/portalmeter/portalmeter/internal/seed"
	"github.com/portalmeter/portalmeter/internal/server"
	"github.com/portalmeter/portalmeter/internal/tenant"
	"github.com/portalmeter/portalmeter/internal/usage"
	"github.com/portalmeter/portalmeter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		seed.Module,

		tenant.Module,
		usage.Module,
		credit.Module,
		quota.Module,
		gateway.Module,

		ratelimit.Module,
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
