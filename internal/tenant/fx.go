package tenant

import (
	"github.com/portalmeter/portalmeter/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(service.NewService),
)
