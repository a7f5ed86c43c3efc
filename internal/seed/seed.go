// Package seed bootstraps a demo tenant for local development so the API
// is usable immediately after first start. Opt-in via SEED_DEMO_DATA.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/config"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	demoTenantName = "demo-cafe"
	demoRouterHost = "192.168.88.1"
)

var Module = fx.Module("seed",
	fx.Invoke(Run),
)

// Run seeds the demo tenant when enabled. Re-runs are no-ops.
func Run(cfg config.Config, db *gorm.DB, log *zap.Logger, node *snowflake.Node) error {
	if !cfg.SeedDemo {
		return nil
	}
	created, err := EnsureDemoTenant(db, node)
	if err != nil {
		return err
	}
	if created {
		log.Info("seeded demo tenant", zap.String("tenant", demoTenantName))
	}
	return nil
}

// EnsureDemoTenant creates the demo tenant and its service classes unless a
// tenant with the demo name already exists.
func EnsureDemoTenant(db *gorm.DB, node *snowflake.Node) (bool, error) {
	if db == nil {
		return false, errors.New("seed database handle is required")
	}
	if node == nil {
		return false, errors.New("seed id generator is required")
	}

	ctx := context.Background()
	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&tenantdomain.Tenant{}).
			Where("name = ?", demoTenantName).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		now := time.Now()
		tenant := tenantdomain.Tenant{
			ID:             node.Generate(),
			Name:           demoTenantName,
			RouterHost:     demoRouterHost,
			RouterPort:     8728,
			RouterUsername: "admin",
			RouterPassword: "",
			DailyLimitMB:   1000,
			DailyTimeLimit: 3600,
			Timezone:       "UTC",
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}

		classes := []tenantdomain.ServiceClass{
			{
				ID:             node.Generate(),
				TenantID:       tenant.ID,
				Name:           "standard",
				DailyLimitMB:   1000,
				DailyTimeLimit: 3600,
				SpeedLimitUp:   "1M",
				SpeedLimitDown: "2M",
				IsActive:       true,
				CreatedAt:      now,
				UpdatedAt:      now,
			},
			{
				ID:             node.Generate(),
				TenantID:       tenant.ID,
				Name:           "premium",
				DailyLimitMB:   5000,
				DailyTimeLimit: 14400,
				SpeedLimitUp:   "5M",
				SpeedLimitDown: "10M",
				CreatedAt:      now,
				UpdatedAt:      now,
			},
		}
		if err := tx.Create(&classes).Error; err != nil {
			return err
		}

		created = true
		return nil
	})
	return created, err
}
