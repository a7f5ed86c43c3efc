package migration

import (
	"github.com/portalmeter/portalmeter/internal/config"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	quotadomain "github.com/portalmeter/portalmeter/internal/quota/domain"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// The versioned SQL migrations target postgres. The other dialects
		// (mysql in small installs, sqlite in tests) get the schema from
		// the models directly.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&tenantdomain.Tenant{},
				&tenantdomain.ServiceClass{},
				&usagedomain.UsageSample{},
				&creditdomain.DailyCredit{},
				&quotadomain.UserProfileState{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
