package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	"github.com/portalmeter/portalmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	tenants repository.Repository[tenantdomain.Tenant]
	classes repository.Repository[tenantdomain.ServiceClass]
}

func NewService(p ServiceParam) tenantdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("tenant.service"),
		genID:   p.GenID,
		tenants: repository.ProvideStore[tenantdomain.Tenant](p.DB),
		classes: repository.ProvideStore[tenantdomain.ServiceClass](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req tenantdomain.CreateTenantRequest) (*tenantdomain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	host := strings.TrimSpace(req.RouterHost)
	if name == "" || host == "" {
		return nil, tenantdomain.ErrInvalidTenant
	}

	port := req.RouterPort
	if port == 0 {
		port = 8728
	}
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, tenantdomain.ErrInvalidTenant
	}

	now := time.Now().UTC()
	tenant := &tenantdomain.Tenant{
		ID:             s.genID.Generate(),
		Name:           name,
		RouterHost:     host,
		RouterPort:     port,
		RouterUsername: strings.TrimSpace(req.RouterUsername),
		RouterPassword: req.RouterPassword,
		DailyLimitMB:   req.DailyLimitMB,
		DailyTimeLimit: req.DailyTimeLimit,
		Timezone:       tz,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}

	s.log.Info("tenant created",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("name", tenant.Name),
	)
	return tenant, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.tenants.FindOne(ctx, &tenantdomain.Tenant{ID: id})
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) ListActive(ctx context.Context) ([]*tenantdomain.Tenant, error) {
	return s.tenants.Find(ctx, &tenantdomain.Tenant{IsActive: true})
}

func (s *Service) SetActive(ctx context.Context, id snowflake.ID, active bool) error {
	result := s.db.WithContext(ctx).
		Model(&tenantdomain.Tenant{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": active, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return tenantdomain.ErrTenantNotFound
	}
	return nil
}

func (s *Service) CreateClass(ctx context.Context, req tenantdomain.CreateClassRequest) (*tenantdomain.ServiceClass, error) {
	if req.TenantID == 0 || strings.TrimSpace(req.Name) == "" {
		return nil, tenantdomain.ErrInvalidClass
	}
	if _, err := s.GetByID(ctx, req.TenantID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	class := &tenantdomain.ServiceClass{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		Name:           strings.TrimSpace(req.Name),
		DailyLimitMB:   req.DailyLimitMB,
		DailyTimeLimit: req.DailyTimeLimit,
		SpeedLimitUp:   req.SpeedLimitUp,
		SpeedLimitDown: req.SpeedLimitDown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.classes.Create(ctx, class); err != nil {
		return nil, err
	}
	return class, nil
}

func (s *Service) ListClasses(ctx context.Context, tenantID snowflake.ID) ([]*tenantdomain.ServiceClass, error) {
	return s.classes.Find(ctx, &tenantdomain.ServiceClass{TenantID: tenantID})
}

// ActivateClass deactivates all sibling classes in the same transaction so
// the "at most one active class per tenant" invariant holds on write.
func (s *Service) ActivateClass(ctx context.Context, tenantID, classID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		result := tx.Model(&tenantdomain.ServiceClass{}).
			Where("id = ? AND tenant_id = ?", classID, tenantID).
			Updates(map[string]any{"is_active": true, "updated_at": now})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return tenantdomain.ErrClassNotFound
		}
		return tx.Model(&tenantdomain.ServiceClass{}).
			Where("tenant_id = ? AND id <> ?", tenantID, classID).
			Updates(map[string]any{"is_active": false, "updated_at": now}).Error
	})
}

func (s *Service) ActiveClass(ctx context.Context, tenantID snowflake.ID) (*tenantdomain.ServiceClass, error) {
	class, err := s.classes.FindOne(ctx, &tenantdomain.ServiceClass{TenantID: tenantID, IsActive: true})
	if err != nil {
		return nil, err
	}
	if class == nil {
		return nil, tenantdomain.ErrNoActiveClass
	}
	return class, nil
}
