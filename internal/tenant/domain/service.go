package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateTenantRequest struct {
	Name           string `json:"name"`
	RouterHost     string `json:"router_host"`
	RouterPort     int    `json:"router_port"`
	RouterUsername string `json:"router_username"`
	RouterPassword string `json:"router_password"`
	DailyLimitMB   int64  `json:"daily_limit_mb"`
	DailyTimeLimit int64  `json:"daily_time_limit"`
	Timezone       string `json:"timezone"`
}

type CreateClassRequest struct {
	TenantID       snowflake.ID `json:"tenant_id"`
	Name           string       `json:"name"`
	DailyLimitMB   int64        `json:"daily_limit_mb"`
	DailyTimeLimit int64        `json:"daily_time_limit"`
	SpeedLimitUp   string       `json:"speed_limit_up"`
	SpeedLimitDown string       `json:"speed_limit_down"`
}

type Service interface {
	Create(ctx context.Context, req CreateTenantRequest) (*Tenant, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	ListActive(ctx context.Context) ([]*Tenant, error)
	SetActive(ctx context.Context, id snowflake.ID, active bool) error

	CreateClass(ctx context.Context, req CreateClassRequest) (*ServiceClass, error)
	ListClasses(ctx context.Context, tenantID snowflake.ID) ([]*ServiceClass, error)
	// ActivateClass marks one class active and deactivates its siblings.
	ActivateClass(ctx context.Context, tenantID, classID snowflake.ID) error
	// ActiveClass returns ErrNoActiveClass when the tenant has none.
	ActiveClass(ctx context.Context, tenantID snowflake.ID) (*ServiceClass, error)
}

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrClassNotFound  = errors.New("service class not found")
	ErrNoActiveClass  = errors.New("no active service class for tenant")
	ErrInvalidTenant  = errors.New("invalid tenant")
	ErrInvalidClass   = errors.New("invalid service class")
)
