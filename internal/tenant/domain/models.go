// Package domain contains tenant-scoped configuration models: the tenant
// itself (a customer site owning one router) and its service classes.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
)

// Tenant owns router credentials, hotspot users and quota configuration.
type Tenant struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	RouterHost     string       `gorm:"type:text;not null" json:"router_host"`
	RouterPort     int          `gorm:"not null;default:8728" json:"router_port"`
	RouterUsername string       `gorm:"type:text;not null" json:"router_username"`
	RouterPassword string       `gorm:"type:text;not null" json:"-"`
	DailyLimitMB   int64        `gorm:"not null;default:1000" json:"daily_limit_mb"`
	DailyTimeLimit int64        `gorm:"not null;default:3600" json:"daily_time_limit"`
	Timezone       string       `gorm:"type:text;not null;default:UTC" json:"timezone"`
	IsActive       bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Location resolves the tenant's IANA timezone, falling back to UTC.
func (t Tenant) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RouterCredentials builds the gateway credentials for this tenant's router.
func (t Tenant) RouterCredentials() gatewaydomain.Credentials {
	return gatewaydomain.Credentials{
		Host:     t.RouterHost,
		Port:     t.RouterPort,
		Username: t.RouterUsername,
		Password: t.RouterPassword,
	}
}

// ServiceClass bundles daily data/time limits assignable within a tenant.
// At most one class per tenant is active at a time.
type ServiceClass struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Name           string       `gorm:"type:text;not null" json:"name"`
	DailyLimitMB   int64        `gorm:"not null;default:1000" json:"daily_limit_mb"`
	DailyTimeLimit int64        `gorm:"not null;default:86400" json:"daily_time_limit"`
	SpeedLimitUp   string       `gorm:"type:text;default:1M" json:"speed_limit_up"`
	SpeedLimitDown string       `gorm:"type:text;default:1M" json:"speed_limit_down"`
	IsActive       bool         `gorm:"not null;default:false" json:"is_active"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (ServiceClass) TableName() string { return "service_classes" }
