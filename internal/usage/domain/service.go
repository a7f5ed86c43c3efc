package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RecordRequest struct {
	TenantID   snowflake.ID `json:"tenant_id"`
	Username   string       `json:"username"`
	BytesIn    int64        `json:"bytes_in"`
	BytesOut   int64        `json:"bytes_out"`
	SessionSec int64        `json:"session_time"`
	Kind       SampleKind   `json:"kind"`
	SessionID  string       `json:"session_id"`
	ObservedAt time.Time    `json:"observed_at"`
}

// DailyConsumption is the de-duplicated total for one user-day.
type DailyConsumption struct {
	BytesIn    int64   `json:"bytes_in"`
	BytesOut   int64   `json:"bytes_out"`
	TotalBytes int64   `json:"total_bytes"`
	TotalMB    float64 `json:"total_mb"`
	SessionSec int64   `json:"session_time"`
}

// PeriodConsumption sums raw samples over a window (no de-dup; reporting only).
type PeriodConsumption struct {
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
	TotalBytes int64 `json:"total_bytes"`
	SessionSec int64 `json:"session_time"`
	Samples    int64 `json:"samples"`
}

// TenantConsumption is the tenant-wide raw total for one local day. Samples
// are summed as reported (no per-user de-dup); dashboard reporting only.
type TenantConsumption struct {
	BytesIn     int64   `json:"bytes_in"`
	BytesOut    int64   `json:"bytes_out"`
	TotalBytes  int64   `json:"total_bytes"`
	TotalMB     float64 `json:"total_mb"`
	SessionSec  int64   `json:"session_time"`
	UniqueUsers int64   `json:"unique_users"`
	Samples     int64   `json:"samples"`
}

// TopUser is one row of the per-tenant consumption leaderboard.
type TopUser struct {
	Username   string `json:"username"`
	TotalBytes int64  `json:"total_bytes"`
	TotalSec   int64  `json:"total_time"`
}

type Service interface {
	// Record validates and appends one sample. Malformed samples return
	// ErrInvalidSample; they are never included in any aggregate.
	Record(ctx context.Context, req RecordRequest) (*UsageSample, error)
	// Daily computes the de-duplicated consumption for the local day
	// containing date (window [00:00, 24:00) in loc).
	Daily(ctx context.Context, username string, tenantID snowflake.ID, day time.Time, loc *time.Location) (DailyConsumption, error)
	Period(ctx context.Context, username string, tenantID snowflake.ID, start, end time.Time) (PeriodConsumption, error)
	// TenantConsumption totals every sample the tenant recorded in the
	// local day containing day (window [00:00, 24:00) in loc).
	TenantConsumption(ctx context.Context, tenantID snowflake.ID, day time.Time, loc *time.Location) (TenantConsumption, error)
	TopUsers(ctx context.Context, tenantID snowflake.ID, days, limit int) ([]TopUser, error)
	// ActiveUsernames lists users with at least one sample in the window.
	ActiveUsernames(ctx context.Context, tenantID snowflake.ID, start, end time.Time) ([]string, error)
	// PurgeOlderThan deletes samples observed strictly before the cutoff
	// (a sample exactly at the cutoff is retained). Returns rows removed.
	PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

var (
	ErrInvalidSample   = errors.New("invalid usage sample")
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidTenant   = errors.New("invalid tenant")
)
