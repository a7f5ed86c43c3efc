// Package domain contains persistence models for raw usage ingestion.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SampleKind distinguishes how the router reported the counters.
type SampleKind string

const (
	// SampleKindSnapshot carries cumulative counters for a session; counters
	// reset when the session restarts.
	SampleKindSnapshot SampleKind = "snapshot"
	// SampleKindIncremental carries a delta since the previous poll.
	SampleKindIncremental SampleKind = "incremental"
)

// UsageSample stores a single immutable observation of a user's traffic.
type UsageSample struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"not null;index:idx_usage_samples_lookup,priority:1" json:"tenant_id"`
	Username   string       `gorm:"type:text;not null;index:idx_usage_samples_lookup,priority:2" json:"username"`
	BytesIn    int64        `gorm:"not null" json:"bytes_in"`
	BytesOut   int64        `gorm:"not null" json:"bytes_out"`
	SessionSec int64        `gorm:"not null" json:"session_time"`
	Kind       SampleKind   `gorm:"type:text;not null" json:"kind"`
	SessionID  string       `gorm:"type:text" json:"session_id,omitempty"`
	ObservedAt time.Time    `gorm:"not null;index:idx_usage_samples_lookup,priority:3" json:"observed_at"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (UsageSample) TableName() string { return "usage_samples" }

// TotalBytes is the sample's combined traffic.
func (s UsageSample) TotalBytes() int64 { return s.BytesIn + s.BytesOut }
