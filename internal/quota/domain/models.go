// Package domain holds quota evaluation types: the per-tick status decision
// and the persisted router-side profile bookkeeping.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is recomputed from the current numbers on every evaluation; only
// enforcement actions are persisted, never the status itself.
type Status string

const (
	StatusOK        Status = "OK"
	StatusNearLimit Status = "NEAR_LIMIT"
	StatusExceeded  Status = "EXCEEDED"
)

const (
	// NearLimitPercent is the warning threshold on either axis.
	NearLimitPercent = 80
	// ExceededPercent is the enforcement threshold on either axis.
	ExceededPercent = 100
)

// StatusFor derives the status from the data and time percentages. Either
// axis crossing a threshold is enough.
func StatusFor(dataPercent, timePercent float64) Status {
	worst := dataPercent
	if timePercent > worst {
		worst = timePercent
	}
	switch {
	case worst >= ExceededPercent:
		return StatusExceeded
	case worst >= NearLimitPercent:
		return StatusNearLimit
	default:
		return StatusOK
	}
}

// EvaluationResult is the outcome of one evaluation tick for one user.
type EvaluationResult struct {
	Username     string  `json:"username"`
	Day          string  `json:"day"`
	Status       Status  `json:"status"`
	DataPercent  float64 `json:"data_percent"`
	TimePercent  float64 `json:"time_percent"`
	UsedMB       float64 `json:"used_mb"`
	AllowedMB    float64 `json:"allowed_mb"`
	RemainingMB  float64 `json:"remaining_mb"`
	UsedSec      int64   `json:"used_time"`
	RemainingSec int64   `json:"remaining_time"`
	Exceeded     bool    `json:"exceeded"`
	Blocked      bool    `json:"blocked"`
}

// UserProfileState tracks the router-side profile of one hotspot user and
// whether enforcement has disabled them. Mutated only by block/unblock and
// profile sync; evaluation reads it to avoid redundant router calls.
type UserProfileState struct {
	ID              snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID        snowflake.ID `gorm:"not null;uniqueIndex:ux_profile_states_user,priority:1" json:"tenant_id"`
	Username        string       `gorm:"type:text;not null;uniqueIndex:ux_profile_states_user,priority:2" json:"username"`
	Profile         string       `gorm:"type:text" json:"profile"`
	OriginalProfile string       `gorm:"type:text" json:"original_profile"`
	IsBlocked       bool         `gorm:"not null;default:false" json:"is_blocked"`
	BlockedReason   string       `gorm:"type:text" json:"blocked_reason"`
	BlockedAt       *time.Time   `json:"blocked_at,omitempty"`
	CreatedAt       time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UserProfileState) TableName() string { return "user_profile_states" }
