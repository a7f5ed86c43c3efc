// Package domain owns the daily credit ledger: one row per
// (tenant, username, day) tracking allowance, consumption and carry-over.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DayFormat is the canonical ledger date key, always in the tenant's
// local calendar.
const DayFormat = "2006-01-02"

// DayKey formats t in loc as a ledger date key.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayFormat)
}

// DailyCredit is one ledger row. used_mb is monotonically non-decreasing
// within a day; remaining/percentage are derived, never stored.
type DailyCredit struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:ux_daily_credits_user_day,priority:1" json:"tenant_id"`
	Username string       `gorm:"type:text;not null;uniqueIndex:ux_daily_credits_user_day,priority:2" json:"username"`
	Day      string       `gorm:"type:text;not null;uniqueIndex:ux_daily_credits_user_day,priority:3" json:"day"`
	ClassID  snowflake.ID `gorm:"index" json:"class_id"`

	TotalAvailableMB     float64 `gorm:"not null" json:"total_available_mb"`
	UsedMB               float64 `gorm:"not null" json:"used_mb"`
	AccumulatedCreditMB  float64 `gorm:"not null" json:"accumulated_credit_mb"`
	TotalAvailableSec    int64   `gorm:"not null" json:"total_available_time"`
	UsedSec              int64   `gorm:"not null" json:"used_time"`
	AccumulatedCreditSec int64   `gorm:"not null" json:"accumulated_credit_time"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (DailyCredit) TableName() string { return "daily_credits" }

// RemainingMB is the unused portion of the combined allowance, floored at 0.
func (c DailyCredit) RemainingMB() float64 {
	remaining := c.TotalAvailableMB + c.AccumulatedCreditMB - c.UsedMB
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RemainingSec is the unused session time, floored at 0.
func (c DailyCredit) RemainingSec() int64 {
	remaining := c.TotalAvailableSec + c.AccumulatedCreditSec - c.UsedSec
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DataPercent returns consumption as a percentage of the combined allowance,
// clamped to [0,100]. A zero allowance yields 0, not an error.
func (c DailyCredit) DataPercent() float64 {
	total := c.TotalAvailableMB + c.AccumulatedCreditMB
	if total == 0 {
		return 0
	}
	pct := c.UsedMB / total * 100
	return clampPercent(pct)
}

// TimePercent mirrors DataPercent for session time.
func (c DailyCredit) TimePercent() float64 {
	total := c.TotalAvailableSec + c.AccumulatedCreditSec
	if total == 0 {
		return 0
	}
	pct := float64(c.UsedSec) / float64(total) * 100
	return clampPercent(pct)
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
