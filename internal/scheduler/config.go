package scheduler

import (
	"fmt"
	"time"

	"github.com/portalmeter/portalmeter/internal/config"
)

// Config controls the enforcement worker cadence.
type Config struct {
	TickInterval     time.Duration
	CollectInterval  time.Duration
	EvaluateInterval time.Duration
	PurgeInterval    time.Duration
	RolloverAt       string // "HH:MM", interpreted in each tenant's timezone
	ReseedAt         string
	RetentionDays    int
	JobTimeout       time.Duration
	ErrorBackoff     time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		TickInterval:     time.Minute,
		CollectInterval:  5 * time.Minute,
		EvaluateInterval: 5 * time.Minute,
		PurgeInterval:    6 * time.Hour,
		RolloverAt:       "00:00",
		ReseedAt:         "00:05",
		RetentionDays:    90,
		JobTimeout:       30 * time.Second,
		ErrorBackoff:     time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = defaults.TickInterval
	}
	if c.CollectInterval <= 0 {
		c.CollectInterval = defaults.CollectInterval
	}
	if c.EvaluateInterval <= 0 {
		c.EvaluateInterval = defaults.EvaluateInterval
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = defaults.PurgeInterval
	}
	if _, _, err := parseClockTime(c.RolloverAt); err != nil {
		c.RolloverAt = defaults.RolloverAt
	}
	if _, _, err := parseClockTime(c.ReseedAt); err != nil {
		c.ReseedAt = defaults.ReseedAt
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = defaults.RetentionDays
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = defaults.ErrorBackoff
	}
	return c
}

// ProvideConfig maps the application config onto the scheduler's own.
func ProvideConfig(cfg config.Config) Config {
	return Config{
		TickInterval:     cfg.Scheduler.TickInterval,
		CollectInterval:  cfg.Scheduler.CollectInterval,
		EvaluateInterval: cfg.Scheduler.EvaluateInterval,
		PurgeInterval:    cfg.Scheduler.PurgeInterval,
		RolloverAt:       cfg.Scheduler.RolloverAt,
		ReseedAt:         cfg.Scheduler.ReseedAt,
		RetentionDays:    cfg.Scheduler.RetentionDays,
		JobTimeout:       cfg.Scheduler.JobTimeout,
		ErrorBackoff:     cfg.Scheduler.ErrorBackoff,
		EnabledJobs:      cfg.Scheduler.EnabledJobs,
	}
}

// parseClockTime parses "HH:MM" into hour and minute.
func parseClockTime(v string) (int, int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(v, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parse clock time %q: %w", v, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock time %q out of range", v)
	}
	return hour, minute, nil
}
