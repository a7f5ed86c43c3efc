package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyIngestTenant = "usage:ingest:tenant:%s"

// ErrRateLimited is returned when a tenant exhausts its ingest budget.
var ErrRateLimited = errors.New("usage ingest rate limit exceeded")

// IngestLimiter applies a per-tenant token bucket to sample ingestion.
// A nil limiter is valid and allows everything.
type IngestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewIngestLimiter returns nil when rate limiting is disabled.
func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.IngestRate,
		burst:  limitCfg.IngestBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowTenant takes one token from the tenant's bucket. Redis outages fail
// open; dropping legitimate samples costs more than a burst slipping by.
func (l *IngestLimiter) AllowTenant(ctx context.Context, tenantID snowflake.ID) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyIngestTenant, tenantID.String())
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		return Result{Allowed: true}, err
	}
	return res, nil
}
