package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/clock"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"github.com/portalmeter/portalmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bytesPerMB = 1024 * 1024

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	samples repository.Repository[usagedomain.UsageSample]
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		samples: repository.ProvideStore[usagedomain.UsageSample](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageSample, error) {
	if req.TenantID == 0 {
		return nil, usagedomain.ErrInvalidTenant
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, usagedomain.ErrInvalidUsername
	}
	// Upstream counters can be malformed; negatives never reach the ledger.
	if req.BytesIn < 0 || req.BytesOut < 0 || req.SessionSec < 0 {
		return nil, usagedomain.ErrInvalidSample
	}

	kind := req.Kind
	if kind != usagedomain.SampleKindSnapshot && kind != usagedomain.SampleKindIncremental {
		return nil, usagedomain.ErrInvalidSample
	}

	now := s.clock.Now()
	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = now
	}

	sample := &usagedomain.UsageSample{
		ID:         s.genID.Generate(),
		TenantID:   req.TenantID,
		Username:   username,
		BytesIn:    req.BytesIn,
		BytesOut:   req.BytesOut,
		SessionSec: req.SessionSec,
		Kind:       kind,
		SessionID:  strings.TrimSpace(req.SessionID),
		ObservedAt: observedAt.UTC(),
		CreatedAt:  now,
	}
	if err := s.samples.Create(ctx, sample); err != nil {
		return nil, err
	}
	return sample, nil
}

// Daily applies the de-dup rule: snapshot counters are cumulative per
// session and must never be summed with each other or with deltas, so each
// direction resolves to max(best snapshot, sum of positive deltas). When a
// session restarts mid-day and both styles report, this under-counts; that
// trade-off is intentional and matches router counter-reset behavior.
func (s *Service) Daily(ctx context.Context, username string, tenantID snowflake.ID, day time.Time, loc *time.Location) (usagedomain.DailyConsumption, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	var rows []usagedomain.UsageSample
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND username = ?", tenantID, username).
		Where("observed_at >= ? AND observed_at < ?", start.UTC(), end.UTC()).
		Where("bytes_in >= 0 AND bytes_out >= 0").
		Find(&rows).Error
	if err != nil {
		return usagedomain.DailyConsumption{}, err
	}

	var snapMaxIn, snapMaxOut, snapMaxSec int64
	var incSumIn, incSumOut, incSumSec int64
	for _, r := range rows {
		switch r.Kind {
		case usagedomain.SampleKindSnapshot:
			snapMaxIn = max(snapMaxIn, r.BytesIn)
			snapMaxOut = max(snapMaxOut, r.BytesOut)
			snapMaxSec = max(snapMaxSec, r.SessionSec)
		case usagedomain.SampleKindIncremental:
			if r.BytesIn > 0 {
				incSumIn += r.BytesIn
			}
			if r.BytesOut > 0 {
				incSumOut += r.BytesOut
			}
			if r.SessionSec > 0 {
				incSumSec += r.SessionSec
			}
		}
	}

	totalIn := max(snapMaxIn, incSumIn)
	totalOut := max(snapMaxOut, incSumOut)
	total := totalIn + totalOut
	return usagedomain.DailyConsumption{
		BytesIn:    totalIn,
		BytesOut:   totalOut,
		TotalBytes: total,
		TotalMB:    float64(total) / bytesPerMB,
		SessionSec: max(snapMaxSec, incSumSec),
	}, nil
}

func (s *Service) Period(ctx context.Context, username string, tenantID snowflake.ID, start, end time.Time) (usagedomain.PeriodConsumption, error) {
	var agg struct {
		BytesIn    int64
		BytesOut   int64
		SessionSec int64
		Samples    int64
	}
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageSample{}).
		Select("COALESCE(SUM(bytes_in),0) AS bytes_in, COALESCE(SUM(bytes_out),0) AS bytes_out, COALESCE(SUM(session_sec),0) AS session_sec, COUNT(*) AS samples").
		Where("tenant_id = ? AND username = ?", tenantID, username).
		Where("observed_at >= ? AND observed_at <= ?", start.UTC(), end.UTC()).
		Where("bytes_in >= 0 AND bytes_out >= 0").
		Scan(&agg).Error
	if err != nil {
		return usagedomain.PeriodConsumption{}, err
	}
	return usagedomain.PeriodConsumption{
		BytesIn:    agg.BytesIn,
		BytesOut:   agg.BytesOut,
		TotalBytes: agg.BytesIn + agg.BytesOut,
		SessionSec: agg.SessionSec,
		Samples:    agg.Samples,
	}, nil
}

func (s *Service) TenantConsumption(ctx context.Context, tenantID snowflake.ID, day time.Time, loc *time.Location) (usagedomain.TenantConsumption, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := day.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	var agg struct {
		BytesIn     int64
		BytesOut    int64
		SessionSec  int64
		UniqueUsers int64
		Samples     int64
	}
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageSample{}).
		Select("COALESCE(SUM(bytes_in),0) AS bytes_in, COALESCE(SUM(bytes_out),0) AS bytes_out, COALESCE(SUM(session_sec),0) AS session_sec, COUNT(DISTINCT username) AS unique_users, COUNT(*) AS samples").
		Where("tenant_id = ?", tenantID).
		Where("observed_at >= ? AND observed_at < ?", start.UTC(), end.UTC()).
		Where("bytes_in >= 0 AND bytes_out >= 0").
		Scan(&agg).Error
	if err != nil {
		return usagedomain.TenantConsumption{}, err
	}
	total := agg.BytesIn + agg.BytesOut
	return usagedomain.TenantConsumption{
		BytesIn:     agg.BytesIn,
		BytesOut:    agg.BytesOut,
		TotalBytes:  total,
		TotalMB:     float64(total) / bytesPerMB,
		SessionSec:  agg.SessionSec,
		UniqueUsers: agg.UniqueUsers,
		Samples:     agg.Samples,
	}, nil
}

func (s *Service) TopUsers(ctx context.Context, tenantID snowflake.ID, days, limit int) ([]usagedomain.TopUser, error) {
	if days <= 0 {
		days = 1
	}
	if limit <= 0 {
		limit = 10
	}
	end := s.clock.Now()
	start := end.AddDate(0, 0, -days)

	var rows []usagedomain.TopUser
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageSample{}).
		Select("username, SUM(bytes_in + bytes_out) AS total_bytes, SUM(session_sec) AS total_sec").
		Where("tenant_id = ?", tenantID).
		Where("observed_at >= ? AND observed_at <= ?", start, end).
		Group("username").
		Order("total_bytes DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (s *Service) ActiveUsernames(ctx context.Context, tenantID snowflake.ID, start, end time.Time) ([]string, error) {
	var usernames []string
	err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageSample{}).
		Distinct("username").
		Where("tenant_id = ?", tenantID).
		Where("observed_at >= ? AND observed_at < ?", start.UTC(), end.UTC()).
		Pluck("username", &usernames).Error
	return usernames, err
}

func (s *Service) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).
		Where("observed_at < ?", cutoff).
		Delete(&usagedomain.UsageSample{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("old usage samples purged",
			zap.Int64("removed", result.RowsAffected),
			zap.Time("cutoff", cutoff),
		)
	}
	return result.RowsAffected, nil
}
