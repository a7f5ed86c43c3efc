package scheduler

import (
	"context"
	"errors"
	"time"

	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	obsmetrics "github.com/portalmeter/portalmeter/internal/observability/metrics"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"go.uber.org/zap"
)

// collectUsage polls every active tenant's router for live sessions and
// appends one snapshot sample per session. A tenant whose router is
// unreachable is skipped for this tick; the others still collect.
func (s *Scheduler) collectUsage(ctx context.Context, _ bool) error {
	tenants, err := s.tenantSvc.ListActive(ctx)
	if err != nil {
		return err
	}
	schedMetrics := obsmetrics.Scheduler()

	var joined error
	for _, tn := range tenants {
		sessions, err := s.gateway.ListActiveSessions(ctx, tn.RouterCredentials())
		if err != nil {
			s.skipTenant(tn, JobCollectUsage, err)
			continue
		}

		ingested := 0
		now := s.clock.Now()
		for _, session := range sessions {
			_, err := s.usageSvc.Record(ctx, usagedomain.RecordRequest{
				TenantID:   tn.ID,
				Username:   session.Username,
				BytesIn:    session.BytesIn,
				BytesOut:   session.BytesOut,
				SessionSec: int64(session.SessionTime / time.Second),
				Kind:       usagedomain.SampleKindSnapshot,
				SessionID:  session.SessionID,
				ObservedAt: now,
			})
			if err != nil {
				// Malformed counters are dropped, not fatal.
				if errors.Is(err, usagedomain.ErrInvalidSample) || errors.Is(err, usagedomain.ErrInvalidUsername) {
					s.log.Warn("dropping malformed session sample",
						zap.String("tenant_id", tn.ID.String()),
						zap.String("username", session.Username),
						zap.Error(err),
					)
					continue
				}
				joined = errors.Join(joined, err)
				continue
			}
			ingested++
		}
		if ingested > 0 {
			schedMetrics.AddSamplesIngested(tn.ID.String(), ingested)
		}
	}
	return joined
}

// evaluateQuotas enforces quota for every user seen today, per tenant.
func (s *Scheduler) evaluateQuotas(ctx context.Context, _ bool) error {
	tenants, err := s.tenantSvc.ListActive(ctx)
	if err != nil {
		return err
	}

	var joined error
	for _, tn := range tenants {
		loc := tn.Location()
		localNow := s.clock.Now().In(loc)
		start := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
		end := start.AddDate(0, 0, 1)

		usernames, err := s.usageSvc.ActiveUsernames(ctx, tn.ID, start, end)
		if err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		for _, username := range usernames {
			if _, err := s.quotaSvc.Enforce(ctx, username, tn.ID); err != nil {
				// One dead router fails every user the same way; skip the
				// tenant instead of logging it per user.
				if gatewaydomain.IsGatewayError(err) {
					s.skipTenant(tn, JobEvaluateQuotas, err)
					break
				}
				joined = errors.Join(joined, err)
			}
		}
	}
	return joined
}

// creditRollover carries each tenant's unused allowance into today's rows,
// once per tenant-local day at the configured time.
func (s *Scheduler) creditRollover(ctx context.Context, force bool) error {
	tenants, err := s.tenantSvc.ListActive(ctx)
	if err != nil {
		return err
	}
	schedMetrics := obsmetrics.Scheduler()

	var joined error
	for _, tn := range tenants {
		loc := tn.Location()
		localNow := s.clock.Now().In(loc)
		if !force && !s.fixedTimeDue(JobCreditRollover, tn.ID, localNow, s.cfg.RolloverAt) {
			continue
		}

		today := creditdomain.DayKey(localNow, loc)
		yesterday := creditdomain.DayKey(localNow.AddDate(0, 0, -1), loc)
		created, err := s.creditSvc.RolloverDay(ctx, tn.ID, yesterday, today)
		if err != nil {
			joined = errors.Join(joined, err)
			continue
		}
		if created > 0 {
			schedMetrics.AddCreditsRolled(tn.ID.String(), created)
		}
	}
	return joined
}

// creditReseed makes sure everyone seen yesterday has a row for today, so
// the first evaluation of the day starts from a seeded allowance.
func (s *Scheduler) creditReseed(ctx context.Context, force bool) error {
	tenants, err := s.tenantSvc.ListActive(ctx)
	if err != nil {
		return err
	}

	var joined error
	for _, tn := range tenants {
		loc := tn.Location()
		localNow := s.clock.Now().In(loc)
		if !force && !s.fixedTimeDue(JobCreditReseed, tn.ID, localNow, s.cfg.ReseedAt) {
			continue
		}

		todayStart := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, loc)
		yesterdayStart := todayStart.AddDate(0, 0, -1)
		usernames, err := s.usageSvc.ActiveUsernames(ctx, tn.ID, yesterdayStart, todayStart)
		if err != nil {
			joined = errors.Join(joined, err)
			continue
		}

		today := creditdomain.DayKey(localNow, loc)
		for _, username := range usernames {
			if _, err := s.creditSvc.GetOrCreate(ctx, username, tn.ID, today, 0); err != nil {
				joined = errors.Join(joined, err)
			}
		}
	}
	return joined
}

// purgeUsage prunes samples older than the retention window.
func (s *Scheduler) purgeUsage(ctx context.Context, _ bool) error {
	removed, err := s.usageSvc.PurgeOlderThan(ctx, s.cfg.RetentionDays)
	if err != nil {
		return err
	}
	if removed > 0 {
		obsmetrics.Scheduler().AddSamplesPurged(removed)
	}
	return nil
}

func (s *Scheduler) skipTenant(tn *tenantdomain.Tenant, job string, err error) {
	obsmetrics.Scheduler().IncGatewaySkip(tn.ID.String())
	s.log.Warn("tenant skipped, router unreachable",
		zap.String("job", job),
		zap.String("tenant_id", tn.ID.String()),
		zap.String("tenant", tn.Name),
		zap.Error(err),
	)
}
