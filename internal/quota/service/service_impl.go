package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/clock"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	obsmetrics "github.com/portalmeter/portalmeter/internal/observability/metrics"
	quotadomain "github.com/portalmeter/portalmeter/internal/quota/domain"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"github.com/portalmeter/portalmeter/pkg/db"
	"github.com/portalmeter/portalmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const blockedReasonQuota = "daily quota exceeded"

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	TenantSvc tenantdomain.Service
	UsageSvc  usagedomain.Service
	CreditSvc creditdomain.Service
	Gateway   gatewaydomain.RouterGateway
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	tenantSvc tenantdomain.Service
	usageSvc  usagedomain.Service
	creditSvc creditdomain.Service
	gateway   gatewaydomain.RouterGateway
	states    repository.Repository[quotadomain.UserProfileState]
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("quota.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		tenantSvc: p.TenantSvc,
		usageSvc:  p.UsageSvc,
		creditSvc: p.CreditSvc,
		gateway:   p.Gateway,
		states:    repository.ProvideStore[quotadomain.UserProfileState](p.DB),
	}
}

func (s *Service) Evaluate(ctx context.Context, username string, tenantID snowflake.ID) (*quotadomain.EvaluationResult, error) {
	return s.evaluate(ctx, username, tenantID, true)
}

func (s *Service) Peek(ctx context.Context, username string, tenantID snowflake.ID) (*quotadomain.EvaluationResult, error) {
	return s.evaluate(ctx, username, tenantID, false)
}

// evaluate is the shared pass: de-duplicated daily consumption joined with
// the credit row. persist writes the totals back as the authoritative
// used_mb/used_time for the day.
func (s *Service) evaluate(ctx context.Context, username string, tenantID snowflake.ID, persist bool) (*quotadomain.EvaluationResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, quotadomain.ErrInvalidUsername
	}

	tenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	loc := tenant.Location()
	now := s.clock.Now()
	day := creditdomain.DayKey(now, loc)

	consumption, err := s.usageSvc.Daily(ctx, username, tenantID, now, loc)
	if err != nil {
		return nil, err
	}

	var credit *creditdomain.DailyCredit
	if persist {
		credit, err = s.creditSvc.ApplyUsage(ctx, username, tenantID, day, consumption.TotalBytes, consumption.SessionSec)
	} else {
		credit, err = s.creditSvc.GetOrCreate(ctx, username, tenantID, day, 0)
	}
	if err != nil {
		return nil, err
	}
	if !persist {
		// Project today's consumption onto the row without writing it.
		credit.UsedMB = consumption.TotalMB
		credit.UsedSec = consumption.SessionSec
	}

	state, err := s.findState(ctx, username, tenantID)
	if err != nil {
		return nil, err
	}

	dataPct := credit.DataPercent()
	timePct := credit.TimePercent()
	result := &quotadomain.EvaluationResult{
		Username:     username,
		Day:          day,
		Status:       quotadomain.StatusFor(dataPct, timePct),
		DataPercent:  dataPct,
		TimePercent:  timePct,
		UsedMB:       credit.UsedMB,
		AllowedMB:    credit.TotalAvailableMB + credit.AccumulatedCreditMB,
		RemainingMB:  credit.RemainingMB(),
		UsedSec:      credit.UsedSec,
		RemainingSec: credit.RemainingSec(),
	}
	result.Exceeded = result.Status == quotadomain.StatusExceeded
	result.Blocked = state != nil && state.IsBlocked
	return result, nil
}

func (s *Service) Enforce(ctx context.Context, username string, tenantID snowflake.ID) (*quotadomain.EvaluationResult, error) {
	result, err := s.Evaluate(ctx, username, tenantID)
	if err != nil {
		return nil, err
	}
	// Blocked users stay blocked even when back under the limit; only an
	// explicit Unblock lifts enforcement. This avoids flapping at the
	// threshold boundary.
	if !result.Exceeded || result.Blocked {
		return result, nil
	}

	tenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.block(ctx, tenant, username, blockedReasonQuota); err != nil {
		return nil, err
	}
	result.Blocked = true
	obsmetrics.Scheduler().IncUserBlocked(tenantID.String())

	s.log.Warn("hotspot user blocked",
		zap.String("username", username),
		zap.String("tenant_id", tenantID.String()),
		zap.Float64("data_percent", result.DataPercent),
		zap.Float64("time_percent", result.TimePercent),
	)
	return result, nil
}

func (s *Service) Block(ctx context.Context, username string, tenantID snowflake.ID, reason string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return quotadomain.ErrInvalidUsername
	}
	state, err := s.findState(ctx, username, tenantID)
	if err != nil {
		return err
	}
	if state != nil && state.IsBlocked {
		return quotadomain.ErrAlreadyBlocked
	}

	tenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "blocked by operator"
	}
	return s.block(ctx, tenant, username, reason)
}

func (s *Service) block(ctx context.Context, tenant *tenantdomain.Tenant, username, reason string) error {
	if err := s.gateway.SetUserEnabled(ctx, tenant.RouterCredentials(), username, false); err != nil {
		return err
	}

	state, err := s.ensureState(ctx, username, tenant.ID)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	return s.states.Update(ctx, state.ID.String(), map[string]any{
		"is_blocked":     true,
		"blocked_reason": reason,
		"blocked_at":     now,
		"updated_at":     now,
	})
}

func (s *Service) Unblock(ctx context.Context, username string, tenantID snowflake.ID) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return quotadomain.ErrInvalidUsername
	}
	state, err := s.findState(ctx, username, tenantID)
	if err != nil {
		return err
	}
	if state == nil || !state.IsBlocked {
		return quotadomain.ErrNotBlocked
	}

	tenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return err
	}
	creds := tenant.RouterCredentials()
	if err := s.gateway.SetUserEnabled(ctx, creds, username, true); err != nil {
		return err
	}
	// The cleared flags are zero values, so the write must be a column map;
	// a struct update would drop them and leave the row blocked.
	fields := map[string]any{
		"is_blocked":     false,
		"blocked_reason": "",
		"blocked_at":     nil,
		"updated_at":     s.clock.Now(),
	}
	if state.OriginalProfile != "" && state.Profile != state.OriginalProfile {
		if err := s.gateway.SetUserProfile(ctx, creds, username, state.OriginalProfile); err != nil {
			return err
		}
		fields["profile"] = state.OriginalProfile
	}
	if err := s.states.Update(ctx, state.ID.String(), fields); err != nil {
		return err
	}

	s.log.Info("hotspot user unblocked",
		zap.String("username", username),
		zap.String("tenant_id", tenantID.String()),
	)
	return nil
}

func (s *Service) SyncProfiles(ctx context.Context, tenantID snowflake.ID) (int, error) {
	tenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	users, err := s.gateway.ListHotspotUsers(ctx, tenant.RouterCredentials())
	if err != nil {
		return 0, err
	}

	for _, user := range users {
		state, err := s.findState(ctx, user.Username, tenantID)
		if err != nil {
			return 0, err
		}
		now := s.clock.Now()
		if state == nil {
			fresh := &quotadomain.UserProfileState{
				ID:              s.genID.Generate(),
				TenantID:        tenantID,
				Username:        user.Username,
				Profile:         user.Profile,
				OriginalProfile: user.Profile,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.states.Create(ctx, fresh); err != nil && !db.IsDuplicateKeyErr(err) {
				return 0, err
			}
			continue
		}
		if state.Profile != user.Profile {
			err := s.states.Update(ctx, state.ID.String(), map[string]any{
				"profile":    user.Profile,
				"updated_at": now,
			})
			if err != nil {
				return 0, err
			}
		}
	}

	s.log.Info("hotspot profiles synced",
		zap.String("tenant_id", tenantID.String()),
		zap.Int("users", len(users)),
	)
	return len(users), nil
}

func (s *Service) ProfileState(ctx context.Context, username string, tenantID snowflake.ID) (*quotadomain.UserProfileState, error) {
	return s.findState(ctx, strings.TrimSpace(username), tenantID)
}

func (s *Service) findState(ctx context.Context, username string, tenantID snowflake.ID) (*quotadomain.UserProfileState, error) {
	return s.states.FindOne(ctx, &quotadomain.UserProfileState{
		TenantID: tenantID,
		Username: username,
	})
}

func (s *Service) ensureState(ctx context.Context, username string, tenantID snowflake.ID) (*quotadomain.UserProfileState, error) {
	state, err := s.findState(ctx, username, tenantID)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	now := s.clock.Now()
	fresh := &quotadomain.UserProfileState{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.states.Create(ctx, fresh); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.findState(ctx, username, tenantID)
		}
		return nil, err
	}
	return fresh, nil
}
