package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/clock"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	"github.com/portalmeter/portalmeter/pkg/db"
	"github.com/portalmeter/portalmeter/pkg/db/option"
	"github.com/portalmeter/portalmeter/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bytesPerMB = 1024 * 1024

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	TenantSvc tenantdomain.Service
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	tenantSvc tenantdomain.Service
	credits   repository.Repository[creditdomain.DailyCredit]
}

func NewService(p ServiceParam) creditdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("credit.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		tenantSvc: p.TenantSvc,
		credits:   repository.ProvideStore[creditdomain.DailyCredit](p.DB),
	}
}

func (s *Service) GetOrCreate(ctx context.Context, username string, tenantID snowflake.ID, day string, classID snowflake.ID) (*creditdomain.DailyCredit, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, creditdomain.ErrInvalidUsername
	}
	if _, err := time.Parse(creditdomain.DayFormat, day); err != nil {
		return nil, creditdomain.ErrInvalidDay
	}

	existing, err := s.find(ctx, username, tenantID, day)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var limitMB, limitSec int64
	if classID == 0 {
		class, err := s.tenantSvc.ActiveClass(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		classID = class.ID
		limitMB = class.DailyLimitMB
		limitSec = class.DailyTimeLimit
	} else {
		classes, err := s.tenantSvc.ListClasses(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		found := false
		for _, class := range classes {
			if class.ID == classID {
				limitMB = class.DailyLimitMB
				limitSec = class.DailyTimeLimit
				found = true
				break
			}
		}
		if !found {
			return nil, tenantdomain.ErrClassNotFound
		}
	}

	now := s.clock.Now().UTC()
	credit := &creditdomain.DailyCredit{
		ID:                s.genID.Generate(),
		TenantID:          tenantID,
		Username:          username,
		Day:               day,
		ClassID:           classID,
		TotalAvailableMB:  float64(limitMB),
		TotalAvailableSec: limitSec,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.credits.Create(ctx, credit); err != nil {
		// Lost a creation race; the winner's row is authoritative.
		if db.IsDuplicateKeyErr(err) {
			return s.find(ctx, username, tenantID, day)
		}
		return nil, err
	}

	s.log.Info("daily credit created",
		zap.String("username", username),
		zap.String("tenant_id", tenantID.String()),
		zap.String("day", day),
		zap.Float64("total_available_mb", credit.TotalAvailableMB),
	)
	return credit, nil
}

func (s *Service) ApplyUsage(ctx context.Context, username string, tenantID snowflake.ID, day string, bytesUsed, secondsUsed int64) (*creditdomain.DailyCredit, error) {
	credit, err := s.GetOrCreate(ctx, username, tenantID, day, 0)
	if err != nil {
		return nil, err
	}

	usedMB := float64(bytesUsed) / bytesPerMB
	now := s.clock.Now().UTC()
	err = s.db.WithContext(ctx).
		Model(&creditdomain.DailyCredit{}).
		Where("id = ?", credit.ID).
		Updates(map[string]any{
			"used_mb":    usedMB,
			"used_sec":   secondsUsed,
			"updated_at": now,
		}).Error
	if err != nil {
		return nil, err
	}

	credit.UsedMB = usedMB
	credit.UsedSec = secondsUsed
	credit.UpdatedAt = now
	return credit, nil
}

func (s *Service) RolloverDay(ctx context.Context, tenantID snowflake.ID, fromDay, toDay string) (int, error) {
	if fromDay == "" || toDay == "" || fromDay >= toDay {
		return 0, creditdomain.ErrInvalidDay
	}

	previous, err := s.credits.Find(ctx, &creditdomain.DailyCredit{TenantID: tenantID, Day: fromDay})
	if err != nil {
		return 0, err
	}

	created := 0
	for _, old := range previous {
		// Check-then-create keeps duplicate rollover invocations idempotent;
		// the unique index covers the race window.
		existing, err := s.find(ctx, old.Username, tenantID, toDay)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}

		// Carry-over is computed from the base allowance only, so unused
		// credit never compounds across days.
		surplusMB := old.TotalAvailableMB - old.UsedMB
		if surplusMB < 0 {
			surplusMB = 0
		}
		surplusSec := old.TotalAvailableSec - old.UsedSec
		if surplusSec < 0 {
			surplusSec = 0
		}

		now := s.clock.Now().UTC()
		fresh := &creditdomain.DailyCredit{
			ID:                   s.genID.Generate(),
			TenantID:             tenantID,
			Username:             old.Username,
			Day:                  toDay,
			ClassID:              old.ClassID,
			TotalAvailableMB:     old.TotalAvailableMB,
			TotalAvailableSec:    old.TotalAvailableSec,
			AccumulatedCreditMB:  surplusMB,
			AccumulatedCreditSec: surplusSec,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := s.credits.Create(ctx, fresh); err != nil {
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			return created, err
		}
		created++
	}

	if created > 0 {
		s.log.Info("daily credits rolled over",
			zap.String("tenant_id", tenantID.String()),
			zap.String("from", fromDay),
			zap.String("to", toDay),
			zap.Int("created", created),
		)
	}
	return created, nil
}

func (s *Service) History(ctx context.Context, username string, tenantID snowflake.ID, days int) ([]*creditdomain.DailyCredit, error) {
	if days <= 0 {
		days = 30
	}
	return s.credits.Find(ctx,
		&creditdomain.DailyCredit{TenantID: tenantID, Username: strings.TrimSpace(username)},
		option.WithOrder("day DESC"),
		option.WithLimit(days),
	)
}

func (s *Service) Remaining(ctx context.Context, username string, tenantID snowflake.ID, day string) (float64, error) {
	credit, err := s.GetOrCreate(ctx, username, tenantID, day, 0)
	if err != nil {
		return 0, err
	}
	return credit.RemainingMB(), nil
}

func (s *Service) find(ctx context.Context, username string, tenantID snowflake.ID, day string) (*creditdomain.DailyCredit, error) {
	return s.credits.FindOne(ctx, &creditdomain.DailyCredit{
		TenantID: tenantID,
		Username: username,
		Day:      day,
	})
}
