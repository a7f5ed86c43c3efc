// Package scheduler runs the enforcement loop: usage collection, quota
// evaluation, daily credit rollover and sample pruning, all on one
// cooperative polling worker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/portalmeter/portalmeter/internal/clock"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	obsmetrics "github.com/portalmeter/portalmeter/internal/observability/metrics"
	quotadomain "github.com/portalmeter/portalmeter/internal/quota/domain"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidConfig = errors.New("scheduler: invalid configuration")
	ErrUnknownJob    = errors.New("scheduler: unknown job")
)

const (
	JobCollectUsage   = "collect_usage"
	JobEvaluateQuotas = "evaluate_quotas"
	JobCreditRollover = "credit_rollover"
	JobCreditReseed   = "credit_reseed"
	JobPurgeUsage     = "purge_usage"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	TenantSvc tenantdomain.Service
	UsageSvc  usagedomain.Service
	CreditSvc creditdomain.Service
	QuotaSvc  quotadomain.Service
	Gateway   gatewaydomain.RouterGateway
	Config    Config `optional:"true"`
}

// JobStatus is one row of the operational status snapshot.
type JobStatus struct {
	Name      string    `json:"name"`
	Runs      int64     `json:"runs"`
	Errors    int64     `json:"errors"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

type jobState struct {
	runs    int64
	errs    int64
	lastRun time.Time
	lastErr string
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	tenantSvc tenantdomain.Service
	usageSvc  usagedomain.Service
	creditSvc creditdomain.Service
	quotaSvc  quotadomain.Service
	gateway   gatewaydomain.RouterGateway

	mu     sync.Mutex
	states map[string]*jobState
	// fired records fixed-time jobs already run per (job, tenant, local day).
	fired map[string]bool
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.TenantSvc == nil || p.UsageSvc == nil || p.CreditSvc == nil || p.QuotaSvc == nil || p.Gateway == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		tenantSvc: p.TenantSvc,
		usageSvc:  p.UsageSvc,
		creditSvc: p.CreditSvc,
		quotaSvc:  p.QuotaSvc,
		gateway:   p.Gateway,
		states:    make(map[string]*jobState),
		fired:     make(map[string]bool),
	}, nil
}

// runJob wraps one job execution with a timeout, metrics and status
// bookkeeping. A deadline is treated as a soft-timeout: logged and counted,
// never propagated as a loop failure.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	s.recordRun(name, start, err)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) recordRun(name string, at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &jobState{}
		s.states[name] = st
	}
	st.runs++
	st.lastRun = at
	if err != nil {
		st.errs++
		st.lastErr = err.Error()
	} else {
		st.lastErr = ""
	}
}

// RunOnce executes every enabled job that is due at the current tick. Jobs
// run sequentially on the caller's goroutine; failures are joined, logged by
// the caller and never abort the remaining jobs.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.run(parent, false)
}

// ForceJob runs one named job immediately, ignoring interval and
// time-of-day due checks. Operational override; same failure containment
// as a scheduled run.
func (s *Scheduler) ForceJob(parent context.Context, name string) error {
	for _, job := range s.jobs() {
		if strings.EqualFold(job.name, name) {
			return s.runJob(parent, job.name, func(ctx context.Context) error {
				return job.run(ctx, true)
			})
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

type jobSpec struct {
	name string
	due  func(now time.Time) bool
	run  func(ctx context.Context, force bool) error
}

func (s *Scheduler) jobs() []jobSpec {
	return []jobSpec{
		{JobCollectUsage, s.intervalDue(JobCollectUsage, s.cfg.CollectInterval), s.collectUsage},
		{JobEvaluateQuotas, s.intervalDue(JobEvaluateQuotas, s.cfg.EvaluateInterval), s.evaluateQuotas},
		// Fixed-time jobs are due every tick; the per-tenant local-time
		// check lives inside the job.
		{JobCreditRollover, alwaysDue, s.creditRollover},
		{JobCreditReseed, alwaysDue, s.creditReseed},
		{JobPurgeUsage, s.intervalDue(JobPurgeUsage, s.cfg.PurgeInterval), s.purgeUsage},
	}
}

func (s *Scheduler) run(parent context.Context, force bool) error {
	now := s.clock.Now()
	var err error
	for _, job := range s.jobs() {
		if !s.isJobEnabled(job.name) {
			continue
		}
		if !force && !job.due(now) {
			continue
		}
		job := job
		err = errors.Join(err, s.runJob(parent, job.name, func(ctx context.Context) error {
			return job.run(ctx, force)
		}))
	}
	return err
}

// RunForever is the worker loop. A failed pass logs, backs off for a fixed
// interval and resumes; only context cancellation stops the loop.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.TickInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler pass failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ErrorBackoff):
			}
		}
		nextRun = nextRun.Add(s.cfg.TickInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Status reports per-job run counts and last outcomes, sorted by job name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.states))
	for name, st := range s.states {
		out = append(out, JobStatus{
			Name:      name,
			Runs:      st.runs,
			Errors:    st.errs,
			LastRun:   st.lastRun,
			LastError: st.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) isJobEnabled(name string) bool {
	// Empty means all jobs enabled (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

func alwaysDue(time.Time) bool { return true }

func (s *Scheduler) intervalDue(name string, interval time.Duration) func(time.Time) bool {
	return func(now time.Time) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		st := s.states[name]
		return st == nil || now.Sub(st.lastRun) >= interval
	}
}

// fixedTimeDue fires once per (job, tenant, local day) after the configured
// local time-of-day has passed. The underlying operations are idempotent, so
// a duplicate fire after a restart is harmless.
func (s *Scheduler) fixedTimeDue(job string, tenantID snowflake.ID, localNow time.Time, at string) bool {
	hour, minute, err := parseClockTime(at)
	if err != nil {
		return false
	}
	today := localNow.Format(creditdomain.DayFormat)
	if localNow.Hour() < hour || (localNow.Hour() == hour && localNow.Minute() < minute) {
		return false
	}

	key := job + "|" + tenantID.String() + "|" + today
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fired[key] {
		return false
	}
	s.fired[key] = true
	return true
}
