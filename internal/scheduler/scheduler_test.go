package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/portalmeter/portalmeter/internal/clock"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	creditservice "github.com/portalmeter/portalmeter/internal/credit/service"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	obsmetrics "github.com/portalmeter/portalmeter/internal/observability/metrics"
	quotadomain "github.com/portalmeter/portalmeter/internal/quota/domain"
	quotaservice "github.com/portalmeter/portalmeter/internal/quota/service"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	tenantservice "github.com/portalmeter/portalmeter/internal/tenant/service"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	usageservice "github.com/portalmeter/portalmeter/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ListHotspotUsers(ctx context.Context, creds gatewaydomain.Credentials) ([]gatewaydomain.HotspotUser, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gatewaydomain.HotspotUser), args.Error(1)
}

func (m *mockGateway) ListActiveSessions(ctx context.Context, creds gatewaydomain.Credentials) ([]gatewaydomain.ActiveSession, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]gatewaydomain.ActiveSession), args.Error(1)
}

func (m *mockGateway) SetUserEnabled(ctx context.Context, creds gatewaydomain.Credentials, username string, enabled bool) error {
	args := m.Called(ctx, creds, username, enabled)
	return args.Error(0)
}

func (m *mockGateway) SetUserProfile(ctx context.Context, creds gatewaydomain.Credentials, username, profile string) error {
	args := m.Called(ctx, creds, username, profile)
	return args.Error(0)
}

func (m *mockGateway) TestConnection(ctx context.Context, creds gatewaydomain.Credentials) (bool, string) {
	args := m.Called(ctx, creds)
	return args.Bool(0), args.String(1)
}

var schedDBSeq int

type schedFixture struct {
	sched     *Scheduler
	clock     *clock.FakeClock
	gateway   *mockGateway
	tenantSvc tenantdomain.Service
	usageSvc  usagedomain.Service
	creditSvc creditdomain.Service
	quotaSvc  quotadomain.Service
	db        *gorm.DB
}

func setupSchedTest(t *testing.T, cfg Config) *schedFixture {
	t.Helper()
	obsmetrics.ResetSchedulerMetricsForTest()

	schedDBSeq++
	dsn := fmt.Sprintf("file:sched_%d?mode=memory&cache=shared", schedDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tenantdomain.Tenant{},
		&tenantdomain.ServiceClass{},
		&usagedomain.UsageSample{},
		&creditdomain.DailyCredit{},
		&quotadomain.UserProfileState{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC))
	gw := &mockGateway{}

	tenantSvc := tenantservice.NewService(tenantservice.ServiceParam{DB: db, Log: log, GenID: node})
	usageSvc := usageservice.NewService(usageservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: fakeClock})
	creditSvc := creditservice.NewService(creditservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: fakeClock, TenantSvc: tenantSvc})
	quotaSvc := quotaservice.NewService(quotaservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fakeClock,
		TenantSvc: tenantSvc, UsageSvc: usageSvc, CreditSvc: creditSvc, Gateway: gw,
	})

	sched, err := New(Params{
		Log: log, Clock: fakeClock, Config: cfg,
		TenantSvc: tenantSvc, UsageSvc: usageSvc, CreditSvc: creditSvc,
		QuotaSvc: quotaSvc, Gateway: gw,
	})
	require.NoError(t, err)

	return &schedFixture{
		sched: sched, clock: fakeClock, gateway: gw,
		tenantSvc: tenantSvc, usageSvc: usageSvc, creditSvc: creditSvc,
		quotaSvc: quotaSvc, db: db,
	}
}

func (f *schedFixture) addTenant(t *testing.T, name, host, tz string, limitMB int64) *tenantdomain.Tenant {
	t.Helper()
	ctx := context.Background()
	tn, err := f.tenantSvc.Create(ctx, tenantdomain.CreateTenantRequest{
		Name:       name,
		RouterHost: host,
		Timezone:   tz,
	})
	require.NoError(t, err)
	class, err := f.tenantSvc.CreateClass(ctx, tenantdomain.CreateClassRequest{
		TenantID:     tn.ID,
		Name:         "standard",
		DailyLimitMB: limitMB,
	})
	require.NoError(t, err)
	require.NoError(t, f.tenantSvc.ActivateClass(ctx, tn.ID, class.ID))
	return tn
}

func credsForHost(host string) any {
	return mock.MatchedBy(func(c gatewaydomain.Credentials) bool { return c.Host == host })
}

func TestRunOnceCollectsEvaluatesAndBlocks(t *testing.T) {
	f := setupSchedTest(t, Config{})
	ctx := context.Background()
	tn := f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 100)

	// One session far over the 100 MB allowance.
	f.gateway.On("ListActiveSessions", mock.Anything, mock.Anything).Return([]gatewaydomain.ActiveSession{
		{Username: "alice", SessionID: "*1", BytesIn: 200 * 1024 * 1024, BytesOut: 0, SessionTime: time.Hour},
	}, nil)
	f.gateway.On("SetUserEnabled", mock.Anything, mock.Anything, "alice", false).Return(nil).Once()

	require.NoError(t, f.sched.RunOnce(ctx))

	// The sample landed in the usage ledger.
	daily, err := f.usageSvc.Daily(ctx, "alice", tn.ID, f.clock.Now(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, int64(200*1024*1024), daily.BytesIn)

	// Evaluation persisted the totals and blocked the user.
	state, err := f.quotaSvc.ProfileState(ctx, "alice", tn.ID)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.IsBlocked)
	f.gateway.AssertExpectations(t)
}

func TestGatewayFailureSkipsTenantNotLoop(t *testing.T) {
	f := setupSchedTest(t, Config{})
	ctx := context.Background()
	f.addTenant(t, "down", "10.0.0.1", "UTC", 1000)
	up := f.addTenant(t, "up", "10.0.0.2", "UTC", 1000)

	gwErr := &gatewaydomain.GatewayError{Op: "list-sessions", Host: "10.0.0.1:8728", Err: context.DeadlineExceeded}
	f.gateway.On("ListActiveSessions", mock.Anything, credsForHost("10.0.0.1")).Return(nil, gwErr)
	f.gateway.On("ListActiveSessions", mock.Anything, credsForHost("10.0.0.2")).Return([]gatewaydomain.ActiveSession{
		{Username: "bob", SessionID: "*2", BytesIn: 1024, BytesOut: 512},
	}, nil)

	// A dead router is a skip, not a scheduler failure.
	require.NoError(t, f.sched.RunOnce(ctx))

	daily, err := f.usageSvc.Daily(ctx, "bob", up.ID, f.clock.Now(), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), daily.BytesIn)
}

func TestIntervalJobsRespectCadence(t *testing.T) {
	f := setupSchedTest(t, Config{CollectInterval: 5 * time.Minute})
	ctx := context.Background()
	f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)

	f.gateway.On("ListActiveSessions", mock.Anything, mock.Anything).Return([]gatewaydomain.ActiveSession{}, nil).Twice()

	require.NoError(t, f.sched.RunOnce(ctx))
	// One minute later the collect job is not due yet.
	f.clock.Advance(time.Minute)
	require.NoError(t, f.sched.RunOnce(ctx))
	// Five minutes past the first run it fires again.
	f.clock.Advance(5 * time.Minute)
	require.NoError(t, f.sched.RunOnce(ctx))

	f.gateway.AssertExpectations(t)
}

func TestRolloverFiresOncePerLocalDay(t *testing.T) {
	f := setupSchedTest(t, Config{RolloverAt: "03:00", EnabledJobs: []string{JobCreditRollover}})
	ctx := context.Background()
	tn := f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)

	// Yesterday's ledger: 400 of 1000 used.
	_, err := f.creditSvc.ApplyUsage(ctx, "alice", tn.ID, "2026-08-27", 400*1024*1024, 0)
	require.NoError(t, err)

	// 01:00 local, before the configured rollover time: nothing happens.
	f.clock.Set(time.Date(2026, 8, 28, 1, 0, 0, 0, time.UTC))
	require.NoError(t, f.sched.RunOnce(ctx))
	var count int64
	f.db.Model(&creditdomain.DailyCredit{}).Where("day = ?", "2026-08-28").Count(&count)
	assert.Equal(t, int64(0), count)

	// 03:00 local: the carry-over lands.
	f.clock.Set(time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC))
	require.NoError(t, f.sched.RunOnce(ctx))
	credit, err := f.creditSvc.GetOrCreate(ctx, "alice", tn.ID, "2026-08-28", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(600), credit.AccumulatedCreditMB)

	// Later ticks the same day do not fire again.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	f.db.Model(&creditdomain.DailyCredit{}).Where("day = ?", "2026-08-28").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRolloverUsesTenantLocalDay(t *testing.T) {
	f := setupSchedTest(t, Config{RolloverAt: "00:00", EnabledJobs: []string{JobCreditRollover}})
	ctx := context.Background()
	tn := f.addTenant(t, "warnet", "10.0.0.1", "Asia/Jakarta", 1000)

	// 18:00 UTC Aug 27 is 01:00 WIB Aug 28: the tenant's day has turned.
	f.clock.Set(time.Date(2026, 8, 27, 18, 0, 0, 0, time.UTC))
	_, err := f.creditSvc.ApplyUsage(ctx, "alice", tn.ID, "2026-08-27", 250*1024*1024, 0)
	require.NoError(t, err)

	require.NoError(t, f.sched.RunOnce(ctx))

	credit, err := f.creditSvc.GetOrCreate(ctx, "alice", tn.ID, "2026-08-28", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(750), credit.AccumulatedCreditMB)
}

func TestReseedCreatesTodayRowsForYesterdaysUsers(t *testing.T) {
	f := setupSchedTest(t, Config{ReseedAt: "00:05", EnabledJobs: []string{JobCreditReseed}})
	ctx := context.Background()
	tn := f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)

	// Usage seen yesterday.
	_, err := f.usageSvc.Record(ctx, usagedomain.RecordRequest{
		TenantID: tn.ID, Username: "alice", BytesIn: 1024,
		Kind:       usagedomain.SampleKindIncremental,
		ObservedAt: time.Date(2026, 8, 27, 15, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 8, 28, 0, 5, 0, 0, time.UTC))
	require.NoError(t, f.sched.RunOnce(ctx))

	var count int64
	f.db.Model(&creditdomain.DailyCredit{}).
		Where("username = ? AND day = ?", "alice", "2026-08-28").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestPurgeJobRemovesExpiredSamples(t *testing.T) {
	f := setupSchedTest(t, Config{RetentionDays: 90, EnabledJobs: []string{JobPurgeUsage}})
	ctx := context.Background()
	tn := f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)

	old := f.clock.Now().AddDate(0, 0, -91)
	_, err := f.usageSvc.Record(ctx, usagedomain.RecordRequest{
		TenantID: tn.ID, Username: "alice", BytesIn: 1,
		Kind: usagedomain.SampleKindSnapshot, ObservedAt: old,
	})
	require.NoError(t, err)
	_, err = f.usageSvc.Record(ctx, usagedomain.RecordRequest{
		TenantID: tn.ID, Username: "alice", BytesIn: 2,
		Kind: usagedomain.SampleKindSnapshot, ObservedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, f.sched.RunOnce(ctx))

	var count int64
	f.db.Model(&usagedomain.UsageSample{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestForceJobBypassesDueChecks(t *testing.T) {
	f := setupSchedTest(t, Config{RolloverAt: "23:59"})
	ctx := context.Background()
	tn := f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)

	_, err := f.creditSvc.ApplyUsage(ctx, "alice", tn.ID, "2026-08-27", 0, 0)
	require.NoError(t, err)

	// 12:00, hours before the configured time, but forced.
	require.NoError(t, f.sched.ForceJob(ctx, JobCreditRollover))
	var count int64
	f.db.Model(&creditdomain.DailyCredit{}).Where("day = ?", "2026-08-28").Count(&count)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, f.sched.ForceJob(ctx, "no_such_job"), ErrUnknownJob)
}

func TestEnabledJobsFilter(t *testing.T) {
	f := setupSchedTest(t, Config{EnabledJobs: []string{JobPurgeUsage}})
	ctx := context.Background()
	f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)

	// collect_usage is disabled: the gateway must never be called.
	require.NoError(t, f.sched.RunOnce(ctx))
	f.gateway.AssertNotCalled(t, "ListActiveSessions", mock.Anything, mock.Anything)
}

func TestStatusTracksRuns(t *testing.T) {
	f := setupSchedTest(t, Config{})
	ctx := context.Background()
	f.addTenant(t, "cafe-1", "10.0.0.1", "UTC", 1000)
	f.gateway.On("ListActiveSessions", mock.Anything, mock.Anything).Return([]gatewaydomain.ActiveSession{}, nil)

	require.NoError(t, f.sched.RunOnce(ctx))

	status := f.sched.Status()
	require.NotEmpty(t, status)
	byName := map[string]JobStatus{}
	for _, st := range status {
		byName[st.Name] = st
	}
	assert.Equal(t, int64(1), byName[JobCollectUsage].Runs)
	assert.Equal(t, int64(0), byName[JobCollectUsage].Errors)
	assert.False(t, byName[JobCollectUsage].LastRun.IsZero())
}
