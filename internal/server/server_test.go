package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/portalmeter/portalmeter/internal/clock"
	"github.com/portalmeter/portalmeter/internal/config"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	creditservice "github.com/portalmeter/portalmeter/internal/credit/service"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
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

var serverDBSeq int

type serverFixture struct {
	srv      *Server
	engine   *gin.Engine
	gateway  *mockGateway
	clock    *clock.FakeClock
	tenantID snowflake.ID
}

const testDay = "2026-08-28"

func setupServerTest(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	serverDBSeq++
	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", serverDBSeq)
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
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fakeClock,
		TenantSvc: tenantSvc,
		UsageSvc:  usageSvc,
		CreditSvc: creditSvc,
		Gateway:   gw,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	srv := &Server{
		engine:    engine,
		cfg:       config.Config{Environment: "test"},
		log:       log,
		genID:     node,
		tenantSvc: tenantSvc,
		usageSvc:  usageSvc,
		creditSvc: creditSvc,
		quotaSvc:  quotaSvc,
		gateway:   gw,
	}
	srv.registerRoutes()

	ctx := context.Background()
	tn, err := tenantSvc.Create(ctx, tenantdomain.CreateTenantRequest{
		Name:       "cafe-1",
		RouterHost: "10.0.0.1",
	})
	require.NoError(t, err)
	class, err := tenantSvc.CreateClass(ctx, tenantdomain.CreateClassRequest{
		TenantID:       tn.ID,
		Name:           "standard",
		DailyLimitMB:   1000,
		DailyTimeLimit: 86400,
	})
	require.NoError(t, err)
	require.NoError(t, tenantSvc.ActivateClass(ctx, tn.ID, class.ID))

	return &serverFixture{srv: srv, engine: engine, gateway: gw, clock: fakeClock, tenantID: tn.ID}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	f.engine.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func (f *serverFixture) tenantPath(parts ...string) string {
	return "/v1/tenants/" + f.tenantID.String() + "/" + strings.Join(parts, "/")
}

func TestCreateTenantAndClasses(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodPost, "/v1/tenants", `{"name":"warung-2","router_host":"10.0.0.2","timezone":"Asia/Jakarta"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "warung-2", data["name"])
	assert.Equal(t, "Asia/Jakarta", data["timezone"])
	assert.NotEmpty(t, data["id"])

	resp = f.do(t, http.MethodGet, "/v1/tenants", "")
	require.Equal(t, http.StatusOK, resp.Code)
	tenants := decodeBody(t, resp)["data"].([]any)
	assert.Len(t, tenants, 2)

	resp = f.do(t, http.MethodPost, f.tenantPath("classes"), `{"name":"premium","daily_limit_mb":5000,"daily_time_limit":86400}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodGet, f.tenantPath("classes"), "")
	require.Equal(t, http.StatusOK, resp.Code)
	classes := decodeBody(t, resp)["data"].([]any)
	assert.Len(t, classes, 2)
}

func TestCreateTenantValidation(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodPost, "/v1/tenants", `{"name":"no-router"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	body := decodeBody(t, resp)
	payload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
}

func TestGetTenantNotFound(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodGet, "/v1/tenants/123456789", "")
	require.Equal(t, http.StatusNotFound, resp.Code)
	payload := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "not_found", payload["type"])
}

func TestMalformedTenantIDReturns400(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodGet, "/v1/tenants/not-a-number", "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestRecordAndDailyUsage(t *testing.T) {
	f := setupServerTest(t)

	sample := `{"username":"alice","bytes_in":104857600,"bytes_out":52428800,"session_time":600,"kind":"snapshot","session_id":"s1","observed_at":"2026-08-28T10:00:00Z"}`
	resp := f.do(t, http.MethodPost, f.tenantPath("usage"), sample)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodGet, f.tenantPath("usage", "daily")+"?username=alice&day="+testDay, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeBody(t, resp)["data"].(map[string]any)
	usage := data["usage"].(map[string]any)
	assert.Equal(t, float64(104857600), usage["bytes_in"])
	assert.Equal(t, float64(52428800), usage["bytes_out"])
	assert.InDelta(t, 150, usage["total_mb"].(float64), 0.01)
}

func TestTenantUsageSummary(t *testing.T) {
	f := setupServerTest(t)

	for _, sample := range []string{
		`{"username":"alice","bytes_in":1000,"bytes_out":500,"session_time":60,"kind":"incremental","observed_at":"2026-08-28T09:00:00Z"}`,
		`{"username":"bob","bytes_in":3000,"bytes_out":0,"session_time":30,"kind":"incremental","observed_at":"2026-08-28T10:00:00Z"}`,
	} {
		resp := f.do(t, http.MethodPost, f.tenantPath("usage"), sample)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}

	resp := f.do(t, http.MethodGet, f.tenantPath("usage", "summary")+"?day="+testDay, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, testDay, data["day"])
	usage := data["usage"].(map[string]any)
	assert.Equal(t, float64(4000), usage["bytes_in"])
	assert.Equal(t, float64(500), usage["bytes_out"])
	assert.Equal(t, float64(4500), usage["total_bytes"])
	assert.Equal(t, float64(2), usage["unique_users"])
	assert.Equal(t, float64(2), usage["samples"])
}

func TestRecordUsageRejectsBadSample(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodPost, f.tenantPath("usage"), `{"username":"alice","bytes_in":-5,"kind":"snapshot"}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	payload := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
}

func TestEvaluateWritesLedgerPeekDoesNot(t *testing.T) {
	f := setupServerTest(t)

	sample := `{"username":"alice","bytes_in":419430400,"kind":"snapshot","session_id":"s1","observed_at":"2026-08-28T10:00:00Z"}`
	resp := f.do(t, http.MethodPost, f.tenantPath("usage"), sample)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodGet, f.tenantPath("quota", "alice"), "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, string(quotadomain.StatusOK), data["status"])
	assert.InDelta(t, 40, data["data_percent"].(float64), 0.01)

	// Peek must not have persisted the totals.
	resp = f.do(t, http.MethodGet, f.tenantPath("credits", "alice", "remaining")+"?day="+testDay, "")
	require.Equal(t, http.StatusOK, resp.Code)
	remaining := decodeBody(t, resp)["data"].(map[string]any)["remaining_mb"].(float64)
	assert.InDelta(t, 1000, remaining, 0.01)

	resp = f.do(t, http.MethodPost, f.tenantPath("quota", "alice", "evaluate"), "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodGet, f.tenantPath("credits", "alice", "remaining")+"?day="+testDay, "")
	require.Equal(t, http.StatusOK, resp.Code)
	remaining = decodeBody(t, resp)["data"].(map[string]any)["remaining_mb"].(float64)
	assert.InDelta(t, 600, remaining, 0.01)
}

func TestBlockAndUnblockFlow(t *testing.T) {
	f := setupServerTest(t)

	f.gateway.On("SetUserEnabled", mock.Anything, mock.Anything, "alice", false).Return(nil).Once()
	resp := f.do(t, http.MethodPost, f.tenantPath("users", "alice", "block"), `{"reason":"abuse"}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodPost, f.tenantPath("users", "alice", "block"), `{"reason":"abuse"}`)
	require.Equal(t, http.StatusConflict, resp.Code)
	payload := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "conflict", payload["type"])

	resp = f.do(t, http.MethodGet, f.tenantPath("users", "alice", "state"), "")
	require.Equal(t, http.StatusOK, resp.Code)
	state := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, true, state["is_blocked"])
	assert.Equal(t, "abuse", state["blocked_reason"])

	f.gateway.On("SetUserEnabled", mock.Anything, mock.Anything, "alice", true).Return(nil).Once()
	resp = f.do(t, http.MethodPost, f.tenantPath("users", "alice", "unblock"), "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodPost, f.tenantPath("users", "alice", "unblock"), "")
	require.Equal(t, http.StatusConflict, resp.Code)

	f.gateway.AssertExpectations(t)
}

func TestUserStateUnknownReturns404(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodGet, f.tenantPath("users", "ghost", "state"), "")
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSyncProfilesGatewayFailureReturns502(t *testing.T) {
	f := setupServerTest(t)

	gwErr := &gatewaydomain.GatewayError{Op: "ListHotspotUsers", Host: "10.0.0.1", Err: fmt.Errorf("connection refused")}
	f.gateway.On("ListHotspotUsers", mock.Anything, mock.Anything).Return(nil, gwErr).Once()

	resp := f.do(t, http.MethodPost, f.tenantPath("profiles", "sync"), "")
	require.Equal(t, http.StatusBadGateway, resp.Code)
	payload := decodeBody(t, resp)["error"].(map[string]any)
	assert.Equal(t, "gateway_error", payload["type"])
	// Router detail stays out of the response body.
	assert.Equal(t, "could not reach device", payload["message"])
	assert.NotContains(t, resp.Body.String(), "10.0.0.1")
}

func TestTestGatewayReportsConnectivity(t *testing.T) {
	f := setupServerTest(t)

	f.gateway.On("TestConnection", mock.Anything, mock.Anything).Return(true, "RouterOS 7.14").Once()
	resp := f.do(t, http.MethodGet, f.tenantPath("gateway", "test"), "")
	require.Equal(t, http.StatusOK, resp.Code)
	data := decodeBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, true, data["reachable"])
	assert.Equal(t, "RouterOS 7.14", data["detail"])
}

func TestSchedulerEndpointsUnavailableWithoutScheduler(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodGet, "/v1/scheduler/status", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)

	resp = f.do(t, http.MethodPost, "/v1/scheduler/jobs/collect_usage/run", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestPoolStatsUnavailableWithoutPool(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodGet, "/v1/gateway/pools", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestSetTenantActiveHidesFromListing(t *testing.T) {
	f := setupServerTest(t)

	resp := f.do(t, http.MethodPatch, "/v1/tenants/"+f.tenantID.String()+"/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = f.do(t, http.MethodGet, "/v1/tenants", "")
	require.Equal(t, http.StatusOK, resp.Code)
	tenants := decodeBody(t, resp)["data"].([]any)
	assert.Empty(t, tenants)
}
