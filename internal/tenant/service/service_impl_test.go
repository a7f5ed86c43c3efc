package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var tenantDBSeq int

func setupTenantTest(t *testing.T) tenantdomain.Service {
	t.Helper()

	tenantDBSeq++
	dsn := fmt.Sprintf("file:tenant_%d?mode=memory&cache=shared", tenantDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tenantdomain.Tenant{}, &tenantdomain.ServiceClass{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParam{DB: db, Log: zaptest.NewLogger(t), GenID: node})
}

func TestCreateTenantDefaults(t *testing.T) {
	svc := setupTenantTest(t)
	ctx := context.Background()

	tn, err := svc.Create(ctx, tenantdomain.CreateTenantRequest{
		Name:       "cafe-1",
		RouterHost: "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, 8728, tn.RouterPort)
	assert.Equal(t, "UTC", tn.Timezone)
	assert.True(t, tn.IsActive)

	_, err = svc.Create(ctx, tenantdomain.CreateTenantRequest{Name: "no-host"})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidTenant)

	_, err = svc.Create(ctx, tenantdomain.CreateTenantRequest{
		Name: "bad-tz", RouterHost: "10.0.0.2", Timezone: "Mars/Olympus",
	})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidTenant)
}

func TestSetActiveExcludesFromListing(t *testing.T) {
	svc := setupTenantTest(t)
	ctx := context.Background()

	tn, err := svc.Create(ctx, tenantdomain.CreateTenantRequest{Name: "cafe-1", RouterHost: "10.0.0.1"})
	require.NoError(t, err)

	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, svc.SetActive(ctx, tn.ID, false))
	active, err = svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, svc.SetActive(ctx, snowflake.ID(12345), true), tenantdomain.ErrTenantNotFound)
}

func TestActivateClassDeactivatesSiblings(t *testing.T) {
	svc := setupTenantTest(t)
	ctx := context.Background()

	tn, err := svc.Create(ctx, tenantdomain.CreateTenantRequest{Name: "cafe-1", RouterHost: "10.0.0.1"})
	require.NoError(t, err)

	_, err = svc.ActiveClass(ctx, tn.ID)
	assert.ErrorIs(t, err, tenantdomain.ErrNoActiveClass)

	basic, err := svc.CreateClass(ctx, tenantdomain.CreateClassRequest{
		TenantID: tn.ID, Name: "basic", DailyLimitMB: 500,
	})
	require.NoError(t, err)
	premium, err := svc.CreateClass(ctx, tenantdomain.CreateClassRequest{
		TenantID: tn.ID, Name: "premium", DailyLimitMB: 5000,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ActivateClass(ctx, tn.ID, basic.ID))
	active, err := svc.ActiveClass(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, basic.ID, active.ID)

	// Activating the sibling flips the invariant in one step.
	require.NoError(t, svc.ActivateClass(ctx, tn.ID, premium.ID))
	active, err = svc.ActiveClass(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, premium.ID, active.ID)

	classes, err := svc.ListClasses(ctx, tn.ID)
	require.NoError(t, err)
	activeCount := 0
	for _, class := range classes {
		if class.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	assert.ErrorIs(t, svc.ActivateClass(ctx, tn.ID, snowflake.ID(999)), tenantdomain.ErrClassNotFound)
}
