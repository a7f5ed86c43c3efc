// Package server exposes the management API: tenants, classes, usage and
// credit queries, quota actions and scheduler controls.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/portalmeter/portalmeter/internal/config"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	"github.com/portalmeter/portalmeter/internal/gateway/routeros"
	obslogger "github.com/portalmeter/portalmeter/internal/observability/logger"
	obsmetrics "github.com/portalmeter/portalmeter/internal/observability/metrics"
	quotadomain "github.com/portalmeter/portalmeter/internal/quota/domain"
	"github.com/portalmeter/portalmeter/internal/ratelimit"
	"github.com/portalmeter/portalmeter/internal/scheduler"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           cfg.Environment != "production",
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obsmetrics.GinMiddleware(obsmetrics.HTTP()))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.ListenAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	genID     *snowflake.Node
	tenantSvc tenantdomain.Service
	usageSvc  usagedomain.Service
	creditSvc creditdomain.Service
	quotaSvc  quotadomain.Service
	gateway   gatewaydomain.RouterGateway
	pool      *routeros.Pool
	scheduler *scheduler.Scheduler
	limiter   *ratelimit.IngestLimiter
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	GenID     *snowflake.Node
	TenantSvc tenantdomain.Service
	UsageSvc  usagedomain.Service
	CreditSvc creditdomain.Service
	QuotaSvc  quotadomain.Service
	Gateway   gatewaydomain.RouterGateway
	Pool      *routeros.Pool           `optional:"true"`
	Scheduler *scheduler.Scheduler     `optional:"true"`
	Limiter   *ratelimit.IngestLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("server"),
		genID:     p.GenID,
		tenantSvc: p.TenantSvc,
		usageSvc:  p.UsageSvc,
		creditSvc: p.CreditSvc,
		quotaSvc:  p.QuotaSvc,
		gateway:   p.Gateway,
		pool:      p.Pool,
		scheduler: p.Scheduler,
		limiter:   p.Limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/tenants", s.createTenant)
	v1.GET("/tenants", s.listTenants)
	v1.GET("/tenants/:tenant_id", s.getTenant)
	v1.PATCH("/tenants/:tenant_id/active", s.setTenantActive)

	v1.POST("/tenants/:tenant_id/classes", s.createClass)
	v1.GET("/tenants/:tenant_id/classes", s.listClasses)
	v1.POST("/tenants/:tenant_id/classes/:class_id/activate", s.activateClass)

	v1.POST("/tenants/:tenant_id/usage", s.recordUsage)
	v1.GET("/tenants/:tenant_id/usage/daily", s.dailyUsage)
	v1.GET("/tenants/:tenant_id/usage/period", s.periodUsage)
	v1.GET("/tenants/:tenant_id/usage/top", s.topUsers)
	v1.GET("/tenants/:tenant_id/usage/summary", s.tenantUsageSummary)

	v1.GET("/tenants/:tenant_id/credits/:username/history", s.creditHistory)
	v1.GET("/tenants/:tenant_id/credits/:username/remaining", s.creditRemaining)

	v1.GET("/tenants/:tenant_id/quota/:username", s.peekQuota)
	v1.POST("/tenants/:tenant_id/quota/:username/evaluate", s.evaluateQuota)
	v1.POST("/tenants/:tenant_id/users/:username/block", s.blockUser)
	v1.POST("/tenants/:tenant_id/users/:username/unblock", s.unblockUser)
	v1.GET("/tenants/:tenant_id/users/:username/state", s.userState)
	v1.POST("/tenants/:tenant_id/profiles/sync", s.syncProfiles)

	v1.GET("/tenants/:tenant_id/gateway/test", s.testGateway)
	v1.GET("/gateway/pools", s.poolStats)

	v1.GET("/scheduler/status", s.schedulerStatus)
	v1.POST("/scheduler/jobs/:name/run", s.forceJob)
}

// tenantID parses the :tenant_id path parameter.
func tenantID(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("tenant_id"))
	if err != nil {
		return 0, newValidationError("tenant_id", "invalid_id", "tenant_id must be a numeric id")
	}
	return id, nil
}
