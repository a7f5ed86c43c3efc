package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	"github.com/portalmeter/portalmeter/internal/ratelimit"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"go.uber.org/zap"
)

type recordUsageRequest struct {
	Username   string    `json:"username"`
	BytesIn    int64     `json:"bytes_in"`
	BytesOut   int64     `json:"bytes_out"`
	SessionSec int64     `json:"session_time"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	ObservedAt time.Time `json:"observed_at"`
}

func (s *Server) recordUsage(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.limiter.Enabled() {
		res, err := s.limiter.AllowTenant(c.Request.Context(), id)
		if err != nil {
			s.log.Warn("rate limiter unavailable", zap.Error(err))
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter/time.Second)+1))
			AbortWithError(c, ratelimit.ErrRateLimited)
			return
		}
	}

	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sample, err := s.usageSvc.Record(c.Request.Context(), usagedomain.RecordRequest{
		TenantID:   id,
		Username:   strings.TrimSpace(req.Username),
		BytesIn:    req.BytesIn,
		BytesOut:   req.BytesOut,
		SessionSec: req.SessionSec,
		Kind:       usagedomain.SampleKind(strings.TrimSpace(req.Kind)),
		SessionID:  strings.TrimSpace(req.SessionID),
		ObservedAt: req.ObservedAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sample})
}

func (s *Server) dailyUsage(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		AbortWithError(c, newValidationError("username", "required", "username is required"))
		return
	}

	tenant, err := s.tenantSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	day, err := dayParam(c, tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	loc := tenant.Location()
	date, err := time.ParseInLocation(creditdomain.DayFormat, day, loc)
	if err != nil {
		AbortWithError(c, newValidationError("day", "invalid_day", "day must be formatted YYYY-MM-DD"))
		return
	}

	daily, err := s.usageSvc.Daily(c.Request.Context(), username, id, date, loc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"username": username,
		"day":      day,
		"usage":    daily,
	}})
}

func (s *Server) periodUsage(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	username := strings.TrimSpace(c.Query("username"))
	if username == "" {
		AbortWithError(c, newValidationError("username", "required", "username is required"))
		return
	}

	start, end, err := rangeParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	period, err := s.usageSvc.Period(c.Request.Context(), username, id, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"username": username,
		"start":    start,
		"end":      end,
		"usage":    period,
	}})
}

func (s *Server) tenantUsageSummary(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tenant, err := s.tenantSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	day, err := dayParam(c, tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	loc := tenant.Location()
	date, err := time.ParseInLocation(creditdomain.DayFormat, day, loc)
	if err != nil {
		AbortWithError(c, newValidationError("day", "invalid_day", "day must be formatted YYYY-MM-DD"))
		return
	}

	summary, err := s.usageSvc.TenantConsumption(c.Request.Context(), id, date, loc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"day":   day,
		"usage": summary,
	}})
}

func (s *Server) topUsers(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	days, err := parsePositiveInt(c.Query("days"), 7)
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "days must be a positive integer"))
		return
	}
	limit, err := parsePositiveInt(c.Query("limit"), 10)
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
		return
	}

	users, err := s.usageSvc.TopUsers(c.Request.Context(), id, days, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": users})
}
