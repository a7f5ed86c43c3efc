package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
)

type createTenantRequest struct {
	Name           string `json:"name"`
	RouterHost     string `json:"router_host"`
	RouterPort     int    `json:"router_port"`
	RouterUsername string `json:"router_username"`
	RouterPassword string `json:"router_password"`
	DailyLimitMB   int64  `json:"daily_limit_mb"`
	DailyTimeLimit int64  `json:"daily_time_limit"`
	Timezone       string `json:"timezone"`
}

func (s *Server) createTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant, err := s.tenantSvc.Create(c.Request.Context(), tenantdomain.CreateTenantRequest{
		Name:           strings.TrimSpace(req.Name),
		RouterHost:     strings.TrimSpace(req.RouterHost),
		RouterPort:     req.RouterPort,
		RouterUsername: strings.TrimSpace(req.RouterUsername),
		RouterPassword: req.RouterPassword,
		DailyLimitMB:   req.DailyLimitMB,
		DailyTimeLimit: req.DailyTimeLimit,
		Timezone:       strings.TrimSpace(req.Timezone),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) listTenants(c *gin.Context) {
	tenants, err := s.tenantSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenants})
}

func (s *Server) getTenant(c *gin.Context) {
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

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) setTenantActive(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "active must be a boolean"))
		return
	}

	if err := s.tenantSvc.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "is_active": *req.Active}})
}

type createClassRequest struct {
	Name           string `json:"name"`
	DailyLimitMB   int64  `json:"daily_limit_mb"`
	DailyTimeLimit int64  `json:"daily_time_limit"`
	SpeedLimitUp   string `json:"speed_limit_up"`
	SpeedLimitDown string `json:"speed_limit_down"`
}

func (s *Server) createClass(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	class, err := s.tenantSvc.CreateClass(c.Request.Context(), tenantdomain.CreateClassRequest{
		TenantID:       id,
		Name:           strings.TrimSpace(req.Name),
		DailyLimitMB:   req.DailyLimitMB,
		DailyTimeLimit: req.DailyTimeLimit,
		SpeedLimitUp:   strings.TrimSpace(req.SpeedLimitUp),
		SpeedLimitDown: strings.TrimSpace(req.SpeedLimitDown),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": class})
}

func (s *Server) listClasses(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	classes, err := s.tenantSvc.ListClasses(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": classes})
}

func (s *Server) activateClass(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	classID, err := snowflake.ParseString(c.Param("class_id"))
	if err != nil {
		AbortWithError(c, newValidationError("class_id", "invalid_id", "class_id must be a numeric id"))
		return
	}

	if err := s.tenantSvc.ActivateClass(c.Request.Context(), id, classID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"tenant_id": id, "class_id": classID, "is_active": true}})
}
