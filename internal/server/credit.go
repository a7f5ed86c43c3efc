package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) creditHistory(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

	days, err := parsePositiveInt(c.Query("days"), 30)
	if err != nil {
		AbortWithError(c, newValidationError("days", "invalid_days", "days must be a positive integer"))
		return
	}

	rows, err := s.creditSvc.History(c.Request.Context(), username, id, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) creditRemaining(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

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

	remaining, err := s.creditSvc.Remaining(c.Request.Context(), username, id, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"username":     username,
		"day":          day,
		"remaining_mb": remaining,
	}})
}
