package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) peekQuota(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

	result, err := s.quotaSvc.Peek(c.Request.Context(), username, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) evaluateQuota(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

	result, err := s.quotaSvc.Evaluate(c.Request.Context(), username, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) blockUser(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "blocked by operator"
	}

	if err := s.quotaSvc.Block(c.Request.Context(), username, id, reason); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"username": username, "blocked": true}})
}

func (s *Server) unblockUser(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

	if err := s.quotaSvc.Unblock(c.Request.Context(), username, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"username": username, "blocked": false}})
}

func (s *Server) userState(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	username := strings.TrimSpace(c.Param("username"))

	state, err := s.quotaSvc.ProfileState(c.Request.Context(), username, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if state == nil {
		AbortWithError(c, gorm.ErrRecordNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (s *Server) syncProfiles(c *gin.Context) {
	id, err := tenantID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	count, err := s.quotaSvc.SyncProfiles(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"users_synced": count}})
}
