package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) schedulerStatus(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errorPayload{
			Type:    "unavailable",
			Message: "scheduler is not running in this process",
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.scheduler.Status()})
}

func (s *Server) forceJob(c *gin.Context) {
	if s.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errorPayload{
			Type:    "unavailable",
			Message: "scheduler is not running in this process",
		}})
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	if err := s.scheduler.ForceJob(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"job": name, "ran": true}})
}
