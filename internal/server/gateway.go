package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) testGateway(c *gin.Context) {
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

	ok, detail := s.gateway.TestConnection(c.Request.Context(), tenant.RouterCredentials())
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"reachable": ok,
		"detail":    detail,
	}})
}

func (s *Server) poolStats(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errorPayload{
			Type:    "unavailable",
			Message: "connection pool is not configured",
		}})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.pool.Stats()})
}
