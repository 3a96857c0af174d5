package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunBillingCron runs renewal and then expiration once and returns both summaries.
func (s *Server) RunBillingCron(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	run, err := s.scheduler.RunOnce(c.Request.Context())
	if err != nil {
		s.log.Error("billing cron failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": run})
}
