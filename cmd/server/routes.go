package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	pb "quant-backtest/proto"
	"quant-backtest/services/engine"
)

// HTTP handlers for REST API
func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest/:job_id", s.handleGetBacktestResult)
		api.GET("/health", s.handleHealthCheck)
	}
	if s.cfg.Monitoring.Enabled {
		r.GET(s.cfg.Monitoring.Path, gin.WrapH(s.metrics.Handler()))
	}
}

func (s *BacktestService) handleBacktestRequest(c *gin.Context) {
	var req pb.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": pb.NewInvalidParams(err.Error())})
		return
	}

	resp, apiErr := s.execute(c.Request.Context(), &req)
	if apiErr != nil {
		s.logger.Warn("Backtest request failed", zap.String("code", apiErr.Code), zap.String("details", apiErr.Details))
		c.JSON(httpStatus(apiErr), gin.H{"error": apiErr})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleGetBacktestResult(c *gin.Context) {
	jobID := c.Param("job_id")
	resp, ok := s.jobResult(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": pb.NewDataNotFound("job " + jobID)})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   engine.EngineVersion,
	})
}
