package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/trackmania-bingo/bingoserver/internal/v1/bus"
	"github.com/trackmania-bingo/bingoserver/internal/v1/logging"
)

// Handler serves the ops surface's health endpoint.
type Handler struct {
	redisService *bus.Service
}

// NewHandler creates a new health check handler. redisService may be nil
// when the Cross-Instance Bus is not configured.
func NewHandler(redisService *bus.Service) *Handler {
	return &Handler{redisService: redisService}
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Healthz reports process-up plus, when Redis is configured, a Redis PING.
// GET /healthz
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{"process": "healthy"}
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	if redisStatus != "" {
		checks["redis"] = redisStatus
		if redisStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ok"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies Redis connectivity using PING. Returns "" when the
// Cross-Instance Bus is not configured, since there is nothing to check.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return ""
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
