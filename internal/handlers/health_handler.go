package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	service string
	store   Pinger
	logger  *zap.Logger
}

func NewHealthHandler(service string, store Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{service: service, store: store, logger: logger}
}

// Health handles GET /api/v1/health
// @Summary      Health check endpoint
// @Description  Reports the service status and whether the reservation store answers.
// @Tags         health
// @Produce      json
// @Success      200  {object}  HealthResponse  "Service is up"
// @Failure      503  {object}  HealthResponse  "Store unreachable"
// @Router       /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Store health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status:  "degraded",
			Service: h.service,
			Store:   "unreachable",
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: h.service,
		Store:   "ok",
	})
}
