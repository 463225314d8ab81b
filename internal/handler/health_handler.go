// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

// HealthHandler reports bridge and controller link health. It never sends
// anything to the controller.
type HealthHandler struct {
	service   *service.ControllerService
	config    *config.Config
	logger    *utils.ServiceLogger
	startedAt time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(controllerService *service.ControllerService, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		service:   controllerService,
		config:    config,
		logger:    utils.NewServiceLogger(logger, "health-handler"),
		startedAt: time.Now(),
	}
}

// RegisterRoutes registers health check routes
func (h *HealthHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports service and link status
// @Summary Health check
// @Description Service status plus the controller link snapshot. The link is opened lazily, so a closed link is not an error.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := h.service.Status()

	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	link := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"device":    status.Device,
			"type":      status.Type,
			"connected": status.Connected,
			"busy":      status.Busy,
			"state":     status.State,
		},
	}
	if status.Connected {
		link.Message = "Controller link open"
	} else {
		link.Message = "Controller link closed, opened on next command"
	}
	health.Checks["controller"] = link

	health.Checks["controller_stats"] = CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"bytes_written":   status.Stats.BytesWritten,
			"bytes_read":      status.Stats.BytesRead,
			"operation_count": status.Stats.OperationCount,
			"error_count":     status.Stats.ErrorCount,
		},
	}

	h.logger.Debug("Health check", zap.Bool("connected", status.Connected), zap.String("state", status.State))
	c.JSON(http.StatusOK, health)
}

// ReadinessCheck reports whether a command can be accepted right now
// @Summary Readiness check
// @Description Not ready while a transaction is in flight
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Controller busy"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.service.Status().Busy {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "transaction in flight",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Description Check if service is alive
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
