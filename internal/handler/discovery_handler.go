// internal/handler/discovery_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

// DiscoveryHandler lists candidate controller ports
type DiscoveryHandler struct {
	discoveryService *service.DiscoveryService
	logger           *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(discoveryService *service.DiscoveryService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		discoveryService: discoveryService,
		logger:           utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/ports", h.ScanPorts)
}

// ScanPorts scans for serial ports, network bridges and USB-UART bridges
// @Summary Scan ports
// @Description List serial ports, configured TCP bridges and USB-UART bridges on the bridge host
// @Tags Discovery
// @Produce json
// @Param type query string false "Scan type" Enums(all, serial, tcp, usb) default(all)
// @Param timeout query string false "Scan timeout" default(10s)
// @Success 200 {object} utils.APIResponse{data=object{ports_found=int,ports=[]discovery.DiscoveredPort}} "Port scan completed"
// @Failure 400 {object} utils.APIResponse "Invalid scan parameters"
// @Failure 500 {object} utils.APIResponse "Scan failed"
// @Router /ports [get]
func (h *DiscoveryHandler) ScanPorts(c *gin.Context) {
	timeout, err := time.ParseDuration(c.DefaultQuery("timeout", "10s"))
	if err != nil || timeout <= 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid timeout", err)
		return
	}

	req := &service.ScanRequest{
		ScanType: c.DefaultQuery("type", "all"),
		Timeout:  timeout,
	}
	switch req.ScanType {
	case "all", "serial", "tcp", "usb":
	default:
		utils.ErrorResponse(c, http.StatusBadRequest, "Unsupported scan type", nil)
		return
	}

	ports, err := h.discoveryService.ScanPorts(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("Failed to scan ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to scan ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Port scan completed", gin.H{
		"ports_found": len(ports),
		"ports":       ports,
		"scanners":    h.discoveryService.AvailableScanners(),
	})
}
