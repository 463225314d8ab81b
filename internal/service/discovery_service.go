// internal/service/discovery_service.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/discovery"
	"eink-power-cli/internal/discovery/serial"
	"eink-power-cli/internal/discovery/tcp"
	"eink-power-cli/internal/discovery/usb"
	"eink-power-cli/internal/utils"
)

// DiscoveryOptions selects scanners and probing
type DiscoveryOptions struct {
	// Probe sends "version" to each serial port
	Probe bool
	// USB adds the libusb bridge scanner
	USB bool
	// IncludeUnknownUSB reports USB devices that are not known UART bridges
	IncludeUnknownUSB bool
}

// DiscoveryService finds ports that may reach the controller
type DiscoveryService struct {
	scannerManager *discovery.ScannerManager
	config         *config.Config
	logger         *utils.ServiceLogger
}

// ScanRequest represents a port scan request
type ScanRequest struct {
	ScanType string        `json:"scan_type"` // all, serial, tcp, usb
	Timeout  time.Duration `json:"timeout"`
}

// NewDiscoveryService creates a discovery service with the serial scanner,
// the TCP scanner for configured bridges and, when asked, the USB scanner
func NewDiscoveryService(cfg *config.Config, opts DiscoveryOptions, logger *zap.Logger) *DiscoveryService {
	manager := discovery.NewScannerManager(logger)

	manager.RegisterScanner(serial.NewScanner(logger, &serial.Config{
		Probe:        opts.Probe,
		ProbeTimeout: probeTimeout(cfg),
		BaudRate:     cfg.Serial.BaudRate,
		Prompts:      cfg.Protocol.Prompts,
	}))
	manager.RegisterScanner(tcp.NewScanner(logger, &tcp.Config{
		Endpoints:    cfg.Discovery.TCPEndpoints,
		DialTimeout:  cfg.Discovery.DialTimeout,
		Probe:        opts.Probe,
		ProbeTimeout: probeTimeout(cfg),
		Prompts:      cfg.Protocol.Prompts,
	}))
	if opts.USB {
		manager.RegisterScanner(usb.NewScanner(logger, &usb.Config{
			ScanTimeout:    5 * time.Second,
			EnableDebug:    cfg.IsDebugEnabled(),
			IncludeUnknown: opts.IncludeUnknownUSB,
		}))
	}

	return NewDiscoveryServiceWithManager(manager, cfg, logger)
}

// NewDiscoveryServiceWithManager wraps an already populated scanner manager
func NewDiscoveryServiceWithManager(manager *discovery.ScannerManager, cfg *config.Config, logger *zap.Logger) *DiscoveryService {
	ds := &DiscoveryService{
		scannerManager: manager,
		config:         cfg,
		logger:         utils.NewServiceLogger(logger, "discovery-service"),
	}
	ds.logger.Debug("Discovery scanners initialized",
		zap.Strings("available_scanners", manager.GetAvailableScanners()),
	)
	return ds
}

// ScanPorts runs the requested scanners
func (ds *DiscoveryService) ScanPorts(ctx context.Context, req *ScanRequest) ([]*discovery.DiscoveredPort, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ds.logger.Info("Starting port scan", zap.String("type", req.ScanType))

	var ports []*discovery.DiscoveredPort
	var err error
	switch req.ScanType {
	case "", "all":
		ports, err = ds.scannerManager.ScanAll(ctx)
	case "serial", "tcp", "usb":
		ports, err = ds.scannerManager.ScanByType(ctx, req.ScanType)
	default:
		return nil, fmt.Errorf("unsupported scan type: %s", req.ScanType)
	}
	if err != nil {
		return ports, fmt.Errorf("scan failed: %w", err)
	}

	ds.logger.Info("Port scan completed",
		zap.Int("ports_found", len(ports)),
		zap.String("scan_type", req.ScanType),
	)
	return ports, nil
}

// FindController returns the first port that answered a probe
func (ds *DiscoveryService) FindController(ctx context.Context) (*discovery.DiscoveredPort, error) {
	ports, err := ds.ScanPorts(ctx, &ScanRequest{ScanType: "all"})
	if err != nil {
		return nil, err
	}
	for _, p := range ports {
		if p.Responding {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no responding controller among %d ports", len(ports))
}

// AvailableScanners returns the scanner types usable on this host
func (ds *DiscoveryService) AvailableScanners() []string {
	return ds.scannerManager.GetAvailableScanners()
}

func probeTimeout(cfg *config.Config) time.Duration {
	if cfg.Serial.Timeout > 0 && cfg.Serial.Timeout < time.Second {
		return cfg.Serial.Timeout
	}
	return time.Second
}
