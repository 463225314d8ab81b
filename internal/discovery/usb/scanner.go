// internal/discovery/usb/scanner.go
package usb

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"eink-power-cli/internal/discovery"
	"eink-power-cli/internal/model"
)

// Scanner lists USB-UART bridges from device descriptors. Devices are never
// opened, so no permissions beyond enumeration are needed.
type Scanner struct {
	logger  *zap.Logger
	bridges *BridgeDatabase
	config  *Config

	enumerate func() ([]*gousb.DeviceDesc, error)
}

// Config for USB scanner
type Config struct {
	ScanTimeout time.Duration `json:"scan_timeout"`
	EnableDebug bool          `json:"enable_debug"`
	// IncludeUnknown reports every device, not only known bridges
	IncludeUnknown bool `json:"include_unknown"`
}

// NewScanner creates a new USB scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{ScanTimeout: 5 * time.Second}
	}

	s := &Scanner{
		logger:  logger.With(zap.String("scanner", "usb")),
		bridges: NewBridgeDatabase(),
		config:  config,
	}
	s.enumerate = s.listDescriptors
	return s
}

// GetScannerType returns scanner type identifier
func (s *Scanner) GetScannerType() string {
	return "usb"
}

// IsAvailable reports whether libusb enumeration is supported on this OS
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows":
		return true
	default:
		return false
	}
}

// Scan enumerates USB devices and keeps known bridges
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	startTime := time.Now()

	type result struct {
		descs []*gousb.DeviceDesc
		err   error
	}
	done := make(chan result, 1)
	go func() {
		descs, err := s.enumerate()
		done <- result{descs, err}
	}()

	timeout := s.config.ScanTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var descs []*gousb.DeviceDesc
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to enumerate USB devices: %w", r.err)
		}
		descs = r.descs
	case <-timer.C:
		return nil, fmt.Errorf("USB enumeration timed out after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var ports []*discovery.DiscoveredPort
	for _, desc := range descs {
		if port := s.processDescriptor(desc); port != nil {
			ports = append(ports, port)
		}
	}

	s.logger.Debug("USB scan completed",
		zap.Int("devices_examined", len(descs)),
		zap.Int("bridges_found", len(ports)),
		zap.Duration("scan_duration", time.Since(startTime)),
	)
	return ports, nil
}

func (s *Scanner) processDescriptor(desc *gousb.DeviceDesc) *discovery.DiscoveredPort {
	if desc == nil {
		return nil
	}

	bridge, known := s.bridges.Identify(desc.Vendor, desc.Product)
	if !known && !s.config.IncludeUnknown {
		return nil
	}

	s.logger.Debug("USB device",
		zap.String("vendor_id", fmt.Sprintf("0x%04X", uint16(desc.Vendor))),
		zap.String("product_id", fmt.Sprintf("0x%04X", uint16(desc.Product))),
		zap.String("bridge", bridge),
	)

	return &discovery.DiscoveredPort{
		Name:           fmt.Sprintf("usb:%d-%d", desc.Bus, desc.Address),
		ConnectionType: model.ConnectionTypeSerial,
		Source:         s.GetScannerType(),
		IsUSB:          true,
		VendorID:       fmt.Sprintf("%04x", uint16(desc.Vendor)),
		ProductID:      fmt.Sprintf("%04x", uint16(desc.Product)),
		Bridge:         bridge,
	}
}

// listDescriptors collects descriptors through a filter that opens nothing
func (s *Scanner) listDescriptors() ([]*gousb.DeviceDesc, error) {
	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			s.logger.Warn("Failed to close USB context", zap.Error(err))
		}
	}()
	if s.config.EnableDebug {
		usbCtx.Debug(3)
	}

	var descs []*gousb.DeviceDesc
	_, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		descs = append(descs, desc)
		return false
	})
	return descs, err
}
