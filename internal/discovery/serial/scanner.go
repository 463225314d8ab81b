// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"time"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"eink-power-cli/internal/discovery"
	"eink-power-cli/internal/discovery/usb"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// Scanner lists local serial ports and optionally probes them for a controller prompt
type Scanner struct {
	logger   *zap.Logger
	config   *Config
	bridges  *usb.BridgeDatabase
	patterns []*regexp.Regexp

	listPorts func() ([]*enumerator.PortDetails, error)
	// newTransport is swapped in tests
	newTransport func(cfg protocol.SerialConfig, logger *zap.Logger) (protocol.Transport, error)
}

// Config for serial scanner
type Config struct {
	// Probe sends "version" to each port and waits for a prompt
	Probe        bool          `json:"probe"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	BaudRate     int           `json:"baud_rate"`
	Prompts      []string      `json:"prompts"`
	PortPatterns []string      `json:"port_patterns"`
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 500 * time.Millisecond
	}
	if config.BaudRate == 0 {
		config.BaudRate = protocol.DefaultBaudRate
	}
	if len(config.PortPatterns) == 0 {
		config.PortPatterns = getDefaultPortPatterns()
	}

	s := &Scanner{
		logger:       logger.With(zap.String("scanner", "serial")),
		config:       config,
		bridges:      usb.NewBridgeDatabase(),
		listPorts:    enumerator.GetDetailedPortsList,
		newTransport: protocol.CreateTransport,
	}
	for _, p := range config.PortPatterns {
		if re, err := regexp.Compile(p); err == nil {
			s.patterns = append(s.patterns, re)
		} else {
			s.logger.Warn("Ignoring invalid port pattern", zap.String("pattern", p), zap.Error(err))
		}
	}
	return s
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable checks if serial scanning is available
func (s *Scanner) IsAvailable() bool {
	return true
}

// Scan lists serial ports matching the configured patterns
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	details, err := s.listPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	var ports []*discovery.DiscoveredPort
	for _, d := range details {
		if !s.matches(d.Name) {
			continue
		}

		port := &discovery.DiscoveredPort{
			Name:           d.Name,
			ConnectionType: model.ConnectionTypeSerial,
			Source:         s.GetScannerType(),
			IsUSB:          d.IsUSB,
			VendorID:       d.VID,
			ProductID:      d.PID,
			SerialNumber:   d.SerialNumber,
			Product:        d.Product,
		}
		if d.IsUSB {
			port.Bridge, _ = s.bridges.IdentifyHex(d.VID, d.PID)
		}

		if s.config.Probe {
			select {
			case <-ctx.Done():
				return ports, ctx.Err()
			default:
			}
			s.probe(ctx, port)
		}
		ports = append(ports, port)
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) probe(ctx context.Context, port *discovery.DiscoveredPort) {
	cfg := protocol.DefaultSerialConfig()
	cfg.Device = port.Name
	cfg.BaudRate = s.config.BaudRate
	cfg.Timeout = s.config.ProbeTimeout

	transport, err := s.newTransport(cfg, s.logger)
	if err != nil {
		s.logger.Debug("Probe skipped", zap.String("port", port.Name), zap.Error(err))
		return
	}
	discovery.Probe(ctx, port, transport, s.config.Prompts, cfg.Terminator, cfg.Timeout, s.logger)
}

func (s *Scanner) matches(name string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, re := range s.patterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func getDefaultPortPatterns() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{`^COM\d+$`}
	case "darwin":
		return []string{`^/dev/(cu|tty)\.(usbserial|usbmodem|SLAB|wchusbserial).*`}
	default:
		return []string{`^/dev/tty(USB|ACM|LP|S|AMA|mxc)\d+$`}
	}
}
