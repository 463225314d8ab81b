// internal/discovery/tcp/scanner.go
package tcp

import (
	"context"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"eink-power-cli/internal/discovery"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// Scanner checks configured network serial bridges (ser2net and similar)
type Scanner struct {
	logger *zap.Logger
	config *Config

	dial         func(ctx context.Context, address string) (net.Conn, error)
	newTransport func(cfg protocol.SerialConfig, logger *zap.Logger) (protocol.Transport, error)
}

// Config for TCP scanner
type Config struct {
	// Endpoints are host:port or tcp://host:port
	Endpoints    []string      `json:"endpoints"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	Probe        bool          `json:"probe"`
	ProbeTimeout time.Duration `json:"probe_timeout"`
	Prompts      []string      `json:"prompts"`
}

// NewScanner creates a new TCP scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 2 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = time.Second
	}

	s := &Scanner{
		logger:       logger.With(zap.String("scanner", "tcp")),
		config:       config,
		newTransport: protocol.CreateTransport,
	}
	s.dial = func(ctx context.Context, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: s.config.DialTimeout}
		return d.DialContext(ctx, "tcp", address)
	}
	return s
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "tcp"
}

// IsAvailable reports whether any endpoint is configured
func (s *Scanner) IsAvailable() bool {
	return len(s.config.Endpoints) > 0
}

// Scan reports the endpoints that accept a connection
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	var ports []*discovery.DiscoveredPort

	for _, endpoint := range s.config.Endpoints {
		if err := ctx.Err(); err != nil {
			return ports, err
		}

		address := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(endpoint), "tcp://"), "TCP://")
		conn, err := s.dial(ctx, address)
		if err != nil {
			s.logger.Debug("Endpoint unreachable", zap.String("address", address), zap.Error(err))
			continue
		}
		conn.Close()

		port := &discovery.DiscoveredPort{
			Name:           "tcp://" + address,
			ConnectionType: model.ConnectionTypeTCP,
			Source:         s.GetScannerType(),
		}
		if s.config.Probe {
			s.probe(ctx, port)
		}
		ports = append(ports, port)
	}

	s.logger.Debug("TCP scan completed",
		zap.Int("endpoints", len(s.config.Endpoints)),
		zap.Int("reachable", len(ports)),
	)
	return ports, nil
}

func (s *Scanner) probe(ctx context.Context, port *discovery.DiscoveredPort) {
	cfg := protocol.DefaultSerialConfig()
	cfg.Device = port.Name
	cfg.Timeout = s.config.ProbeTimeout

	transport, err := s.newTransport(cfg, s.logger)
	if err != nil {
		s.logger.Debug("Probe skipped", zap.String("port", port.Name), zap.Error(err))
		return
	}
	discovery.Probe(ctx, port, transport, s.config.Prompts, cfg.Terminator, cfg.Timeout, s.logger)
}
