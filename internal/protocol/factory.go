// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"eink-power-cli/internal/model"
)

// CreateTransport creates a transport for the configured device path
func CreateTransport(config SerialConfig, logger *zap.Logger) (Transport, error) {
	config = config.withDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	connectionType := model.ConnectionTypeFor(config.Device)
	switch connectionType {
	case model.ConnectionTypeSerial:
		logger.Info("Creating serial transport",
			zap.String("device", config.Device),
			zap.Int("baud_rate", config.BaudRate),
		)
		return NewSerialConnection(config, logger), nil
	case model.ConnectionTypeTCP:
		logger.Info("Creating TCP transport", zap.String("device", config.Device))
		return NewTCPConnection(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported connection type: %s", connectionType)
	}
}
