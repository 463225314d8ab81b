// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"eink-power-cli/internal/model"
)

// serialPort is the subset of serial.Port used by SerialConnection
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

var openSerialPort = func(device string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(device, mode)
}

// SerialConnection implements Transport for a local UART
type SerialConnection struct {
	statsRecorder

	config SerialConfig
	port   serialPort
	logger *zap.Logger
	mutex  sync.RWMutex
	isOpen bool
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config SerialConfig, logger *zap.Logger) *SerialConnection {
	config = config.withDefaults()
	return &SerialConnection{
		config: config,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Device),
		),
	}
}

func serialMode(config SerialConfig) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
	}

	switch config.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch strings.ToLower(config.Parity) {
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode
}

// Open opens the serial port
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.Duration("poll_interval", sc.config.PollInterval),
	)

	port, err := openSerialPort(sc.config.Device, serialMode(sc.config))
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return &ConnectionError{Device: sc.config.Device, Err: err}
	}

	if err := port.SetReadTimeout(sc.config.PollInterval); err != nil {
		port.Close()
		return &ConnectionError{Device: sc.config.Device, Err: fmt.Errorf("failed to set read timeout: %w", err)}
	}

	sc.port = port
	sc.isOpen = true
	sc.setConnected(true)

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial port
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.isOpen = false
	sc.setConnected(false)

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.recordError()
		sc.logger.Error("Serial write failed", zap.Error(err))
		return sc.wrapIOError("write", err)
	}

	if n != len(data) {
		sc.recordError()
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.recordWrite(len(data), time.Since(startTime))
	sc.logger.Debug("Serial write completed", zap.Int("bytes", len(data)))
	return nil
}

// Read polls the port with the configured read timeout until data arrives or ctx ends
func (sc *SerialConnection) Read(ctx context.Context, maxBytes int) ([]byte, error) {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return nil, ErrNotOpen
	}
	if maxBytes <= 0 {
		maxBytes = 256
	}

	buffer := make([]byte, maxBytes)
	for {
		if err := ctx.Err(); err != nil {
			return nil, contextReadError(err)
		}

		n, err := sc.port.Read(buffer)
		if err != nil {
			sc.recordError()
			return nil, sc.wrapIOError("read", err)
		}
		if n > 0 {
			data := make([]byte, n)
			copy(data, buffer[:n])
			sc.recordRead(n)
			return data, nil
		}
	}
}

// ResetInputBuffer discards bytes the OS has buffered but not yet delivered
func (sc *SerialConnection) ResetInputBuffer() error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotOpen
	}
	if err := sc.port.ResetInputBuffer(); err != nil {
		return sc.wrapIOError("reset input buffer", err)
	}
	return nil
}

// GetProtocolType returns the protocol type
func (sc *SerialConnection) GetProtocolType() model.ConnectionType {
	return model.ConnectionTypeSerial
}

func (sc *SerialConnection) wrapIOError(op string, err error) error {
	if isDisconnectionError(err) {
		return &ConnectionLostError{Device: sc.config.Device, Err: err}
	}
	return fmt.Errorf("failed to %s serial port: %w", op, err)
}

// contextReadError maps a finished context to the read error reported to callers
func contextReadError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: read deadline reached", ErrTimeout)
	}
	return err
}
