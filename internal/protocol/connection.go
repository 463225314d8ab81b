// internal/protocol/connection.go
package protocol

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultDevice       = "/dev/ttyLP2"
	DefaultBaudRate     = 115200
	DefaultTimeout      = 3 * time.Second
	DefaultTerminator   = "\n"
	DefaultPollInterval = 50 * time.Millisecond
)

// SerialConfig represents the link configuration.
// It is copied into the transport at construction and never changed afterwards.
type SerialConfig struct {
	Device       string        `json:"device" mapstructure:"device"`
	BaudRate     int           `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits     int           `json:"data_bits" mapstructure:"data_bits"`
	StopBits     int           `json:"stop_bits" mapstructure:"stop_bits"`
	Parity       string        `json:"parity" mapstructure:"parity"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	Terminator   string        `json:"terminator" mapstructure:"terminator"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
}

// DefaultSerialConfig returns 115200 8N1 on the default device
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Device:       DefaultDevice,
		BaudRate:     DefaultBaudRate,
		DataBits:     8,
		StopBits:     1,
		Parity:       "none",
		Timeout:      DefaultTimeout,
		Terminator:   DefaultTerminator,
		PollInterval: DefaultPollInterval,
	}
}

// withDefaults fills zero values
func (c SerialConfig) withDefaults() SerialConfig {
	d := DefaultSerialConfig()
	if c.Device == "" {
		c.Device = d.Device
	}
	if c.BaudRate == 0 {
		c.BaudRate = d.BaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = d.DataBits
	}
	if c.StopBits == 0 {
		c.StopBits = d.StopBits
	}
	if c.Parity == "" {
		c.Parity = d.Parity
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Terminator == "" {
		c.Terminator = d.Terminator
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// ValidBaudRates lists the rates accepted by the controller UART
var ValidBaudRates = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Validate checks the configuration
func (c SerialConfig) Validate() error {
	if strings.TrimSpace(c.Device) == "" {
		return fmt.Errorf("device path is required")
	}

	valid := false
	for _, rate := range ValidBaudRates {
		if c.BaudRate == rate {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}

	if c.DataBits != 0 && (c.DataBits < 5 || c.DataBits > 8) {
		return fmt.Errorf("invalid data bits: %d", c.DataBits)
	}
	if c.StopBits != 0 && c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("invalid stop bits: %d", c.StopBits)
	}
	switch strings.ToLower(c.Parity) {
	case "", "none", "odd", "even", "mark", "space":
	default:
		return fmt.Errorf("invalid parity: %s", c.Parity)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if strings.ContainsAny(c.Terminator, "\x00") {
		return fmt.Errorf("invalid line terminator")
	}
	return nil
}
