// internal/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"

	"go.bug.st/serial"
)

var (
	ErrConnection      = errors.New("connection error")
	ErrConnectionLost  = errors.New("connection lost")
	ErrTimeout         = errors.New("timeout")
	ErrBusy            = errors.New("transaction already in flight")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotOpen         = errors.New("connection not open")
)

// ConnectionError reports a failure to open or configure the device
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to open %s: %v", e.Device, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrConnection, e.Err} }

// ConnectionLostError reports that the device disappeared mid-session.
// The transport has been closed and must be reopened.
type ConnectionLostError struct {
	Device string
	Err    error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection to %s lost: %v", e.Device, e.Err)
}

func (e *ConnectionLostError) Unwrap() []error { return []error{ErrConnectionLost, e.Err} }

// TimeoutError reports a transaction that saw no prompt before its deadline.
// Partial holds whatever text arrived.
type TimeoutError struct {
	Command string
	Timeout time.Duration
	Partial []string
}

func (e *TimeoutError) Error() string {
	if len(e.Partial) == 0 {
		return fmt.Sprintf("no response to %q within %s", e.Command, e.Timeout)
	}
	return fmt.Sprintf("incomplete response to %q within %s (%d lines received)", e.Command, e.Timeout, len(e.Partial))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// isDisconnectionError reports whether err means the device went away
func isDisconnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ENXIO) || errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ENODEV) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no such device", "input/output error", "device not configured", "broken pipe", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
