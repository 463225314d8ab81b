// cmd/eink-power-cli/exitcode.go
package main

import (
	"errors"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// Process exit codes
const (
	ExitOK              = 0
	ExitFailure         = 1
	ExitInvalidArgument = 2
	ExitConnection      = 3
	ExitTimeout         = 4
	ExitProtocol        = 5
	ExitBusy            = 6
)

// ExitCode maps an error onto the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, protocol.ErrInvalidArgument):
		return ExitInvalidArgument
	case errors.Is(err, protocol.ErrBusy):
		return ExitBusy
	case errors.Is(err, protocol.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, protocol.ErrConnectionLost):
		return ExitConnection
	case errors.Is(err, model.ErrProtocol), errors.Is(err, model.ErrController):
		return ExitProtocol
	default:
		return ExitFailure
	}
}
