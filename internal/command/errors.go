// internal/command/errors.go
package command

import (
	"fmt"

	"eink-power-cli/internal/protocol"
)

// InvalidArgumentError is returned before any I/O when an invocation is malformed
type InvalidArgumentError struct {
	Command string
	Arg     string
	Reason  string
}

func (e *InvalidArgumentError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("invalid invocation of %q: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("invalid argument %q for %q: %s", e.Arg, e.Command, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return protocol.ErrInvalidArgument }

func invalid(command, arg, format string, args ...any) error {
	return &InvalidArgumentError{Command: command, Arg: arg, Reason: fmt.Sprintf(format, args...)}
}
