// cmd/eink-power-cli/commands.go
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/format"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// reportedError marks an error the formatter already printed
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// addRegistryCommands mirrors the command registry as a cobra tree, so
// "eink-power-cli power pmic on" runs the registered "power pmic on"
func (a *Application) addRegistryCommands(root *cobra.Command) {
	a.addChildren(root, "")
}

func (a *Application) addChildren(parent *cobra.Command, prefix string) {
	for _, name := range a.registry.Children(prefix) {
		path := strings.TrimSpace(prefix + " " + name)
		cmd := &cobra.Command{
			Use:  name,
			Args: cobra.ArbitraryArgs,
		}

		if spec, ok := a.registry.Lookup(path); ok {
			cmd.Use = usageLine(spec.Usage, path)
			cmd.Short = spec.Description
			if spec.Disruptive {
				cmd.Long = spec.Description + ".\nThe controller drops the link; a missing reply is reported as success."
			}
			cmd.RunE = a.registryRunE(path)
		} else {
			cmd.Short = fmt.Sprintf("%s commands", path)
			cmd.RunE = groupRunE(path)
		}

		a.addChildren(cmd, path)
		parent.AddCommand(cmd)
	}
}

// usageLine turns "gpio get <port> <pin>" into "get <port> <pin>"
func usageLine(usage, path string) string {
	depth := len(strings.Fields(path))
	fields := strings.Fields(usage)
	if len(fields) == 0 {
		return path
	}
	if len(fields) < depth {
		return fields[len(fields)-1]
	}
	return strings.Join(fields[depth-1:], " ")
}

// groupRunE shows help for a bare group and rejects unknown subcommands
func groupRunE(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return fmt.Errorf("%w: unknown command %q", protocol.ErrInvalidArgument, strings.TrimSpace(path+" "+args[0]))
	}
}

func (a *Application) registryRunE(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return a.runCommand(cmd, append(strings.Fields(path), args...))
	}
}

// runCommand executes one registry command and renders its outcome
func (a *Application) runCommand(cmd *cobra.Command, tokens []string) error {
	out, err := a.Formatter()
	if err != nil {
		return err
	}
	errOut := a.errorFormatter(out)
	name := strings.Join(tokens, " ")

	svc, err := a.Controller()
	if err != nil {
		return a.report(errOut, name, err)
	}

	outcome, err := svc.Execute(cmd.Context(), tokens)
	if err != nil {
		return a.report(errOut, name, err)
	}

	if err := out.Outcome(outcome); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if rerr := model.ResultError(outcome.Result); rerr != nil {
		a.logger.Debug("Command not successful", zap.String("command", name), zap.Error(rerr))
		return &reportedError{err: rerr}
	}
	return nil
}

// errorFormatter sends human-format errors to stderr. Structured formats keep
// errors in the result stream so every invocation yields one record.
func (a *Application) errorFormatter(out format.Formatter) format.Formatter {
	if a.config.Output.Format != "" && a.config.Output.Format != config.FormatHuman {
		return out
	}
	f, _ := format.New(config.FormatHuman, a.stderr, format.Options{})
	return f
}

func (a *Application) report(f format.Formatter, name string, err error) error {
	if werr := f.Error(name, err); werr != nil {
		return err
	}
	if werr := f.Flush(); werr != nil {
		return err
	}
	return &reportedError{err: err}
}
