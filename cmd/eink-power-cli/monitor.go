// cmd/eink-power-cli/monitor.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/telemetry"
)

func (a *Application) monitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run one command repeatedly and stream the readings",
		Long: "Run one read-only command every interval until --count readings were taken or the\n" +
			"process is interrupted. A failed reading is reported and monitoring continues.",
		Example: "  eink-power-cli monitor --command \"battery read\" --interval 5s --format csv",
		Args:    cobra.NoArgs,
		RunE:    a.runMonitor,
	}

	flags := cmd.Flags()
	flags.String("command", "battery read", "command to monitor")
	flags.Duration("interval", 0, "time between readings (default from config, 30s)")
	flags.Int("count", 0, "stop after this many readings, 0 runs until interrupted")
	flags.Bool("mqtt", false, "publish every reading to the configured MQTT broker")

	bindFlag(a.viper, "monitor.command", flags.Lookup("command"))
	bindFlag(a.viper, "monitor.count", flags.Lookup("count"))
	bindFlag(a.viper, "mqtt.enabled", flags.Lookup("mqtt"))
	return cmd
}

func (a *Application) runMonitor(cmd *cobra.Command, _ []string) error {
	opts := service.MonitorOptions{
		Command:  a.config.Monitor.Command,
		Interval: a.config.Monitor.Interval,
		Count:    a.config.Monitor.Count,
	}
	if interval, _ := cmd.Flags().GetDuration("interval"); cmd.Flags().Changed("interval") {
		opts.Interval = interval
	}

	out, err := a.Formatter()
	if err != nil {
		return err
	}
	errOut := a.errorFormatter(out)

	var publisher *telemetry.Publisher
	if a.config.MQTT.Enabled {
		publisher = telemetry.NewPublisher(a.config.MQTT, a.logger)
		if err := publisher.Connect(); err != nil {
			return fmt.Errorf("failed to start MQTT telemetry: %w", err)
		}
		defer publisher.Close()
	}

	svc, err := a.Controller()
	if err != nil {
		return a.report(errOut, opts.Command, err)
	}

	readings, failures := 0, 0
	err = svc.Monitor(cmd.Context(), opts, func(outcome *model.Outcome, err error) error {
		readings++
		if err != nil {
			failures++
			errOut.Error(opts.Command, err)
			errOut.Flush()
			if publisher != nil {
				if perr := publisher.PublishError(opts.Command, err); perr != nil {
					a.logger.Warn("Failed to publish reading", zap.Error(perr))
				}
			}
			return nil
		}

		if model.ResultError(outcome.Result) != nil {
			failures++
		}
		if werr := out.Outcome(outcome); werr != nil {
			return fmt.Errorf("failed to write output: %w", werr)
		}
		if werr := out.Flush(); werr != nil {
			return fmt.Errorf("failed to write output: %w", werr)
		}
		if publisher != nil {
			if perr := publisher.PublishOutcome(outcome); perr != nil {
				a.logger.Warn("Failed to publish reading", zap.Error(perr))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Debug("Monitor finished", zap.Int("readings", readings), zap.Int("failures", failures))
	return nil
}
