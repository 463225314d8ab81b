// cmd/eink-power-cli/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	_ "eink-power-cli/docs"
	"eink-power-cli/internal/command"
	"eink-power-cli/internal/config"
	"eink-power-cli/internal/format"
	"eink-power-cli/internal/monitor"
	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

// Application holds what every subcommand shares
type Application struct {
	viper      *viper.Viper
	config     *config.Config
	logger     *zap.Logger
	registry   *command.Registry
	metrics    *monitor.Metrics
	controller *service.ControllerService

	configFile string
	verbose    bool
	quiet      bool

	stdout io.Writer
	stderr io.Writer
}

// @title E-ink Power Controller Bridge API
// @version 1.0.0
// @description HTTP and WebSocket bridge to an E-ink power controller on a serial link

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8086
// @BasePath /api/v1
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApplication(stdout, stderr)
	defer app.Close()

	root := app.RootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var shown *reportedError
	if !errors.As(err, &shown) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return ExitCode(err)
}

// NewApplication creates an application writing results to stdout and diagnostics to stderr
func NewApplication(stdout, stderr io.Writer) *Application {
	return &Application{
		viper:    config.New(),
		logger:   zap.NewNop(),
		registry: command.NewDefaultRegistry(zap.NewNop()),
		stdout:   stdout,
		stderr:   stderr,
	}
}

// RootCommand builds the command tree
func (a *Application) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   config.ConfigName,
		Short: "Control and monitor an E-ink power controller over its serial shell",
		Long: "eink-power-cli talks to the power controller's shell over UART (or a ser2net TCP bridge),\n" +
			"one command at a time, and renders replies as text, JSON or CSV.",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		Args:              cobra.ArbitraryArgs,
		RunE:              groupRunE(""),
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	})

	flags := root.PersistentFlags()
	flags.StringP("device", "d", protocol.DefaultDevice, "serial device, or tcp://host:port for a network bridge")
	flags.IntP("baud", "b", protocol.DefaultBaudRate, "baud rate")
	flags.DurationP("timeout", "t", protocol.DefaultTimeout, "per-command response timeout")
	flags.StringP("format", "f", config.FormatHuman, "output format: human, json or csv")
	flags.Bool("raw", false, "include the raw controller response in human output")
	flags.StringVarP(&a.configFile, "config", "c", "", "config file (default ./eink-power-cli.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging on stderr")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "print results only")

	bindFlag(a.viper, "serial.device", flags.Lookup("device"))
	bindFlag(a.viper, "serial.baud_rate", flags.Lookup("baud"))
	bindFlag(a.viper, "serial.timeout", flags.Lookup("timeout"))
	bindFlag(a.viper, "output.format", flags.Lookup("format"))
	bindFlag(a.viper, "output.raw", flags.Lookup("raw"))

	a.addRegistryCommands(root)
	root.AddCommand(
		a.monitorCommand(),
		a.batchCommand(),
		a.portsCommand(),
		a.serveCommand(),
	)
	return root
}

// setup loads configuration and builds the logger before any subcommand runs
func (a *Application) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.viper, a.configFile)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}

	a.config = cfg
	a.logger = logger
	a.logger.Debug("Configuration loaded",
		zap.String("command", cmd.CommandPath()),
		zap.String("device", cfg.Serial.Device),
		zap.Int("baud_rate", cfg.Serial.BaudRate),
		zap.Duration("timeout", cfg.Serial.Timeout),
		zap.String("config_file", a.viper.ConfigFileUsed()),
	)
	return nil
}

// Controller returns the shared controller service, creating it on first use
func (a *Application) Controller() (*service.ControllerService, error) {
	if a.controller != nil {
		return a.controller, nil
	}

	svc, err := service.NewControllerServiceFromConfig(a.config, a.registry, a.metrics, a.logger)
	if err != nil {
		return nil, err
	}
	a.controller = svc
	return svc, nil
}

// Formatter returns the configured renderer for results
func (a *Application) Formatter() (format.Formatter, error) {
	f, err := format.New(a.config.Output.Format, a.stdout, format.Options{
		Raw:   a.config.Output.Raw,
		Quiet: a.quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}
	return f, nil
}

// Close releases the controller link and flushes the logger
func (a *Application) Close() {
	if a.controller != nil {
		if err := a.controller.Close(); err != nil {
			a.logger.Warn("Failed to close controller link", zap.Error(err))
		}
	}
	_ = utils.CloseLogger(a.logger)
}

func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}
