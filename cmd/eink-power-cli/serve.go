// cmd/eink-power-cli/serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/monitor"
	"eink-power-cli/internal/routes"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

func (a *Application) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the controller over HTTP and WebSocket",
		Long: "Serve a REST API for registry commands, a WebSocket monitor stream, Prometheus\n" +
			"metrics and Swagger docs. Requests share one serial link; a request made while\n" +
			"another is in flight gets 409 Conflict.",
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}

	cmd.Flags().String("host", "127.0.0.1", "listen address")
	cmd.Flags().String("port", "8086", "listen port")
	bindFlag(a.viper, "server.host", cmd.Flags().Lookup("host"))
	bindFlag(a.viper, "server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func (a *Application) runServe(cmd *cobra.Command, _ []string) error {
	serviceLogger := utils.NewServiceLogger(a.logger, config.ConfigName)
	serviceLogger.LogServiceStart(a.config.App.Version, a.config)

	if a.config.Metrics.Enabled {
		a.metrics = monitor.NewMetrics(a.config.Metrics.Namespace)
	}
	svc, err := a.Controller()
	if err != nil {
		return err
	}

	discoveryService := service.NewDiscoveryService(a.config, service.DiscoveryOptions{USB: true}, a.logger)
	router := routes.NewRouter(a.config, a.logger, svc, discoveryService, a.metrics)
	defer router.Close()

	server := &http.Server{
		Addr:         a.config.GetServerAddr(),
		Handler:      router.SetupRouter(),
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
		IdleTimeout:  a.config.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("address", server.Addr))
		if !a.quiet {
			fmt.Fprintf(a.stderr, "Serving %s on http://%s (docs at /docs)\n", a.config.Serial.Device, server.Addr)
		}
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	serviceLogger.LogServiceStop("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	a.logger.Info("HTTP server stopped")
	return nil
}
