// internal/discovery/probe.go
package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/parser"
	"eink-power-cli/internal/protocol"
)

// Probe runs one version transaction over transport and records the result
// on port. Errors only mean nothing answered; the transport is always closed.
func Probe(ctx context.Context, port *DiscoveredPort, transport protocol.Transport, prompts []string, terminator string, timeout time.Duration, logger *zap.Logger) {
	engine := protocol.NewEngine(transport, protocol.NewFramer(prompts, terminator), protocol.EngineConfig{
		Timeout:     timeout,
		DrainWindow: 50 * time.Millisecond,
	}, logger)
	defer engine.Close()

	cmd := &model.Command{Name: "version", Wire: "version", Kind: model.KindVersion}
	raw, err := engine.Execute(ctx, cmd.Wire, 0)
	if err != nil {
		logger.Debug("Probe failed", zap.String("port", port.Name), zap.Error(err))
		return
	}

	port.Responding = true
	if v, ok := parser.Parse(cmd, raw).(*model.Version); ok {
		port.Firmware = v.Version
	}
}
