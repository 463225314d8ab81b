// internal/service/controller_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eink-power-cli/internal/command"
	"eink-power-cli/internal/config"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/monitor"
	"eink-power-cli/internal/parser"
	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/utils"
)

// ControllerService runs registry commands against one controller link
type ControllerService struct {
	config   *config.Config
	registry *command.Registry
	engine   *protocol.Engine
	metrics  *monitor.Metrics
	logger   *utils.ServiceLogger
	link     *utils.ControllerLogger

	mu        sync.Mutex
	wasOpen   bool
	lastStats protocol.ProtocolStats
}

// ControllerStatus is a snapshot of the link for health reporting
type ControllerStatus struct {
	Device    string                 `json:"device"`
	Type      model.ConnectionType   `json:"type"`
	Connected bool                   `json:"connected"`
	Busy      bool                   `json:"busy"`
	State     string                 `json:"state"`
	Stats     protocol.ProtocolStats `json:"stats"`
}

// NewControllerService creates a controller service. metrics may be nil.
func NewControllerService(
	cfg *config.Config,
	registry *command.Registry,
	engine *protocol.Engine,
	metrics *monitor.Metrics,
	logger *zap.Logger,
) *ControllerService {
	return &ControllerService{
		config:   cfg,
		registry: registry,
		engine:   engine,
		metrics:  metrics,
		logger:   utils.NewServiceLogger(logger, "controller-service"),
		link:     utils.NewControllerLogger(logger, cfg.Serial.Device),
	}
}

// NewControllerServiceFromConfig builds the transport, framer and engine from cfg
func NewControllerServiceFromConfig(cfg *config.Config, registry *command.Registry, metrics *monitor.Metrics, logger *zap.Logger) (*ControllerService, error) {
	transport, err := protocol.CreateTransport(cfg.Serial, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	framer := protocol.NewFramer(cfg.Protocol.Prompts, cfg.Serial.Terminator)
	engine := protocol.NewEngine(transport, framer, cfg.EngineConfig(), logger)
	return NewControllerService(cfg, registry, engine, metrics, logger), nil
}

// Registry returns the command registry
func (s *ControllerService) Registry() *command.Registry {
	return s.registry
}

// Execute resolves tokens and runs the command
func (s *ControllerService) Execute(ctx context.Context, tokens []string) (*model.Outcome, error) {
	cmd, err := s.registry.Resolve(tokens)
	if err != nil {
		s.metrics.ObserveError(monitor.UnknownCommand, 0, err)
		return nil, err
	}
	return s.Run(ctx, cmd)
}

// ExecuteLine resolves a whitespace separated command line and runs it
func (s *ControllerService) ExecuteLine(ctx context.Context, line string) (*model.Outcome, error) {
	return s.Execute(ctx, strings.Fields(line))
}

// Run sends a resolved command and parses the reply. A refused command or a
// malformed reply is an Outcome with a nil error; use model.ResultError to test it.
func (s *ControllerService) Run(ctx context.Context, cmd *model.Command) (*model.Outcome, error) {
	id := uuid.New()
	txLogger := utils.NewTransactionLogger(s.logger.Logger, cmd.Name, id.String())
	txLogger.Start(zap.String("wire", cmd.Wire), zap.Bool("disruptive", cmd.Disruptive))

	var timeout time.Duration
	if cmd.Disruptive {
		timeout = s.config.Protocol.ResetTimeout
	}

	started := time.Now()
	raw, err := s.engine.ExecuteWithID(ctx, id, cmd.Wire, timeout)
	s.observeLink(err)

	dropped := false
	if err != nil && cmd.Disruptive && linkDropped(err) {
		s.logger.Info("Link dropped after disruptive command",
			zap.String("command", cmd.Name),
			zap.Error(err),
		)
		raw = droppedLinkResponse(id, cmd, err, time.Since(started))
		dropped = true
		err = nil
	}
	if cmd.Disruptive && mayHaveSent(err) {
		s.closeAfterDisruptive()
	}

	if err != nil {
		s.metrics.ObserveError(cmd.Name, time.Since(started), err)
		txLogger.Error(err)
		return nil, err
	}

	var result model.Result
	if dropped || (cmd.Disruptive && len(raw.Lines) == 0) {
		result = &model.Ack{Success: true, Message: command.DisruptiveMessage(cmd.Name)}
	} else {
		result = parser.Parse(cmd, raw)
	}

	outcome := &model.Outcome{
		TransactionID: id,
		Command:       cmd,
		Result:        result,
		Raw:           raw,
		StartedAt:     started,
		Duration:      raw.Duration,
	}
	s.metrics.ObserveOutcome(outcome)

	if rerr := model.ResultError(result); rerr != nil {
		txLogger.Error(rerr, zap.String("kind", string(result.Kind())))
	} else {
		txLogger.Success(zap.String("kind", string(result.Kind())), zap.Int("lines", len(raw.Lines)))
	}
	return outcome, nil
}

// Status reports the link state without touching the device
func (s *ControllerService) Status() ControllerStatus {
	transport := s.engine.Transport()
	return ControllerStatus{
		Device:    s.config.Serial.Device,
		Type:      transport.GetProtocolType(),
		Connected: transport.IsOpen(),
		Busy:      s.engine.Busy(),
		State:     s.engine.State().String(),
		Stats:     transport.Stats(),
	}
}

// Close closes the controller link
func (s *ControllerService) Close() error {
	err := s.engine.Close()

	s.mu.Lock()
	wasOpen := s.wasOpen
	s.wasOpen = false
	s.mu.Unlock()

	if wasOpen {
		s.link.LogConnection("close", err)
		s.metrics.ObserveConnection("close", false)
	}
	if err != nil {
		return fmt.Errorf("failed to close controller link: %w", err)
	}
	return nil
}

// observeLink logs open and loss transitions and feeds byte counters
func (s *ControllerService) observeLink(err error) {
	transport := s.engine.Transport()
	open := transport.IsOpen()
	stats := transport.Stats()

	s.mu.Lock()
	wasOpen := s.wasOpen
	s.wasOpen = open
	written := stats.BytesWritten - s.lastStats.BytesWritten
	read := stats.BytesRead - s.lastStats.BytesRead
	s.lastStats = stats
	s.mu.Unlock()

	s.metrics.ObserveTraffic(written, read)

	var connErr *protocol.ConnectionError
	switch {
	case errors.As(err, &connErr):
		s.link.LogConnection("open", err)
	case !wasOpen && open:
		s.link.LogConnection("open", nil)
		s.metrics.ObserveConnection("open", true)
	case wasOpen && !open && errors.Is(err, protocol.ErrConnectionLost):
		s.link.LogConnection("lost", err)
	}
}

func (s *ControllerService) closeAfterDisruptive() {
	if !s.engine.Transport().IsOpen() {
		return
	}
	if err := s.Close(); err != nil {
		s.logger.Warn("Failed to close link after disruptive command", zap.Error(err))
	}
}

// mayHaveSent is false for failures that happen before anything reaches the
// wire. A busy rejection must leave the link to the transaction in flight.
func mayHaveSent(err error) bool {
	return !errors.Is(err, protocol.ErrBusy) &&
		!errors.Is(err, protocol.ErrInvalidArgument) &&
		!errors.Is(err, protocol.ErrConnection)
}

// linkDropped reports errors that a resetting controller is expected to cause
func linkDropped(err error) bool {
	return errors.Is(err, protocol.ErrTimeout) || errors.Is(err, protocol.ErrConnectionLost)
}

func droppedLinkResponse(id uuid.UUID, cmd *model.Command, err error, elapsed time.Duration) *model.RawResponse {
	raw := &model.RawResponse{TransactionID: id, Wire: cmd.Wire, Duration: elapsed}
	var timeoutErr *protocol.TimeoutError
	if errors.As(err, &timeoutErr) {
		raw.Lines = timeoutErr.Partial
	}
	return raw
}
