// internal/service/monitor.go
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// MonitorOptions configures a polling loop
type MonitorOptions struct {
	Command  string
	Interval time.Duration
	// Count stops the loop after that many readings. Zero runs until ctx ends.
	Count int
}

// ReadingHandler receives each reading. Exactly one of outcome and err is set.
// Returning an error stops the loop.
type ReadingHandler func(outcome *model.Outcome, err error) error

// Monitor runs one command repeatedly. Readings never overlap: a tick that
// fires while a reading is in progress is dropped. Per-reading errors go to
// handle and the loop continues; a dropped link is reopened on the next tick.
func (s *ControllerService) Monitor(ctx context.Context, opts MonitorOptions, handle ReadingHandler) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("%w: monitor interval must be positive", protocol.ErrInvalidArgument)
	}
	if opts.Count < 0 {
		return fmt.Errorf("%w: monitor count must not be negative", protocol.ErrInvalidArgument)
	}

	cmd, err := s.registry.ResolveLine(opts.Command)
	if err != nil {
		return err
	}
	if cmd.Disruptive {
		return fmt.Errorf("%w: %q cannot be monitored", protocol.ErrInvalidArgument, cmd.Name)
	}

	s.logger.Info("Monitor started",
		zap.String("command", cmd.Invocation()),
		zap.Duration("interval", opts.Interval),
		zap.Int("count", opts.Count),
	)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		outcome, err := s.Run(ctx, cmd)
		if ctx.Err() != nil {
			s.logger.Info("Monitor stopped", zap.Int("readings", n-1))
			return nil
		}
		if err != nil {
			s.logger.Warn("Monitor reading failed", zap.Int("reading", n), zap.Error(err))
		}
		if herr := handle(outcome, err); herr != nil {
			return herr
		}

		if opts.Count > 0 && n >= opts.Count {
			s.logger.Info("Monitor finished", zap.Int("readings", n))
			return nil
		}

		// drain a tick that piled up during a slow reading
		select {
		case <-ticker.C:
		default:
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Monitor stopped", zap.Int("readings", n))
			return nil
		case <-ticker.C:
		}
	}
}
