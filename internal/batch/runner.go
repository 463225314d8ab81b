// internal/batch/runner.go
package batch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eink-power-cli/internal/model"
)

// Executor runs one command line
type Executor interface {
	ExecuteLine(ctx context.Context, line string) (*model.Outcome, error)
}

// StepResult is reported after every executed command
type StepResult struct {
	Index   int
	Command string
	Outcome *model.Outcome
	Err     error
}

// Failed reports a transport error, a refused command or a malformed reply
func (r StepResult) Failed() bool {
	return r.Err != nil || !r.Outcome.Succeeded()
}

// Summary counts the executed steps
type Summary struct {
	Total     int  `json:"total"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Aborted   bool `json:"aborted"`
}

// Runner executes scripts sequentially
type Runner struct {
	executor Executor
	logger   *zap.Logger
}

// NewRunner creates a batch runner
func NewRunner(executor Executor, logger *zap.Logger) *Runner {
	return &Runner{
		executor: executor,
		logger:   logger.With(zap.String("component", "batch")),
	}
}

// Run executes every step in order. Without ContinueOnError the first failed
// step aborts the batch. Cancelling ctx aborts it as well.
func (r *Runner) Run(ctx context.Context, script *Script, report func(StepResult)) (*Summary, error) {
	summary := &Summary{}
	logger := r.logger.With(zap.String("batch", script.Name), zap.Int("steps", len(script.Steps)))
	logger.Info("Batch started")

	index := 0
	for _, step := range script.Steps {
		repeat := step.Repeat
		if repeat == 0 {
			repeat = 1
		}

		for n := 0; n < repeat; n++ {
			if index > 0 {
				if err := sleep(ctx, script.Delay); err != nil {
					summary.Aborted = true
					return summary, err
				}
			}
			index++

			outcome, err := r.executor.ExecuteLine(ctx, step.Command)
			result := StepResult{Index: index, Command: step.Command, Outcome: outcome, Err: err}
			summary.Total++
			if report != nil {
				report(result)
			}

			if ctx.Err() != nil {
				summary.Aborted = true
				logger.Info("Batch cancelled", zap.Int("executed", summary.Total))
				return summary, ctx.Err()
			}

			if result.Failed() {
				summary.Failed++
				logger.Warn("Batch step failed", zap.Int("step", index), zap.String("command", step.Command), zap.Error(err))
				if !script.ContinueOnError {
					summary.Aborted = true
					return summary, nil
				}
			} else {
				summary.Succeeded++
			}

			if err := sleep(ctx, step.Delay); err != nil {
				summary.Aborted = true
				return summary, err
			}
		}
	}

	logger.Info("Batch finished",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
