// internal/protocol/engine.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eink-power-cli/internal/model"
)

// State is the transaction engine state
type State int32

const (
	StateIdle State = iota
	StateSending
	StateAwaitingResponse
	StateComplete
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateComplete:
		return "complete"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EngineConfig controls transaction timing
type EngineConfig struct {
	// Timeout is the default per-transaction deadline, measured from a successful write
	Timeout time.Duration
	// DrainWindow is how long stray input is discarded before a send. Zero disables it.
	DrainWindow time.Duration
	// ResyncWindow bounds the wait for a prompt after a timed-out transaction
	ResyncWindow time.Duration
	ReadSize     int
}

// DefaultEngineConfig returns the defaults used by the CLI
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Timeout:      DefaultTimeout,
		DrainWindow:  100 * time.Millisecond,
		ResyncWindow: 500 * time.Millisecond,
		ReadSize:     1024,
	}
}

// inputFlusher is implemented by transports that can drop OS-buffered input
type inputFlusher interface {
	ResetInputBuffer() error
}

// Engine runs one request/response transaction at a time over a Transport.
// It is the only reader and writer of the transport.
type Engine struct {
	transport Transport
	framer    *Framer
	config    EngineConfig
	logger    *zap.Logger

	inFlight    atomic.Bool
	state       atomic.Int32
	needsResync bool
}

// NewEngine creates a transaction engine
func NewEngine(transport Transport, framer *Framer, config EngineConfig, logger *zap.Logger) *Engine {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.ReadSize <= 0 {
		config.ReadSize = 1024
	}
	if config.DrainWindow < 0 {
		config.DrainWindow = 0
	}
	if config.ResyncWindow < 0 {
		config.ResyncWindow = 0
	}
	if framer == nil {
		framer = NewFramer(nil, "")
	}
	return &Engine{
		transport: transport,
		framer:    framer,
		config:    config,
		logger:    logger.With(zap.String("component", "engine")),
	}
}

// State returns the current engine state
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Busy reports whether a transaction is in flight
func (e *Engine) Busy() bool {
	return e.inFlight.Load()
}

// Transport returns the underlying transport
func (e *Engine) Transport() Transport {
	return e.transport
}

// DefaultTimeout returns the configured per-transaction deadline
func (e *Engine) DefaultTimeout() time.Duration {
	return e.config.Timeout
}

// Close closes the transport. It does not wait for an in-flight transaction.
func (e *Engine) Close() error {
	return e.transport.Close()
}

// Execute sends wire and waits for a prompt-terminated reply. A non-positive
// timeout selects the configured default. A second call while one is in flight
// fails with ErrBusy.
func (e *Engine) Execute(ctx context.Context, wire string, timeout time.Duration) (*model.RawResponse, error) {
	return e.ExecuteWithID(ctx, uuid.New(), wire, timeout)
}

// ExecuteWithID is Execute with a caller-chosen transaction ID
func (e *Engine) ExecuteWithID(ctx context.Context, id uuid.UUID, wire string, timeout time.Duration) (*model.RawResponse, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer func() {
		e.setState(StateIdle, nil)
		e.inFlight.Store(false)
	}()

	if timeout <= 0 {
		timeout = e.config.Timeout
	}

	logger := e.logger.With(
		zap.String("transaction_id", id.String()),
		zap.String("wire", wire),
	)

	payload, err := e.framer.Encode(wire)
	if err != nil {
		return nil, err
	}

	if !e.transport.IsOpen() {
		if err := e.transport.Open(ctx); err != nil {
			return nil, err
		}
		e.needsResync = false
	}

	if err := e.prepare(ctx, logger); err != nil {
		return nil, e.fail(ctx, logger, err)
	}

	e.setState(StateSending, logger)
	if err := e.transport.Write(ctx, payload); err != nil {
		return nil, e.fail(ctx, logger, err)
	}

	e.setState(StateAwaitingResponse, logger)
	started := time.Now()
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.framer.Reset()
	for {
		chunk, err := e.transport.Read(tctx, e.config.ReadSize)
		if err != nil {
			if ctx.Err() == nil && (errors.Is(err, ErrTimeout) || errors.Is(tctx.Err(), context.DeadlineExceeded)) {
				e.needsResync = true
				e.setState(StateTimedOut, logger)
				partial := e.framer.Pending()
				logger.Debug("Transaction timed out",
					zap.Duration("timeout", timeout),
					zap.Int("partial_lines", len(partial)),
				)
				return nil, &TimeoutError{Command: wire, Timeout: timeout, Partial: partial}
			}
			return nil, e.fail(ctx, logger, err)
		}

		lines, complete := e.framer.Feed(chunk)
		if !complete {
			continue
		}

		e.setState(StateComplete, logger)
		raw := &model.RawResponse{
			TransactionID: id,
			Wire:          wire,
			Lines:         e.dropEcho(lines, wire),
			Prompt:        e.framer.LastPrompt(),
			Duration:      time.Since(started),
		}
		logger.Debug("Transaction complete",
			zap.Int("lines", len(raw.Lines)),
			zap.Duration("duration", raw.Duration),
		)
		return raw, nil
	}
}

// prepare discards stray input so the reply is matched to this request by order only
func (e *Engine) prepare(ctx context.Context, logger *zap.Logger) error {
	if e.needsResync && e.config.ResyncWindow > 0 {
		found, err := e.discardUntilPrompt(ctx, e.config.ResyncWindow)
		if err != nil {
			return err
		}
		logger.Debug("Resynchronised after timeout", zap.Bool("prompt_found", found))
	}
	e.needsResync = false

	if flusher, ok := e.transport.(inputFlusher); ok {
		if err := flusher.ResetInputBuffer(); err != nil && errors.Is(err, ErrConnectionLost) {
			return err
		}
	}

	if e.config.DrainWindow <= 0 {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, e.config.DrainWindow)
	defer cancel()

	drained := 0
	for {
		chunk, err := e.transport.Read(dctx, e.config.ReadSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrTimeout) || dctx.Err() != nil {
				break
			}
			return err
		}
		drained += len(chunk)
	}
	if drained > 0 {
		logger.Debug("Discarded stray input", zap.Int("bytes", drained))
	}
	return nil
}

// discardUntilPrompt reads and drops input until a prompt or the window ends
func (e *Engine) discardUntilPrompt(ctx context.Context, window time.Duration) (bool, error) {
	rctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	e.framer.Reset()
	defer e.framer.Reset()

	for {
		chunk, err := e.transport.Read(rctx, e.config.ReadSize)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if errors.Is(err, ErrTimeout) || rctx.Err() != nil {
				return false, nil
			}
			return false, err
		}
		if _, complete := e.framer.Feed(chunk); complete {
			return true, nil
		}
	}
}

// fail resolves a transaction to Failed. Link loss and caller cancellation close the transport.
func (e *Engine) fail(ctx context.Context, logger *zap.Logger, err error) error {
	e.setState(StateFailed, logger)

	if ctx.Err() != nil {
		logger.Debug("Transaction cancelled, closing transport", zap.Error(ctx.Err()))
		e.transport.Close()
		return fmt.Errorf("transaction cancelled: %w", ctx.Err())
	}

	if errors.Is(err, ErrConnectionLost) || isDisconnectionError(err) {
		logger.Warn("Connection lost, closing transport", zap.Error(err))
		e.transport.Close()
		var lost *ConnectionLostError
		if errors.As(err, &lost) {
			return lost
		}
		return &ConnectionLostError{Err: err}
	}

	logger.Debug("Transaction failed", zap.Error(err))
	return fmt.Errorf("transaction failed: %w", err)
}

func (e *Engine) dropEcho(lines []string, wire string) []string {
	start := 0
	for start < len(lines) && e.framer.EchoOf(lines[start], wire) {
		start++
	}
	return lines[start:]
}

func (e *Engine) setState(s State, logger *zap.Logger) {
	prev := State(e.state.Swap(int32(s)))
	if logger != nil && prev != s {
		logger.Debug("Transaction state",
			zap.String("from", prev.String()),
			zap.String("to", s.String()),
		)
	}
}
