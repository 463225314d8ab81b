// internal/format/envelope.go
package format

import (
	"time"

	"eink-power-cli/internal/model"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the machine-readable record of one command, shared by the JSON
// renderer, the HTTP bridge and MQTT telemetry
type Envelope struct {
	Timestamp     time.Time      `json:"timestamp"`
	Command       string         `json:"command"`
	Status        string         `json:"status"`
	TransactionID string         `json:"transaction_id,omitempty"`
	DurationMS    int64          `json:"duration_ms"`
	Kind          model.Kind     `json:"kind,omitempty"`
	Data          map[string]any `json:"data"`
	RawResponse   *string        `json:"raw_response"`
}

// NewEnvelope wraps a completed transaction
func NewEnvelope(outcome *model.Outcome) *Envelope {
	env := &Envelope{
		Timestamp:     outcome.StartedAt.UTC(),
		Command:       outcome.Command.Invocation(),
		Status:        StatusSuccess,
		TransactionID: outcome.TransactionID.String(),
		DurationMS:    outcome.Duration.Milliseconds(),
		Data:          map[string]any{},
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if outcome.Result != nil {
		env.Kind = outcome.Result.Kind()
		env.Data = outcome.Result.Fields()
	}
	if !outcome.Succeeded() {
		env.Status = StatusError
	}
	if outcome.Raw != nil {
		text := outcome.Raw.Text()
		env.RawResponse = &text
	}
	return env
}

// ErrorEnvelope records a command that produced no result
func ErrorEnvelope(command string, err error) *Envelope {
	return &Envelope{
		Timestamp: time.Now().UTC(),
		Command:   command,
		Status:    StatusError,
		Data:      map[string]any{"error": err.Error()},
	}
}
