// internal/model/response.go
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RawResponse is the text captured for one transaction, prompt and echo excluded
type RawResponse struct {
	TransactionID uuid.UUID     `json:"transaction_id"`
	Wire          string        `json:"wire"`
	Lines         []string      `json:"lines"`
	Prompt        string        `json:"prompt"`
	Duration      time.Duration `json:"duration"`
}

// Text joins the captured lines with newlines
func (r *RawResponse) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Lines, "\n")
}

// Outcome ties a command to its parsed result for formatting and publishing
type Outcome struct {
	TransactionID uuid.UUID     `json:"transaction_id"`
	Command       *Command      `json:"command"`
	Result        Result        `json:"-"`
	Raw           *RawResponse  `json:"-"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
}

// Succeeded reports whether the result is neither a protocol error nor a refused command
func (o *Outcome) Succeeded() bool {
	return o != nil && ResultError(o.Result) == nil
}
