// internal/model/result.go
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrProtocol marks a reply that did not match the expected shape
	ErrProtocol = errors.New("protocol error")
	// ErrController marks a reply in which the controller refused the command
	ErrController = errors.New("controller error")
)

// Result is the parsed reply of one transaction.
// Fields returns a stable machine-readable view per kind.
type Result interface {
	Kind() Kind
	Fields() map[string]any
	String() string
}

// Version is the firmware version string
type Version struct {
	Version string `json:"version"`
}

func (v *Version) Kind() Kind { return KindVersion }

func (v *Version) Fields() map[string]any {
	return map[string]any{"version": v.Version}
}

func (v *Version) String() string {
	return fmt.Sprintf("Controller version: %s", v.Version)
}

// Ping reports whether the controller answered with pong
type Ping struct {
	Pong bool `json:"pong"`
}

func (p *Ping) Kind() Kind { return KindPing }

func (p *Ping) Fields() map[string]any {
	return map[string]any{"pong": p.Pong}
}

func (p *Ping) String() string {
	if p.Pong {
		return "Controller is responding (pong)"
	}
	return "Controller did not answer"
}

// Quantity is an integer reading in the unit reported by the controller
type Quantity struct {
	Value int64  `json:"value"`
	Unit  string `json:"unit"`
}

// Measurement holds named readings in the order the controller printed them
type Measurement struct {
	Values map[string]Quantity `json:"values"`
	Order  []string            `json:"-"`
}

// NewMeasurement creates an empty measurement
func NewMeasurement() *Measurement {
	return &Measurement{Values: make(map[string]Quantity)}
}

// Set records a reading, keeping the first-seen position of the field
func (m *Measurement) Set(name string, q Quantity) {
	if _, exists := m.Values[name]; !exists {
		m.Order = append(m.Order, name)
	}
	m.Values[name] = q
}

// Get returns a reading by field name
func (m *Measurement) Get(name string) (Quantity, bool) {
	q, ok := m.Values[name]
	return q, ok
}

func (m *Measurement) Kind() Kind { return KindMeasurement }

func (m *Measurement) Fields() map[string]any {
	fields := make(map[string]any, len(m.Values))
	for name, q := range m.Values {
		fields[name] = q.Value
	}
	return fields
}

func (m *Measurement) String() string {
	var b strings.Builder
	b.WriteString("Measurements:")
	for _, name := range m.Order {
		q := m.Values[name]
		fmt.Fprintf(&b, "\n   %s: %d %s", name, q.Value, q.Unit)
	}
	return b.String()
}

// GpioState is the level of one pin
type GpioState struct {
	Port  string `json:"port"`
	Pin   int    `json:"pin"`
	Level int    `json:"level"`
}

func (g *GpioState) Kind() Kind { return KindGpio }

func (g *GpioState) Fields() map[string]any {
	return map[string]any{"port": g.Port, "pin": g.Pin, "level": g.Level}
}

func (g *GpioState) String() string {
	state := "LOW"
	if g.Level != 0 {
		state = "HIGH"
	}
	return fmt.Sprintf("GPIO %s pin %d: %d (%s)", g.Port, g.Pin, g.Level, state)
}

// Ack is the reply to a command that returns no structured data
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *Ack) Kind() Kind { return KindAck }

func (a *Ack) Fields() map[string]any {
	return map[string]any{"success": a.Success, "message": a.Message}
}

func (a *Ack) String() string {
	if a.Success {
		return "OK: " + a.Message
	}
	return "FAILED: " + a.Message
}

// Info holds textual key/value lines such as system info or NFC status
type Info struct {
	Values map[string]string `json:"values"`
	Order  []string          `json:"-"`
}

// NewInfo creates an empty info result
func NewInfo() *Info {
	return &Info{Values: make(map[string]string)}
}

// Set records a value, keeping the first-seen position of the key
func (i *Info) Set(key, value string) {
	if _, exists := i.Values[key]; !exists {
		i.Order = append(i.Order, key)
	}
	i.Values[key] = value
}

func (i *Info) Kind() Kind { return KindInfo }

func (i *Info) Fields() map[string]any {
	fields := make(map[string]any, len(i.Values))
	for k, v := range i.Values {
		fields[k] = v
	}
	return fields
}

func (i *Info) String() string {
	keys := i.Order
	if len(keys) != len(i.Values) {
		keys = make([]string, 0, len(i.Values))
		for k := range i.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}

	var b strings.Builder
	for n, k := range keys {
		if n > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", k, i.Values[k])
	}
	return b.String()
}

// ProtocolError is produced when a reply does not match the expected shape.
// Line keeps the offending raw text when a single line is to blame.
type ProtocolError struct {
	Reason string `json:"reason"`
	Line   string `json:"line,omitempty"`
}

func (p *ProtocolError) Kind() Kind { return KindError }

func (p *ProtocolError) Fields() map[string]any {
	return map[string]any{"reason": p.Reason, "line": p.Line}
}

func (p *ProtocolError) String() string {
	if p.Line == "" {
		return "protocol error: " + p.Reason
	}
	return fmt.Sprintf("protocol error: %s (line %q)", p.Reason, p.Line)
}

// ResultError converts failure results into errors wrapping ErrProtocol or ErrController
func ResultError(r Result) error {
	switch v := r.(type) {
	case nil:
		return fmt.Errorf("%w: no result", ErrProtocol)
	case *ProtocolError:
		return fmt.Errorf("%w: %s", ErrProtocol, v.String())
	case *Ack:
		if !v.Success {
			return fmt.Errorf("%w: %s", ErrController, v.Message)
		}
	}
	return nil
}
