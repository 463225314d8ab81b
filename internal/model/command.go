// internal/model/command.go
package model

import "strings"

// Kind identifies the expected shape of a controller reply
type Kind string

const (
	KindVersion     Kind = "VERSION"
	KindPing        Kind = "PING"
	KindMeasurement Kind = "MEASUREMENT"
	KindGpio        Kind = "GPIO_STATE"
	KindAck         Kind = "ACK"
	KindInfo        Kind = "INFO"
	KindError       Kind = "PROTOCOL_ERROR"
)

// GpioTarget identifies a single controller pin
type GpioTarget struct {
	Port  string `json:"port"`
	Pin   int    `json:"pin"`
	Value *int   `json:"value,omitempty"`
}

// Command is one resolved controller invocation.
// Wire holds the shell text without a line terminator.
type Command struct {
	Name       string      `json:"name"`
	Args       []string    `json:"args,omitempty"`
	Wire       string      `json:"wire"`
	Kind       Kind        `json:"kind"`
	Gpio       *GpioTarget `json:"gpio,omitempty"`
	Disruptive bool        `json:"disruptive,omitempty"`
}

// Invocation returns the logical command line, e.g. "gpio get gpioa 5"
func (c *Command) Invocation() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}
