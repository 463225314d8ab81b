// internal/model/connection.go
package model

import "strings"

// ConnectionType represents how the controller is reached
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// ConnectionTypeFor infers the connection type from a device path.
// tcp://host:port selects a network serial bridge, anything else is a local port.
func ConnectionTypeFor(device string) ConnectionType {
	if strings.HasPrefix(strings.ToLower(device), "tcp://") {
		return ConnectionTypeTCP
	}
	return ConnectionTypeSerial
}
