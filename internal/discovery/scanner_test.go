package discovery

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type MockScanner struct {
	kind      string
	available bool
	ports     []*DiscoveredPort
	err       error
}

func (m *MockScanner) Scan(ctx context.Context) ([]*DiscoveredPort, error) { return m.ports, m.err }
func (m *MockScanner) GetScannerType() string                              { return m.kind }
func (m *MockScanner) IsAvailable() bool                                   { return m.available }

func TestScanAll(t *testing.T) {
	sm := NewScannerManager(zap.NewNop())
	sm.RegisterScanner(&MockScanner{kind: "serial", available: true, ports: []*DiscoveredPort{{Name: "/dev/ttyLP2"}}})
	sm.RegisterScanner(&MockScanner{kind: "usb", available: true, err: errors.New("libusb: access denied")})
	sm.RegisterScanner(&MockScanner{kind: "other", available: false, ports: []*DiscoveredPort{{Name: "x"}}})

	ports, err := sm.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("ScanAll() unexpected error: %v", err)
	}
	if len(ports) != 1 || ports[0].Name != "/dev/ttyLP2" {
		t.Errorf("ports = %+v", ports)
	}

	if got := sm.GetAvailableScanners(); len(got) != 2 || got[0] != "serial" || got[1] != "usb" {
		t.Errorf("GetAvailableScanners() = %v", got)
	}
	if _, err := sm.ScanByType(context.Background(), "other"); err == nil {
		t.Error("ScanByType() expected error for unavailable scanner")
	}
	if _, err := sm.ScanByType(context.Background(), "bluetooth"); err == nil {
		t.Error("ScanByType() expected error for unknown scanner")
	}
}
