package usb

import (
	"context"
	"testing"

	"github.com/google/gousb"
	"go.uber.org/zap"
)

func TestBridgeIdentify(t *testing.T) {
	db := NewBridgeDatabase()

	tests := []struct {
		name     string
		vid, pid string
		want     string
		wantOK   bool
	}{
		{"ftdi", "0403", "6001", "FTDI FT232R", true},
		{"cp210x upper", "10C4", "EA60", "Silicon Labs CP210x", true},
		{"prefixed", "0x1a86", "0x7523", "WCH CH340", true},
		{"known vendor unknown product", "1fc9", "ffff", "NXP", true},
		{"unknown", "046d", "c52b", "", false},
		{"garbage", "zz", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := db.IdentifyHex(tt.vid, tt.pid)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("IdentifyHex(%q, %q) = %q, %v; want %q, %v", tt.vid, tt.pid, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestScanKeepsKnownBridges(t *testing.T) {
	s := NewScanner(zap.NewNop(), nil)
	s.enumerate = func() ([]*gousb.DeviceDesc, error) {
		return []*gousb.DeviceDesc{
			{Bus: 1, Address: 4, Vendor: 0x10C4, Product: 0xEA60},
			{Bus: 1, Address: 5, Vendor: 0x046D, Product: 0xC52B},
		}, nil
	}

	ports, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() unexpected error: %v", err)
	}
	if len(ports) != 1 {
		t.Fatalf("got %d ports, want 1", len(ports))
	}
	if ports[0].Name != "usb:1-4" || ports[0].Bridge != "Silicon Labs CP210x" || ports[0].VendorID != "10c4" {
		t.Errorf("port = %+v", ports[0])
	}

	s.config.IncludeUnknown = true
	ports, _ = s.Scan(context.Background())
	if len(ports) != 2 {
		t.Errorf("IncludeUnknown: got %d ports, want 2", len(ports))
	}
}
