package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.Serial.Device != "/dev/ttyLP2" {
		t.Errorf("Serial.Device = %q", cfg.Serial.Device)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d", cfg.Serial.BaudRate)
	}
	if cfg.Serial.Timeout != 3*time.Second {
		t.Errorf("Serial.Timeout = %v", cfg.Serial.Timeout)
	}
	if cfg.Serial.Terminator != "\n" {
		t.Errorf("Serial.Terminator = %q", cfg.Serial.Terminator)
	}
	if strings.Join(cfg.Protocol.Prompts, ",") != "debug:~$,prod:~$,uart:~$" {
		t.Errorf("Protocol.Prompts = %v", cfg.Protocol.Prompts)
	}
	if cfg.Protocol.ResetTimeout != time.Second {
		t.Errorf("Protocol.ResetTimeout = %v", cfg.Protocol.ResetTimeout)
	}
	if cfg.Output.Format != FormatHuman {
		t.Errorf("Output.Format = %q", cfg.Output.Format)
	}
	if cfg.Monitor.Interval != 30*time.Second {
		t.Errorf("Monitor.Interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Output != "stderr" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	engine := cfg.EngineConfig()
	if engine.Timeout != 3*time.Second || engine.DrainWindow != 100*time.Millisecond {
		t.Errorf("EngineConfig() = %+v", engine)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "power.yaml")
	content := `
serial:
  device: /dev/ttyUSB1
  baud_rate: 57600
  timeout: 5s
output:
  format: json
mqtt:
  enabled: true
  broker: tcp://broker:1883
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EINK_POWER_SERIAL_BAUD_RATE", "230400")
	t.Setenv("EINK_POWER_LOGGING_LEVEL", "debug")

	cfg, err := Load(New(), file)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.Serial.Device != "/dev/ttyUSB1" {
		t.Errorf("Serial.Device = %q", cfg.Serial.Device)
	}
	if cfg.Serial.BaudRate != 230400 {
		t.Errorf("Serial.BaudRate = %d, want env override", cfg.Serial.BaudRate)
	}
	if cfg.Serial.Timeout != 5*time.Second {
		t.Errorf("Serial.Timeout = %v", cfg.Serial.Timeout)
	}
	if cfg.Output.Format != FormatJSON {
		t.Errorf("Output.Format = %q", cfg.Output.Format)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	if !cfg.IsDebugEnabled() {
		t.Error("IsDebugEnabled() = false with EINK_POWER_LOGGING_LEVEL=debug")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{name: "bad baud", key: "serial.baud_rate", val: 1234},
		{name: "zero timeout", key: "serial.timeout", val: "0s"},
		{name: "bad format", key: "output.format", val: "xml"},
		{name: "bad log level", key: "logging.level", val: "verbose"},
		{name: "zero interval", key: "monitor.interval", val: "0s"},
		{name: "negative count", key: "monitor.count", val: -1},
		{name: "empty device", key: "serial.device", val: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			v := New()
			v.Set(tt.key, tt.val)
			if _, err := Load(v, ""); err == nil {
				t.Errorf("Load() with %s=%v should fail", tt.key, tt.val)
			}
		})
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })
}
