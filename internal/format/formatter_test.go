package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"eink-power-cli/internal/model"
)

func batteryOutcome() *model.Outcome {
	m := model.NewMeasurement()
	m.Set("voltage_mv", model.Quantity{Value: 3845, Unit: "mV"})
	m.Set("current_ma", model.Quantity{Value: -125, Unit: "mA"})

	return &model.Outcome{
		TransactionID: uuid.MustParse("7b0c6a58-3c57-4b8e-9d4b-1f0f3c2a9e11"),
		Command:       &model.Command{Name: "battery read", Wire: "ltc2959 read", Kind: model.KindMeasurement},
		Result:        m,
		Raw:           &model.RawResponse{Lines: []string{"Voltage: 3845 mV", "Current: -125 mA"}},
		StartedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:      42 * time.Millisecond,
	}
}

func TestJSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	f, err := New("json", &buf, Options{})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	if err := f.Outcome(batteryOutcome()); err != nil {
		t.Fatalf("Outcome() unexpected error: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}

	for _, key := range []string{"timestamp", "command", "status", "transaction_id", "duration_ms", "data", "raw_response"} {
		if _, ok := got[key]; !ok {
			t.Errorf("envelope missing %q", key)
		}
	}
	if got["command"] != "battery read" || got["status"] != "success" {
		t.Errorf("command/status = %v/%v", got["command"], got["status"])
	}
	if got["duration_ms"] != float64(42) {
		t.Errorf("duration_ms = %v, want 42", got["duration_ms"])
	}
	data := got["data"].(map[string]any)
	if data["voltage_mv"] != float64(3845) || data["current_ma"] != float64(-125) {
		t.Errorf("data = %v", data)
	}
	if got["raw_response"] != "Voltage: 3845 mV\nCurrent: -125 mA" {
		t.Errorf("raw_response = %q", got["raw_response"])
	}
}

func TestJSONErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	f, _ := New("json", &buf, Options{})
	if err := f.Error("ping", errors.New("no response")); err != nil {
		t.Fatalf("Error() unexpected error: %v", err)
	}

	var got Envelope
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got.Status != StatusError || got.Data["error"] != "no response" || got.RawResponse != nil {
		t.Errorf("envelope = %+v", got)
	}
}

func TestRefusedCommandIsErrorStatus(t *testing.T) {
	outcome := &model.Outcome{
		Command: &model.Command{Name: "power pmic on"},
		Result:  &model.Ack{Success: false, Message: "wrong parameter count"},
	}
	if env := NewEnvelope(outcome); env.Status != StatusError {
		t.Errorf("Status = %q, want error", env.Status)
	}
}

func TestCSVHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	f, _ := New("csv", &buf, Options{})

	for i := 0; i < 3; i++ {
		if err := f.Outcome(batteryOutcome()); err != nil {
			t.Fatalf("Outcome() unexpected error: %v", err)
		}
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush() unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header + 3 rows:\n%s", len(lines), buf.String())
	}
	if lines[0] != "timestamp,command,status,current_ma,voltage_mv,error" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "2025-06-01T12:00:00Z,battery read,success,-125,3845," {
		t.Errorf("row = %q", lines[1])
	}
}

func TestCSVSchemaSurvivesFailures(t *testing.T) {
	refused := &model.Outcome{
		Command:   &model.Command{Name: "battery read"},
		Result:    &model.Ack{Success: false, Message: "wrong parameter count"},
		StartedAt: time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
	}

	var buf bytes.Buffer
	f, _ := New("csv", &buf, Options{})
	steps := []func() error{
		func() error { return f.Error("battery read", errors.New("no response within 3s")) },
		func() error { return f.Outcome(batteryOutcome()) },
		func() error { return f.Error("battery read", errors.New("no response within 3s")) },
		func() error { return f.Outcome(refused) },
		func() error { return f.Outcome(batteryOutcome()) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("record %d: unexpected error: %v", i, err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("got %d lines, want 2 headers + 5 rows:\n%s", len(lines), buf.String())
	}
	if lines[0] != "timestamp,command,status,error" {
		t.Errorf("first header = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ",battery read,error,no response within 3s") {
		t.Errorf("error row = %q", lines[1])
	}
	if lines[2] != "timestamp,command,status,current_ma,voltage_mv,error" {
		t.Errorf("second header = %q", lines[2])
	}
	if lines[3] != "2025-06-01T12:00:00Z,battery read,success,-125,3845," {
		t.Errorf("reading row = %q", lines[3])
	}
	if !strings.HasSuffix(lines[4], ",battery read,error,,,no response within 3s") {
		t.Errorf("later error row = %q", lines[4])
	}
	if !strings.HasPrefix(lines[5], "2025-06-01T12:00:05Z,battery read,error,,,") || !strings.Contains(lines[5], "wrong parameter count") {
		t.Errorf("refused row = %q", lines[5])
	}
	if lines[6] != "2025-06-01T12:00:00Z,battery read,success,-125,3845," {
		t.Errorf("reading after failures = %q", lines[6])
	}
}

func TestCSVNewBlockOnShapeChange(t *testing.T) {
	version := &model.Outcome{
		Command:   &model.Command{Name: "version"},
		Result:    &model.Version{Version: "v2.2.0"},
		StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	f, _ := New("csv", &buf, Options{})
	if err := f.Outcome(version); err != nil {
		t.Fatal(err)
	}
	if err := f.Outcome(batteryOutcome()); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{
		"timestamp,command,status,version,error",
		"2025-06-01T12:00:00Z,version,success,v2.2.0,",
		"timestamp,command,status,current_ma,voltage_mv,error",
		"2025-06-01T12:00:00Z,battery read,success,-125,3845,",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestHumanOutput(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		want    []string
		notWant []string
	}{
		{
			name: "derived values",
			want: []string{"voltage_mv: 3845 mV", "Voltage: 3.845 V", "Power (calculated): -0.481 W"},
		},
		{
			name:    "quiet",
			opts:    Options{Quiet: true},
			want:    []string{"voltage_mv: 3845 mV"},
			notWant: []string{"3.845 V"},
		},
		{
			name: "raw",
			opts: Options{Raw: true},
			want: []string{"--- raw response ---", "Current: -125 mA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			f, _ := New("human", &buf, tt.opts)
			if err := f.Outcome(batteryOutcome()); err != nil {
				t.Fatalf("Outcome() unexpected error: %v", err)
			}
			out := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(out, s) {
					t.Errorf("output missing %q:\n%s", s, out)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(out, s) {
					t.Errorf("output contains %q:\n%s", s, out)
				}
			}
		})
	}
}

func TestDerive(t *testing.T) {
	m := model.NewMeasurement()
	m.Set("voltage_mv", model.Quantity{Value: 3800, Unit: "mV"})
	m.Set("power_mw", model.Quantity{Value: -250, Unit: "mW"})

	got := Derive(m)
	if len(got) != 2 {
		t.Fatalf("Derive() returned %d values, want 2", len(got))
	}
	if !got[0].Value.Equal(decimal.RequireFromString("3.8")) || got[0].Unit != "V" {
		t.Errorf("voltage = %s %s", got[0].Value, got[0].Unit)
	}
	if !got[1].Value.Equal(decimal.RequireFromString("-0.25")) || got[1].Unit != "W" {
		t.Errorf("power = %s %s", got[1].Value, got[1].Unit)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := New("xml", &bytes.Buffer{}, Options{}); err == nil {
		t.Error("New() expected error for unknown format")
	}
}
