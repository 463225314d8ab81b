package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"eink-power-cli/internal/command"
	"eink-power-cli/internal/config"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/monitor"
	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/protocol/protocoltest"
)

func testConfig(timeout time.Duration) *config.Config {
	return &config.Config{
		Serial: protocol.SerialConfig{
			Device:  "/dev/ttyTEST0",
			Timeout: timeout,
		},
		Protocol: config.ProtocolConfig{
			ResyncWindow: 50 * time.Millisecond,
			ResetTimeout: 200 * time.Millisecond,
		},
	}
}

func newTestService(tr protocol.Transport, timeout time.Duration) *ControllerService {
	cfg := testConfig(timeout)
	logger := zap.NewNop()
	engine := protocol.NewEngine(tr, protocol.NewFramer(nil, ""), cfg.EngineConfig(), logger)
	return NewControllerService(cfg, command.NewDefaultRegistry(logger), engine, monitor.NewMetrics("test"), logger)
}

func TestVersionScenario(t *testing.T) {
	tr := protocoltest.New().Reply("v2.2.0-build123\ndebug:~$")
	svc := newTestService(tr, time.Second)

	outcome, err := svc.ExecuteLine(context.Background(), "version")
	if err != nil {
		t.Fatalf("ExecuteLine() unexpected error: %v", err)
	}

	version, ok := outcome.Result.(*model.Version)
	if !ok {
		t.Fatalf("Result = %T, want *model.Version", outcome.Result)
	}
	if version.Version != "v2.2.0-build123" {
		t.Errorf("Version = %q, want v2.2.0-build123", version.Version)
	}
	if outcome.TransactionID != outcome.Raw.TransactionID {
		t.Errorf("outcome and raw transaction IDs differ")
	}
	if got := string(tr.Written()); got != "version\n" {
		t.Errorf("written = %q, want %q", got, "version\n")
	}
}

func TestPingScenario(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantPong bool
		wantErr  bool
	}{
		{name: "pong", reply: "pong\ndebug:~$", wantPong: true},
		{name: "prompt only", reply: "debug:~$", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(protocoltest.New().Reply(tt.reply), time.Second)

			outcome, err := svc.ExecuteLine(context.Background(), "ping")
			if err != nil {
				t.Fatalf("ExecuteLine() unexpected error: %v", err)
			}

			if tt.wantErr {
				if _, ok := outcome.Result.(*model.ProtocolError); !ok {
					t.Fatalf("Result = %T, want *model.ProtocolError", outcome.Result)
				}
				if !errors.Is(model.ResultError(outcome.Result), model.ErrProtocol) {
					t.Errorf("ResultError() does not wrap ErrProtocol")
				}
				return
			}

			ping, ok := outcome.Result.(*model.Ping)
			if !ok || ping.Pong != tt.wantPong {
				t.Errorf("Result = %#v, want Ping{%v}", outcome.Result, tt.wantPong)
			}
		})
	}
}

func TestBatteryReadScenario(t *testing.T) {
	reply := "📊 LTC2959 Measurements:\r\n" +
		"   🔋 Voltage: 3845 mV\r\n" +
		"   ⚡ Current: -125 mA\r\n" +
		"   🔋 Charge: 1520 mAh\r\n" +
		"   ⚡ Power: -480 mW\r\n" +
		"debug:~$ "
	tr := protocoltest.New().Reply(reply)
	svc := newTestService(tr, time.Second)

	outcome, err := svc.ExecuteLine(context.Background(), "battery read")
	if err != nil {
		t.Fatalf("ExecuteLine() unexpected error: %v", err)
	}
	if got := string(tr.Written()); got != "ltc2959 read\n" {
		t.Errorf("written = %q, want ltc2959 read", got)
	}

	m, ok := outcome.Result.(*model.Measurement)
	if !ok {
		t.Fatalf("Result = %T, want *model.Measurement", outcome.Result)
	}

	want := map[string]int64{
		"voltage_mv": 3845,
		"current_ma": -125,
		"charge_mah": 1520,
		"power_mw":   -480,
	}
	if len(m.Values) != len(want) {
		t.Errorf("got %d fields, want %d", len(m.Values), len(want))
	}
	for name, value := range want {
		q, ok := m.Get(name)
		if !ok {
			t.Errorf("missing field %s", name)
			continue
		}
		if q.Value != value {
			t.Errorf("%s = %d, want %d", name, q.Value, value)
		}
	}
}

func TestInvalidGpioScenario(t *testing.T) {
	tr := protocoltest.New()
	svc := newTestService(tr, time.Second)

	_, err := svc.ExecuteLine(context.Background(), "gpio set gpioa 99 1")
	if !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("ExecuteLine() error = %v, want ErrInvalidArgument", err)
	}

	var argErr *command.InvalidArgumentError
	if !errors.As(err, &argErr) || argErr.Arg != "99" {
		t.Errorf("error = %#v, want InvalidArgumentError for 99", err)
	}
	if n := len(tr.Written()); n != 0 {
		t.Errorf("%d bytes written, want 0", n)
	}
	if tr.Opens != 0 {
		t.Errorf("transport opened %d times, want 0", tr.Opens)
	}
}

func TestPowerTimeoutScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the full default deadline")
	}

	tr := protocoltest.New().Reply()
	svc := newTestService(tr, protocol.DefaultTimeout)

	started := time.Now()
	_, err := svc.ExecuteLine(context.Background(), "power pmic on")
	elapsed := time.Since(started)

	var timeoutErr *protocol.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("ExecuteLine() error = %v, want *TimeoutError", err)
	}
	if timeoutErr.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", timeoutErr.Timeout)
	}
	if elapsed < 3*time.Second {
		t.Errorf("returned after %v, before the deadline", elapsed)
	}
	if got := string(tr.Written()); got != "power pmic on\n" {
		t.Errorf("written = %q", got)
	}
}

func TestRailStatusReportsState(t *testing.T) {
	svc := newTestService(protocoltest.New().Reply("📊 PMIC: ON\ndebug:~$"), time.Second)

	outcome, err := svc.ExecuteLine(context.Background(), "power pmic status")
	if err != nil {
		t.Fatalf("ExecuteLine() unexpected error: %v", err)
	}
	info, ok := outcome.Result.(*model.Info)
	if !ok {
		t.Fatalf("Result = %#v, want *model.Info", outcome.Result)
	}
	if info.Values["pmic"] != "ON" {
		t.Errorf("pmic = %q, want ON", info.Values["pmic"])
	}
}

func TestControllerRefusal(t *testing.T) {
	svc := newTestService(protocoltest.New().Reply("❌ wrong parameter count\ndebug:~$"), time.Second)

	outcome, err := svc.ExecuteLine(context.Background(), "power wifi status")
	if err != nil {
		t.Fatalf("ExecuteLine() unexpected error: %v", err)
	}
	if !errors.Is(model.ResultError(outcome.Result), model.ErrController) {
		t.Errorf("Result = %#v, want refused Ack", outcome.Result)
	}
	if outcome.Succeeded() {
		t.Errorf("Succeeded() = true for a refused command")
	}
}

func TestDisruptiveCommandLinkDrop(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		script  func(*protocoltest.Transport)
		wantMsg string
	}{
		{
			name:    "board reset silence",
			line:    "board reset",
			script:  func(tr *protocoltest.Transport) { tr.Reply("Resetting board...\r\n") },
			wantMsg: command.ResetMessage,
		},
		{
			name: "reboot link lost",
			line: "system reboot",
			script: func(tr *protocoltest.Transport) {
				tr.Reply()
				tr.ReadErr = io.EOF
			},
			wantMsg: command.RebootMessage,
		},
		{
			name:    "deep sleep",
			line:    "power sleep 5000",
			script:  func(tr *protocoltest.Transport) { tr.Reply() },
			wantMsg: command.DeepSleepMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := protocoltest.New()
			tt.script(tr)
			svc := newTestService(tr, time.Second)

			outcome, err := svc.ExecuteLine(context.Background(), tt.line)
			if err != nil {
				t.Fatalf("ExecuteLine() unexpected error: %v", err)
			}
			ack, ok := outcome.Result.(*model.Ack)
			if !ok || !ack.Success || ack.Message != tt.wantMsg {
				t.Errorf("Result = %#v, want Ack{true, %q}", outcome.Result, tt.wantMsg)
			}
			if tr.IsOpen() {
				t.Errorf("transport still open after disruptive command")
			}
			if outcome.Duration > time.Second {
				t.Errorf("Duration = %v, want reset timeout", outcome.Duration)
			}
		})
	}
}

func TestConnectionErrorSurfaced(t *testing.T) {
	tr := protocoltest.New()
	tr.OpenErr = errors.New("no such file or directory")
	svc := newTestService(tr, time.Second)

	_, err := svc.ExecuteLine(context.Background(), "version")
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("ExecuteLine() error = %v, want ErrConnection", err)
	}
	if svc.Status().Connected {
		t.Errorf("Status().Connected = true after open failure")
	}
}

func TestStatusAndClose(t *testing.T) {
	tr := protocoltest.New().Reply("pong\ndebug:~$")
	svc := newTestService(tr, time.Second)

	if svc.Status().Connected {
		t.Fatalf("connected before the first command")
	}
	if _, err := svc.ExecuteLine(context.Background(), "ping"); err != nil {
		t.Fatalf("ExecuteLine() unexpected error: %v", err)
	}

	status := svc.Status()
	if !status.Connected || status.Busy || status.State != "idle" {
		t.Errorf("Status() = %+v", status)
	}
	if status.Device != "/dev/ttyTEST0" {
		t.Errorf("Device = %q", status.Device)
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if tr.IsOpen() || tr.Closes != 1 {
		t.Errorf("transport open=%v closes=%d after Close", tr.IsOpen(), tr.Closes)
	}
}

func TestBusyDisruptiveCommandKeepsLink(t *testing.T) {
	tr := protocoltest.New().Reply(
		"Voltage: 3845 mV\r\n",
		"Current: -125 mA\r\ndebug:~$ ",
	)
	tr.Gate = make(chan struct{})
	svc := newTestService(tr, 2*time.Second)

	type result struct {
		outcome *model.Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := svc.ExecuteLine(context.Background(), "battery read")
		done <- result{outcome, err}
	}()

	deadline := time.Now().Add(time.Second)
	for !svc.Status().Busy || len(tr.Writes()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("battery read never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, line := range []string{"board reset", "system reboot", "power sleep"} {
		if _, err := svc.ExecuteLine(context.Background(), line); !errors.Is(err, protocol.ErrBusy) {
			t.Fatalf("%s error = %v, want ErrBusy", line, err)
		}
		if !tr.IsOpen() {
			t.Fatalf("%s rejected as busy closed the link", line)
		}
	}

	close(tr.Gate)
	r := <-done
	if r.err != nil {
		t.Fatalf("in-flight battery read failed: %v", r.err)
	}
	if _, ok := r.outcome.Result.(*model.Measurement); !ok {
		t.Errorf("Result = %T, want *model.Measurement", r.outcome.Result)
	}
	if tr.Closes != 0 {
		t.Errorf("transport closed %d times", tr.Closes)
	}
	if got := tr.Writes(); len(got) != 1 || got[0] != "ltc2959 read\n" {
		t.Errorf("writes = %q, want only the battery read", got)
	}
}

func TestDisruptiveOpenFailureSurfaced(t *testing.T) {
	tr := protocoltest.New()
	tr.OpenErr = errors.New("no such file or directory")
	svc := newTestService(tr, time.Second)

	_, err := svc.ExecuteLine(context.Background(), "board reset")
	if !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("ExecuteLine() error = %v, want ErrConnection", err)
	}
}

func TestUnresolvedCommandsShareOneSeries(t *testing.T) {
	cfg := testConfig(time.Second)
	logger := zap.NewNop()
	tr := protocoltest.New()
	engine := protocol.NewEngine(tr, protocol.NewFramer(nil, ""), cfg.EngineConfig(), logger)
	metrics := monitor.NewMetrics("test")
	svc := NewControllerService(cfg, command.NewDefaultRegistry(logger), engine, metrics, logger)

	for i := 0; i < 50; i++ {
		line := fmt.Sprintf("warp drive %d", i)
		if _, err := svc.ExecuteLine(context.Background(), line); !errors.Is(err, protocol.ErrInvalidArgument) {
			t.Fatalf("%q error = %v, want ErrInvalidArgument", line, err)
		}
	}
	if _, err := svc.ExecuteLine(context.Background(), "gpio set gpioa 99 1"); err == nil {
		t.Fatal("out of range pin accepted")
	}

	if got := testutil.CollectAndCount(metrics.Transactions); got != 1 {
		t.Errorf("%d transaction series, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Transactions.WithLabelValues(monitor.UnknownCommand, monitor.StatusInvalid)); got != 51 {
		t.Errorf("unknown/invalid_argument = %v, want 51", got)
	}
	if len(tr.Writes()) != 0 {
		t.Errorf("unresolved commands reached the wire: %q", tr.Writes())
	}
}
