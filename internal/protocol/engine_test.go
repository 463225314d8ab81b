package protocol_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/protocol/protocoltest"
)

func newTestEngine(tr protocol.Transport, timeout time.Duration) *protocol.Engine {
	return protocol.NewEngine(tr, protocol.NewFramer(nil, ""), protocol.EngineConfig{
		Timeout:      timeout,
		ResyncWindow: 100 * time.Millisecond,
	}, zap.NewNop())
}

func TestEngineExecute(t *testing.T) {
	tests := []struct {
		name      string
		wire      string
		reply     []string
		wantLines []string
	}{
		{
			name:      "version",
			wire:      "version",
			reply:     []string{"v2.2.0-build123\ndebug:~$"},
			wantLines: []string{"v2.2.0-build123"},
		},
		{
			name:      "echo dropped",
			wire:      "ping",
			reply:     []string{"ping\r\n", "pong\r\n", "debug:~$ "},
			wantLines: []string{"pong"},
		},
		{
			name:      "prompt prefixed echo dropped",
			wire:      "ltc2959 read",
			reply:     []string{"debug:~$ ltc2959 read\r\n📊 LTC2959 Measurements:\r\n   🔋 Voltage: 3850 mV\r\ndebug:~$ "},
			wantLines: []string{"📊 LTC2959 Measurements:", "   🔋 Voltage: 3850 mV"},
		},
		{
			name:      "empty reply",
			wire:      "ping",
			reply:     []string{"debug:~$"},
			wantLines: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := protocoltest.New().Reply(tt.reply...)
			engine := newTestEngine(tr, time.Second)

			raw, err := engine.Execute(context.Background(), tt.wire, 0)
			if err != nil {
				t.Fatalf("Execute() unexpected error: %v", err)
			}

			if strings.Join(raw.Lines, "|") != strings.Join(tt.wantLines, "|") || len(raw.Lines) != len(tt.wantLines) {
				t.Errorf("Execute() lines = %q, want %q", raw.Lines, tt.wantLines)
			}
			if raw.Wire != tt.wire {
				t.Errorf("Execute() wire = %q, want %q", raw.Wire, tt.wire)
			}
			if string(tr.Written()) != tt.wire+"\n" {
				t.Errorf("written = %q, want %q", tr.Written(), tt.wire+"\n")
			}
			if engine.State() != protocol.StateIdle {
				t.Errorf("State() = %v after completion, want idle", engine.State())
			}
		})
	}
}

func TestEngineDrainsStrayInput(t *testing.T) {
	tr := protocoltest.New()
	tr.Stray("unsolicited log line\r\ndebug:~$ ")
	tr.Reply("pong\ndebug:~$")

	engine := protocol.NewEngine(tr, nil, protocol.EngineConfig{
		Timeout:     time.Second,
		DrainWindow: 30 * time.Millisecond,
	}, zap.NewNop())

	raw, err := engine.Execute(context.Background(), "ping", 0)
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}
	if len(raw.Lines) != 1 || raw.Lines[0] != "pong" {
		t.Errorf("Execute() lines = %q, want [pong]", raw.Lines)
	}
}

func TestEngineBusy(t *testing.T) {
	gate := make(chan struct{})
	tr := protocoltest.New().Reply("pong\ndebug:~$")
	tr.Gate = gate
	engine := newTestEngine(tr, 2*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Execute(context.Background(), "ping", 0)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !engine.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("first transaction never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := engine.Execute(context.Background(), "version", 0)
	if !errors.Is(err, protocol.ErrBusy) {
		t.Fatalf("second Execute() error = %v, want ErrBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first Execute() unexpected error: %v", err)
	}

	writes := tr.Writes()
	if len(writes) != 1 || writes[0] != "ping\n" {
		t.Errorf("writes = %q, want only the first command", writes)
	}
}

func TestEngineTimeout(t *testing.T) {
	const timeout = 200 * time.Millisecond

	tests := []struct {
		name        string
		reply       []string
		wantPartial []string
	}{
		{name: "silent device", reply: nil, wantPartial: nil},
		{name: "partial reply", reply: []string{"Voltage: 3850 mV\nCurr"}, wantPartial: []string{"Voltage: 3850 mV", "Curr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := protocoltest.New().Reply(tt.reply...)
			engine := newTestEngine(tr, timeout)

			start := time.Now()
			_, err := engine.Execute(context.Background(), "power pmic on", 0)
			elapsed := time.Since(start)

			var timeoutErr *protocol.TimeoutError
			if !errors.As(err, &timeoutErr) {
				t.Fatalf("Execute() error = %v, want *TimeoutError", err)
			}
			if !errors.Is(err, protocol.ErrTimeout) {
				t.Error("TimeoutError does not match ErrTimeout")
			}
			if elapsed < timeout {
				t.Errorf("timed out after %v, before the %v deadline", elapsed, timeout)
			}
			if elapsed > timeout+300*time.Millisecond {
				t.Errorf("timed out after %v, too long past the %v deadline", elapsed, timeout)
			}
			if strings.Join(timeoutErr.Partial, "|") != strings.Join(tt.wantPartial, "|") {
				t.Errorf("Partial = %q, want %q", timeoutErr.Partial, tt.wantPartial)
			}
			if !tr.IsOpen() {
				t.Error("transport closed after a timeout")
			}
			if engine.State() != protocol.StateIdle {
				t.Errorf("State() = %v, want idle", engine.State())
			}
		})
	}
}

func TestEngineResyncAfterTimeout(t *testing.T) {
	tr := protocoltest.New().Reply()
	engine := newTestEngine(tr, 100*time.Millisecond)

	if _, err := engine.Execute(context.Background(), "system info", 0); !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("first Execute() error = %v, want timeout", err)
	}

	// Late tail of the first reply arrives before the next command
	tr.Stray("Board: E-ink Power\r\ndebug:~$ ")
	tr.Reply("pong\r\ndebug:~$ ")

	raw, err := engine.Execute(context.Background(), "ping", 0)
	if err != nil {
		t.Fatalf("second Execute() unexpected error: %v", err)
	}
	if len(raw.Lines) != 1 || raw.Lines[0] != "pong" {
		t.Errorf("second Execute() lines = %q, want [pong]", raw.Lines)
	}
}

func TestEngineConnectionLost(t *testing.T) {
	tr := protocoltest.New()
	tr.ReadErr = io.EOF
	engine := newTestEngine(tr, time.Second)

	_, err := engine.Execute(context.Background(), "ping", 0)

	var lost *protocol.ConnectionLostError
	if !errors.As(err, &lost) {
		t.Fatalf("Execute() error = %v, want *ConnectionLostError", err)
	}
	if !errors.Is(err, protocol.ErrConnectionLost) {
		t.Error("error does not match ErrConnectionLost")
	}
	if tr.IsOpen() {
		t.Error("transport left open after connection loss")
	}

	tr.ReadErr = nil
	tr.Reply("pong\ndebug:~$")
	if _, err := engine.Execute(context.Background(), "ping", 0); err != nil {
		t.Fatalf("Execute() after reconnect unexpected error: %v", err)
	}
	if tr.Opens != 2 {
		t.Errorf("Opens = %d, want 2", tr.Opens)
	}
}

func TestEngineIOErrorKeepsConnection(t *testing.T) {
	tr := protocoltest.New()
	tr.WriteErr = errors.New("resource temporarily unavailable")
	engine := newTestEngine(tr, time.Second)

	_, err := engine.Execute(context.Background(), "ping", 0)
	if err == nil {
		t.Fatal("Execute() expected error")
	}
	if errors.Is(err, protocol.ErrConnectionLost) {
		t.Errorf("Execute() error = %v, should not be a connection loss", err)
	}
	if !tr.IsOpen() {
		t.Error("transport closed after a non-fatal I/O error")
	}
}

func TestEngineCancellationClosesTransport(t *testing.T) {
	tr := protocoltest.New().Reply()
	engine := newTestEngine(tr, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := engine.Execute(ctx, "battery read", 0)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if tr.IsOpen() {
		t.Error("transport left open after cancellation")
	}
}

func TestEngineRejectsBeforeIO(t *testing.T) {
	tr := protocoltest.New()
	engine := newTestEngine(tr, time.Second)

	_, err := engine.Execute(context.Background(), "gpio set\ngpioa", 0)
	if !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Fatalf("Execute() error = %v, want ErrInvalidArgument", err)
	}
	if tr.Opens != 0 || len(tr.Written()) != 0 {
		t.Errorf("transport touched: opens=%d written=%q", tr.Opens, tr.Written())
	}
}

func TestEngineOpenFailure(t *testing.T) {
	tr := protocoltest.New()
	tr.OpenErr = errors.New("no such file or directory")
	engine := newTestEngine(tr, time.Second)

	_, err := engine.Execute(context.Background(), "version", 0)

	var connErr *protocol.ConnectionError
	if !errors.As(err, &connErr) || !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("Execute() error = %v, want *ConnectionError", err)
	}
}
