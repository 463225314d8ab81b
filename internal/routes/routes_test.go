package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"eink-power-cli/internal/command"
	"eink-power-cli/internal/config"
	"eink-power-cli/internal/handler"
	"eink-power-cli/internal/monitor"
	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/protocol/protocoltest"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

const batteryReply = "📊 LTC2959 Measurements:\r\n" +
	"   🔋 Voltage: 3845 mV\r\n" +
	"   ⚡ Current: -125 mA\r\n" +
	"debug:~$ "

func newTestRouter(t *testing.T, tr protocol.Transport, timeout time.Duration) (*Router, *service.ControllerService, http.Handler) {
	t.Helper()

	cfg := &config.Config{
		Serial: protocol.SerialConfig{Device: "/dev/ttyTEST0", Timeout: timeout},
		Protocol: config.ProtocolConfig{
			ResyncWindow: 20 * time.Millisecond,
			ResetTimeout: 100 * time.Millisecond,
		},
		Monitor: config.MonitorConfig{Command: "battery read", Interval: time.Second},
		Server:  config.ServerConfig{AllowedOrigins: []string{"*"}, Mode: "test"},
		Metrics: config.MetricsConfig{Enabled: true, Namespace: "test"},
		App:     config.AppConfig{Name: "eink-power-cli", Version: "test"},
	}

	logger := zap.NewNop()
	metrics := monitor.NewMetrics("test")
	engine := protocol.NewEngine(tr, protocol.NewFramer(nil, ""), cfg.EngineConfig(), logger)
	svc := service.NewControllerService(cfg, command.NewDefaultRegistry(logger), engine, metrics, logger)

	r := NewRouter(cfg, logger, svc, nil, metrics)
	engineHandler := r.SetupRouter()
	t.Cleanup(r.Close)
	return r, svc, engineHandler
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, utils.APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp utils.APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
		}
	}
	return rec, resp
}

func TestExecuteCommand(t *testing.T) {
	tests := []struct {
		name       string
		reply      []string
		body       any
		wantStatus int
		wantCode   string
		wantWrites int
	}{
		{
			name:       "battery read",
			reply:      []string{batteryReply},
			body:       map[string]string{"command": "battery read"},
			wantStatus: http.StatusOK,
			wantWrites: 1,
		},
		{
			name:       "invalid pin",
			body:       map[string]string{"command": "gpio set gpioa 99 1"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:       "unknown command",
			body:       map[string]string{"command": "flash erase"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:       "missing command",
			body:       map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:       "refused",
			reply:      []string{"❌ wrong parameter count\ndebug:~$"},
			body:       map[string]string{"command": "power wifi status"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "CONTROLLER_ERROR",
			wantWrites: 1,
		},
		{
			name:       "silent controller",
			reply:      []string{},
			body:       map[string]string{"command": "ping"},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "CONTROLLER_TIMEOUT",
			wantWrites: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := protocoltest.New()
			if tt.reply != nil {
				tr.Reply(tt.reply...)
			}
			_, _, h := newTestRouter(t, tr, 100*time.Millisecond)

			rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/commands", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d\n%s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.wantCode)
			}
			if got := len(tr.Writes()); got != tt.wantWrites {
				t.Errorf("%d writes, want %d", got, tt.wantWrites)
			}
			if resp.RequestID == "" {
				t.Error("response has no request_id")
			}
		})
	}
}

func TestExecuteCommandEnvelope(t *testing.T) {
	_, _, h := newTestRouter(t, protocoltest.New().Reply(batteryReply), time.Second)

	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/commands", map[string]string{"command": "battery read"})
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	env, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want object", resp.Data)
	}
	if env["command"] != "battery read" || env["status"] != "success" {
		t.Errorf("envelope = %v", env)
	}
	data := env["data"].(map[string]any)
	if data["voltage_mv"] != float64(3845) || data["current_ma"] != float64(-125) {
		t.Errorf("data = %v", data)
	}
	if raw, _ := env["raw_response"].(string); !strings.Contains(raw, "3845 mV") {
		t.Errorf("raw_response = %q", raw)
	}
}

func TestRefusedCommandCarriesEnvelope(t *testing.T) {
	_, _, h := newTestRouter(t, protocoltest.New().Reply("❌ wrong parameter count\ndebug:~$"), time.Second)

	_, resp := doJSON(t, h, http.MethodPost, "/api/v1/commands", map[string]string{"command": "power wifi status"})
	env, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T, want envelope", resp.Data)
	}
	if env["status"] != "error" {
		t.Errorf("envelope status = %v, want error", env["status"])
	}
}

func TestBusyController(t *testing.T) {
	tr := protocoltest.New().Reply(batteryReply)
	tr.Gate = make(chan struct{})
	_, svc, h := newTestRouter(t, tr, 2*time.Second)

	done := make(chan int, 1)
	go func() {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/commands", map[string]string{"command": "battery read"})
		done <- rec.Code
	}()

	deadline := time.Now().Add(time.Second)
	for !svc.Status().Busy {
		if time.Now().After(deadline) {
			t.Fatal("first request never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/commands", map[string]string{"command": "ping"})
	if rec.Code != http.StatusConflict || resp.Error == nil || resp.Error.Code != "CONTROLLER_BUSY" {
		t.Errorf("second request status = %d, error = %+v, want 409 CONTROLLER_BUSY", rec.Code, resp.Error)
	}

	close(tr.Gate)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first request status = %d, want 200", code)
	}
}

func TestListCommands(t *testing.T) {
	_, _, h := newTestRouter(t, protocoltest.New(), time.Second)

	rec, resp := doJSON(t, h, http.MethodGet, "/api/v1/commands", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	data := resp.Data.(map[string]any)
	commands := data["commands"].([]any)
	if int(data["count"].(float64)) != len(commands) || len(commands) == 0 {
		t.Fatalf("count = %v, commands = %d", data["count"], len(commands))
	}

	paths := make(map[string]bool)
	for _, c := range commands {
		paths[c.(map[string]any)["path"].(string)] = true
	}
	for _, want := range []string{"version", "battery read", "board reset", "gpio set"} {
		if !paths[want] {
			t.Errorf("command list is missing %q", want)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	tr := protocoltest.New()
	_, _, h := newTestRouter(t, tr, time.Second)

	for _, path := range []string{"/health", "/ready", "/live"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health handler.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Checks["controller"].Data["device"] != "/dev/ttyTEST0" {
		t.Errorf("controller check = %+v", health.Checks["controller"])
	}
	if len(tr.Writes()) != 0 || tr.Opens != 0 {
		t.Error("health check touched the controller")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, h := newTestRouter(t, protocoltest.New().Reply("pong\ndebug:~$"), time.Second)
	doJSON(t, h, http.MethodPost, "/api/v1/commands", map[string]string{"command": "ping"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_transactions_total{command="ping",status="success"} 1`) {
		t.Errorf("metrics output is missing the ping transaction:\n%s", rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	_, _, h := newTestRouter(t, protocoltest.New(), time.Second)

	const id = "3f0c9a3e-5b1e-4a43-9a57-6f1f3e0d2b11"
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != id {
		t.Errorf("X-Request-ID = %q, want %q", got, id)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/live", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "" || got == "not-a-uuid" {
		t.Errorf("X-Request-ID = %q, want a fresh UUID", got)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) handler.WebSocketMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg handler.WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	return msg
}

func TestMonitorWebSocket(t *testing.T) {
	tr := protocoltest.New().Reply(batteryReply).Reply(batteryReply)
	_, _, h := newTestRouter(t, tr, time.Second)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor?command=battery+read&interval=20ms&count=2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		msg := readMessage(t, conn)
		if msg.Type != "reading" {
			t.Fatalf("message %d type = %q, want reading", i, msg.Type)
		}
		env := msg.Data.(map[string]any)
		if env["status"] != "success" || env["command"] != "battery read" {
			t.Errorf("reading %d = %v", i, env)
		}
	}
	if msg := readMessage(t, conn); msg.Type != "monitor_finished" {
		t.Errorf("final message type = %q, want monitor_finished", msg.Type)
	}
	if got := len(tr.Writes()); got != 2 {
		t.Errorf("%d writes, want 2", got)
	}
}

func TestMonitorWebSocketRejectsBadOptions(t *testing.T) {
	_, _, h := newTestRouter(t, protocoltest.New(), time.Second)

	for _, query := range []string{
		"?interval=soon",
		"?interval=0s",
		"?count=-1",
		"?command=board+reset",
		"?command=flash+erase",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/monitor"+query, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET /ws/monitor%s = %d, want 400", query, rec.Code)
		}
	}
}

func TestEventWebSocket(t *testing.T) {
	r, _, h := newTestRouter(t, protocoltest.New().Reply("pong\ndebug:~$"), time.Second)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/events", nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for r.wsHandler.GetConnectionStats().ByType[handler.ClientTypeEvents] == 0 {
		if ctx.Err() != nil {
			t.Fatal("event client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	doJSON(t, h, http.MethodPost, "/api/v1/commands", map[string]string{"command": "ping"})

	msg := readMessage(t, conn)
	if msg.Type != handler.EventCommandCompleted {
		t.Fatalf("event type = %q, want %s", msg.Type, handler.EventCommandCompleted)
	}
	if env := msg.Data.(map[string]any); env["command"] != "ping" {
		t.Errorf("event envelope = %v", env)
	}
}
