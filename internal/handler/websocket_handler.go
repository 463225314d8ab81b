// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/format"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler streams monitor readings and command events
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	service     *service.ControllerService
	defaults    config.MonitorConfig
	logger      *utils.ServiceLogger
	eventBus    *EventBus
}

// NewWebSocketHandler creates a new WebSocket handler. Events published on
// eventBus are forwarded to /ws/events clients.
func NewWebSocketHandler(
	controllerService *service.ControllerService,
	cfg *config.Config,
	eventBus *EventBus,
	logger *zap.Logger,
) *WebSocketHandler {
	allowed := make(map[string]bool)
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}

	h := &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
		connections: NewConnectionManager(),
		service:     controllerService,
		defaults:    cfg.Monitor,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
		eventBus:    eventBus,
	}

	go h.forwardEvents(eventBus.Subscribe(EventCommandCompleted))
	go h.forwardEvents(eventBus.Subscribe(EventCommandFailed))

	return h
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/monitor", h.HandleMonitorConnection)
	router.GET("/events", h.HandleEventConnection)
}

// HandleMonitorConnection streams readings of one command
// @Summary Monitor stream
// @Description Upgrade to WebSocket and receive one reading envelope per interval
// @Tags Monitor
// @Param command query string false "Command to monitor" default(battery read)
// @Param interval query string false "Reading interval" default(30s)
// @Param count query int false "Stop after this many readings, 0 runs until the client leaves"
// @Success 101 {object} WebSocketMessage "Switching protocols"
// @Failure 400 {object} utils.APIResponse "Invalid monitor options"
// @Router /ws/monitor [get]
func (h *WebSocketHandler) HandleMonitorConnection(c *gin.Context) {
	opts, err := h.monitorOptions(c)
	if err != nil {
		utils.CommandErrorResponse(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 64),
		Type:        ClientTypeMonitor,
		Command:     opts.Command,
		Interval:    opts.Interval.String(),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		cancel:      cancel,
	}

	h.connections.Register(client)
	h.logger.Info("Monitor WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("command", opts.Command),
		zap.Duration("interval", opts.Interval),
		zap.String("remote_addr", client.RemoteAddr),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
	go h.runMonitor(ctx, client, opts)
}

// HandleEventConnection streams the envelope of every command run through the API
// @Summary Command event stream
// @Description Upgrade to WebSocket and receive command_completed and command_failed events
// @Tags Monitor
// @Success 101 {object} WebSocketMessage "Switching protocols"
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        ClientTypeEvents,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected", zap.String("client_id", client.ID))

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

func (h *WebSocketHandler) monitorOptions(c *gin.Context) (service.MonitorOptions, error) {
	opts := service.MonitorOptions{
		Command:  c.DefaultQuery("command", h.defaults.Command),
		Interval: h.defaults.Interval,
	}

	if v := c.Query("interval"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return opts, fmt.Errorf("%w: interval %q is not a duration", protocol.ErrInvalidArgument, v)
		}
		opts.Interval = interval
	}
	if opts.Interval <= 0 {
		return opts, fmt.Errorf("%w: monitor interval must be positive", protocol.ErrInvalidArgument)
	}

	if v := c.Query("count"); v != "" {
		count, err := strconv.Atoi(v)
		if err != nil || count < 0 {
			return opts, fmt.Errorf("%w: count %q must be a non-negative integer", protocol.ErrInvalidArgument, v)
		}
		opts.Count = count
	}

	cmd, err := h.service.Registry().ResolveLine(opts.Command)
	if err != nil {
		return opts, err
	}
	if cmd.Disruptive {
		return opts, fmt.Errorf("%w: %q cannot be monitored", protocol.ErrInvalidArgument, cmd.Name)
	}
	return opts, nil
}

// runMonitor owns the client's lifetime: it unregisters the client when the
// monitor ends, which closes the socket.
func (h *WebSocketHandler) runMonitor(ctx context.Context, client *Client, opts service.MonitorOptions) {
	defer h.connections.Unregister(client)

	err := h.service.Monitor(ctx, opts, func(outcome *model.Outcome, err error) error {
		var env *format.Envelope
		if err != nil {
			env = format.ErrorEnvelope(opts.Command, err)
		} else {
			env = format.NewEnvelope(outcome)
		}
		h.sendMessage(client, &WebSocketMessage{Type: "reading", Data: env, Timestamp: time.Now()})
		return nil
	})
	if err != nil {
		h.sendError(client, err.Error())
		return
	}

	if ctx.Err() == nil {
		h.sendMessage(client, &WebSocketMessage{
			Type:      "monitor_finished",
			Data:      map[string]interface{}{"command": opts.Command, "count": opts.Count},
			Timestamp: time.Now(),
		})
	}
	h.logger.Info("Monitor WebSocket client finished", zap.String("client_id", client.ID))
}

// handleClientRead consumes control frames until the client goes away
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer h.connections.Unregister(client)

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Debug("Ignoring malformed WebSocket message", zap.String("client_id", client.ID))
			continue
		}

		switch message.Type {
		case "ping":
			h.sendMessage(client, &WebSocketMessage{Type: "pong", Timestamp: time.Now()})
		case "stop":
			return
		default:
			h.sendError(client, fmt.Sprintf("unknown message type: %s", message.Type))
		}
	}
}

// handleClientWrite drains the client's Send queue and keeps the link alive with pings
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardEvents relays bus events to event clients until the bus stops
func (h *WebSocketHandler) forwardEvents(events <-chan Event) {
	for event := range events {
		messageBytes, err := json.Marshal(&WebSocketMessage{
			Type:      event.Type,
			Data:      event.Envelope,
			Timestamp: event.Timestamp,
		})
		if err != nil {
			h.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}
		h.connections.Broadcast(ClientTypeEvents, messageBytes)
	}
}

func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Debug("Message not delivered",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// Close disconnects every client
func (h *WebSocketHandler) Close() {
	h.connections.CloseAll()
}
