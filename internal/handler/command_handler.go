// internal/handler/command_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eink-power-cli/internal/format"
	"eink-power-cli/internal/model"
	"eink-power-cli/internal/service"
	"eink-power-cli/internal/utils"
)

// CommandHandler runs registry commands over HTTP
type CommandHandler struct {
	service  *service.ControllerService
	eventBus *EventBus
	logger   *utils.ServiceLogger
}

// CommandRequest is the body of POST /api/v1/commands
type CommandRequest struct {
	Command string `json:"command" binding:"required" example:"battery read"`
}

// NewCommandHandler creates a new command handler. eventBus may be nil.
func NewCommandHandler(controllerService *service.ControllerService, eventBus *EventBus, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		service:  controllerService,
		eventBus: eventBus,
		logger:   utils.NewServiceLogger(logger, "command-handler"),
	}
}

// RegisterRoutes registers command routes
func (h *CommandHandler) RegisterRoutes(router *gin.RouterGroup) {
	commands := router.Group("/commands")
	{
		commands.GET("", h.ListCommands)
		commands.POST("", h.ExecuteCommand)
	}
	router.GET("/status", h.GetStatus)
}

// ListCommands lists every command the bridge accepts
// @Summary List commands
// @Tags Commands
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{count=int,commands=[]command.Spec}} "Command list"
// @Router /commands [get]
func (h *CommandHandler) ListCommands(c *gin.Context) {
	specs := h.service.Registry().List()
	utils.SuccessResponse(c, http.StatusOK, "Commands retrieved", gin.H{
		"count":    len(specs),
		"commands": specs,
	})
}

// ExecuteCommand runs one command and returns its envelope
// @Summary Execute command
// @Description Run one registry command on the controller. Only one transaction runs at a time; a concurrent request gets 409.
// @Tags Commands
// @Accept json
// @Produce json
// @Param request body CommandRequest true "Command line"
// @Success 200 {object} utils.APIResponse{data=format.Envelope} "Command succeeded"
// @Failure 400 {object} utils.APIResponse "Invalid command"
// @Failure 409 {object} utils.APIResponse "Controller busy"
// @Failure 502 {object} utils.APIResponse{data=format.Envelope} "Controller refused the command or replied malformed"
// @Failure 503 {object} utils.APIResponse "Controller unavailable"
// @Failure 504 {object} utils.APIResponse "Controller did not respond in time"
// @Router /commands [post]
func (h *CommandHandler) ExecuteCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	outcome, err := h.service.ExecuteLine(c.Request.Context(), req.Command)
	if err != nil {
		h.logger.Warn("Command failed",
			zap.String("command", req.Command),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		h.publish(EventCommandFailed, format.ErrorEnvelope(req.Command, err))
		utils.CommandErrorResponse(c, err)
		return
	}

	env := format.NewEnvelope(outcome)
	if rerr := model.ResultError(outcome.Result); rerr != nil {
		h.publish(EventCommandFailed, env)
		status, message := utils.StatusForError(rerr)
		utils.ErrorResponseWithData(c, status, message, rerr, env)
		return
	}

	h.publish(EventCommandCompleted, env)
	utils.SuccessResponse(c, http.StatusOK, "Command executed", env)
}

// GetStatus returns the link snapshot
// @Summary Controller link status
// @Tags Commands
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.ControllerStatus} "Link status"
// @Router /status [get]
func (h *CommandHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Controller status", h.service.Status())
}

func (h *CommandHandler) publish(eventType string, env *format.Envelope) {
	if h.eventBus == nil {
		return
	}
	h.eventBus.Publish(Event{Type: eventType, Source: "api", Envelope: env})
}
