// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"eink-power-cli/internal/model"
	"eink-power-cli/internal/protocol"
)

// APIResponse represents standard API response structure
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents error information
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	apiError := &APIError{
		Code:    getErrorCode(statusCode),
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// ErrorResponseWithData sends an error response that still carries a payload,
// e.g. the envelope of a command the controller refused
func ErrorResponseWithData(c *gin.Context, statusCode int, message string, err error, data interface{}) {
	apiError := &APIError{
		Code:    getErrorCode(statusCode),
		Message: message,
	}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(statusCode, APIResponse{
		Success:   false,
		Message:   message,
		Data:      data,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

// CommandErrorResponse maps a controller error to its HTTP status and sends it
func CommandErrorResponse(c *gin.Context, err error) {
	status, message := StatusForError(err)
	ErrorResponse(c, status, message, err)
}

// StatusForError maps the controller error taxonomy onto HTTP statuses
func StatusForError(err error) (int, string) {
	switch {
	case errors.Is(err, protocol.ErrInvalidArgument):
		return http.StatusBadRequest, "Invalid command"
	case errors.Is(err, protocol.ErrBusy):
		return http.StatusConflict, "Controller busy"
	case errors.Is(err, protocol.ErrTimeout):
		return http.StatusGatewayTimeout, "Controller did not respond in time"
	case errors.Is(err, protocol.ErrConnection), errors.Is(err, protocol.ErrConnectionLost):
		return http.StatusServiceUnavailable, "Controller unavailable"
	case errors.Is(err, model.ErrProtocol), errors.Is(err, model.ErrController):
		return http.StatusBadGateway, "Controller returned an error"
	default:
		return http.StatusInternalServerError, "Command failed"
	}
}

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// getErrorCode returns error code based on HTTP status
func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "BAD_REQUEST"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONTROLLER_BUSY"
	case http.StatusInternalServerError:
		return "INTERNAL_SERVER_ERROR"
	case http.StatusBadGateway:
		return "CONTROLLER_ERROR"
	case http.StatusServiceUnavailable:
		return "CONTROLLER_UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "CONTROLLER_TIMEOUT"
	default:
		return "UNKNOWN_ERROR"
	}
}
