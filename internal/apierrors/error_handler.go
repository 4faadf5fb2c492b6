// Package apierrors maps supervisor errors to HTTP responses.
package apierrors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/Josh-XT/AGiXT-sub003/internal/supervisor"
	"go.uber.org/zap"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"

	// Supervisor errors
	ErrorCodePlatformNotFound    ErrorCode = "PLATFORM_NOT_FOUND"
	ErrorCodeWorkerNotFound      ErrorCode = "WORKER_NOT_FOUND"
	ErrorCodeWorkerNotRunning    ErrorCode = "WORKER_NOT_RUNNING"
	ErrorCodeTenantNotConfigured ErrorCode = "TENANT_NOT_CONFIGURED"
	ErrorCodeConfiguration       ErrorCode = "CONFIGURATION_ERROR"
	ErrorCodeStartFailed         ErrorCode = "START_FAILED"

	// Auth errors
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrorCodeForbidden    ErrorCode = "FORBIDDEN"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler writes error responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError classifies err and writes the matching response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorCode := Classify(err)
	h.WriteErrorResponse(w, statusCode, errorCode, err.Error(), r.Header.Get("X-Request-ID"))
}

// Classify maps an error to an HTTP status and error code.
func Classify(err error) (int, ErrorCode) {
	var (
		cfgErr   *model.ConfigurationError
		startErr *model.StartError
	)

	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, supervisor.ErrUnknownPlatform):
		return http.StatusNotFound, ErrorCodePlatformNotFound
	case errors.Is(err, model.ErrWorkerNotFound):
		return http.StatusNotFound, ErrorCodeWorkerNotFound
	case errors.Is(err, model.ErrTenantNotConfigured):
		return http.StatusNotFound, ErrorCodeTenantNotConfigured
	case errors.Is(err, model.ErrWorkerNotRunning):
		return http.StatusConflict, ErrorCodeWorkerNotRunning
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden, ErrorCodeForbidden
	case errors.Is(err, supervisor.ErrShuttingDown):
		return http.StatusServiceUnavailable, ErrorCodeServiceDown
	case errors.Is(err, model.ErrShutdownTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorCodeTimeout
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity, ErrorCodeConfiguration
	case errors.As(err, &startErr):
		return http.StatusBadGateway, ErrorCodeStartFailed
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}
