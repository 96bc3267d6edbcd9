package utils

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("api")

type APIResponse struct {
	Success   bool        `json:"success"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Errors    interface{} `json:"errors,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Timestamp string      `json:"timestamp"`
}

func traceID(c *gin.Context) string {
	return c.GetString("trace_id")
}

func RespondSuccess(c *gin.Context, data interface{}, message string) {
	RespondSuccessWithStatus(c, http.StatusOK, data, message)
}

func RespondSuccessWithStatus(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		TraceID:   traceID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func RespondError(c *gin.Context, status int, message string) {
	RespondErrorWithCode(c, status, codeForStatus(status), message, nil)
}

func RespondErrorWithCode(c *gin.Context, status int, code, message string, errs interface{}) {
	c.JSON(status, APIResponse{
		Success:   false,
		Code:      code,
		Message:   message,
		Errors:    errs,
		TraceID:   traceID(c),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// HandleServiceError maps the service error taxonomy to a stable code and HTTP status.
func HandleServiceError(c *gin.Context, err error) {
	var (
		validationErr *ValidationError
		transitionErr *StateTransitionError
		gatewayErr    *GatewayError
	)

	switch {
	case errors.As(err, &validationErr):
		RespondErrorWithCode(c, http.StatusBadRequest, "validation_error", validationErr.Message,
			map[string]string{validationErr.Field: validationErr.Message})
	case errors.As(err, &transitionErr):
		RespondErrorWithCode(c, http.StatusConflict, "invalid_transition", transitionErr.Error(),
			gin.H{"reason": transitionErr.Reason, "from": transitionErr.From, "action": transitionErr.Action})
	case errors.As(err, &gatewayErr):
		log.Warnw("gateway failure", "reference", gatewayErr.Reference, "op", gatewayErr.Op, "err", err)
		RespondErrorWithCode(c, http.StatusBadGateway, "gateway_error", "Payment provider failure, retry scheduled",
			gin.H{"reference": gatewayErr.Reference, "terminal": gatewayErr.Terminal})
	case errors.Is(err, ErrConcurrencyConflict):
		RespondErrorWithCode(c, http.StatusConflict, "concurrency_conflict", "Already processed, refresh and retry", nil)
	case errors.Is(err, ErrSettlementPending):
		RespondErrorWithCode(c, http.StatusAccepted, "settlement_pending", "Waiting for payment provider confirmation", nil)
	case errors.Is(err, ErrInsufficientEscrow):
		RespondErrorWithCode(c, http.StatusConflict, "insufficient_escrow", "Escrow balance is insufficient", nil)
	case errors.Is(err, ErrNotFound):
		RespondErrorWithCode(c, http.StatusNotFound, "not_found", "Resource not found", nil)
	case errors.Is(err, ErrForbidden):
		RespondErrorWithCode(c, http.StatusForbidden, "forbidden", "Forbidden: insufficient permissions", nil)
	case errors.Is(err, ErrKYCRequired):
		RespondErrorWithCode(c, http.StatusForbidden, "kyc_required", "Verified identity required", nil)
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		RespondErrorWithCode(c, http.StatusUnauthorized, "unauthorized", "Invalid credentials", nil)
	case errors.Is(err, ErrEmailAlreadyExists):
		RespondErrorWithCode(c, http.StatusConflict, "already_exists", "Email or phone already registered", nil)
	case errors.Is(err, ErrInvalidResetToken):
		RespondErrorWithCode(c, http.StatusBadRequest, "invalid_token", "Reset link is invalid or has expired", nil)
	case errors.Is(err, ErrInvalidPage):
		RespondErrorWithCode(c, http.StatusBadRequest, "validation_error", "Page must be greater than 0", nil)
	case errors.Is(err, ErrInvalidPageSize):
		RespondErrorWithCode(c, http.StatusBadRequest, "validation_error", "Page size must be between 1 and 100", nil)
	default:
		log.Errorw("unhandled service error", "trace_id", traceID(c), "err", err)
		RespondErrorWithCode(c, http.StatusInternalServerError, "internal_error", "Internal server error", nil)
	}
}
