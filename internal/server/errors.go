package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/portalmeter/portalmeter/internal/credit/domain"
	gatewaydomain "github.com/portalmeter/portalmeter/internal/gateway/domain"
	quotadomain "github.com/portalmeter/portalmeter/internal/quota/domain"
	"github.com/portalmeter/portalmeter/internal/ratelimit"
	"github.com/portalmeter/portalmeter/internal/scheduler"
	tenantdomain "github.com/portalmeter/portalmeter/internal/tenant/domain"
	usagedomain "github.com/portalmeter/portalmeter/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, quotadomain.ErrAlreadyBlocked),
		errors.Is(err, quotadomain.ErrNotBlocked):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: err.Error(),
		}
	case gatewaydomain.IsGatewayError(err):
		// Router details (host, credentials context) stay in the logs.
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "could not reach device",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, tenantdomain.ErrInvalidTenant),
		errors.Is(err, tenantdomain.ErrInvalidClass),
		errors.Is(err, usagedomain.ErrInvalidSample),
		errors.Is(err, usagedomain.ErrInvalidUsername),
		errors.Is(err, usagedomain.ErrInvalidTenant),
		errors.Is(err, creditdomain.ErrInvalidDay),
		errors.Is(err, creditdomain.ErrInvalidUsername),
		errors.Is(err, quotadomain.ErrInvalidUsername),
		errors.Is(err, scheduler.ErrUnknownJob):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, tenantdomain.ErrClassNotFound),
		errors.Is(err, tenantdomain.ErrNoActiveClass),
		errors.Is(err, gatewaydomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog keeps request-log labels aligned with the response
// the client saw.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return payload.Type, "5xx"
	case status >= http.StatusBadRequest:
		return payload.Type, "4xx"
	default:
		return payload.Type, ""
	}
}
