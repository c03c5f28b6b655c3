package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/karma/internal/apperror"
	"github.com/smallbiznis/karma/internal/ratelimit"
	"github.com/smallbiznis/karma/pkg/db/pagination"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrInvalidRequest     = apperror.Validation("invalid_request")
	ErrNotFound           = apperror.NotFound("not_found")
	ErrThrottled          = apperror.Resource("too_many_requests")
)

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
	return ErrInvalidRequest
}

func newValidationError(field, code string) error {
	return apperror.With(apperror.Validation(code), "field", field)
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, internalPayload()
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Code:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return http.StatusBadRequest, errorPayload{
			Type:    string(apperror.KindValidation),
			Code:    "invalid_page_token",
			Message: "invalid page token",
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    string(apperror.KindNotFound),
			Code:    "not_found",
			Message: "not found",
		}
	}

	kind := apperror.KindOf(err)
	if kind == apperror.KindInternal && apperror.CodeOf(err) == "internal_error" {
		return http.StatusInternalServerError, internalPayload()
	}

	code := apperror.CodeOf(err)
	return statusForKind(kind, err), errorPayload{
		Type:    string(kind),
		Code:    code,
		Message: strings.ReplaceAll(code, "_", " "),
		Fields:  apperror.FieldsOf(err),
	}
}

func statusForKind(kind apperror.Kind, err error) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindAuthorization:
		return http.StatusForbidden
	case apperror.KindStateConflict:
		return http.StatusConflict
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindResource:
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) || errors.Is(err, ErrThrottled) {
			return http.StatusTooManyRequests
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func internalPayload() errorPayload {
	return errorPayload{
		Type:    string(apperror.KindInternal),
		Code:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog returns the error kind and code without any field values.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
