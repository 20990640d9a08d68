package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

// ErrorResponse is the JSON body of every failed API request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	Category      string `json:"category,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// statusFor maps an error category to an HTTP status.
func statusFor(err error) int {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	switch category(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryDetectionPending:
		return http.StatusConflict
	case errors.CategoryMalformedEntity:
		return http.StatusUnprocessableEntity
	case errors.CategoryMediaTransfer, errors.CategoryTextService, errors.CategoryImageFetch:
		return http.StatusBadGateway
	case errors.CategoryConfiguration:
		return http.StatusServiceUnavailable
	case errors.CategoryTimeout, errors.CategoryCancellation:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func category(err error) errors.ErrorCategory {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ""
}

// handleError logs err and writes an ErrorResponse with the mapped status.
func (s *Server) handleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		Category:      string(category(err)),
		CorrelationID: uuid.NewString()[:8],
	}

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Error(err),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
	}
	if code >= http.StatusInternalServerError {
		s.log.Error("API error", fields...)
	} else {
		s.log.Debug("API error", fields...)
	}

	return c.JSON(code, resp)
}

// badRequest wraps a request decoding problem as a validation error.
func badRequest(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("api").
		Category(errors.CategoryValidation).
		Build()
}

// intParam parses a non-negative integer path parameter.
func intParam(c echo.Context, name string) (int, error) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v < 0 {
		return 0, badRequest("invalid %s index %q", name, c.Param(name))
	}
	return v, nil
}
