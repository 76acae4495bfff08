package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/domain"
	"example.com/backstage/services/provenance/handlers"
	"example.com/backstage/services/provenance/internal/analyzer"
	"example.com/backstage/services/provenance/internal/auth"
	"example.com/backstage/services/provenance/internal/objectstore"
	"example.com/backstage/services/provenance/utils"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Error represents an API error
type Error struct {
	Message    string
	StatusCode int
	Code       string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Common API errors
var (
	ErrInvalidRequest     = &Error{Message: "Invalid request", StatusCode: http.StatusBadRequest, Code: "INVALID_REQUEST"}
	ErrValidation         = &Error{Message: "Validation error", StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR"}
	ErrUnauthorized       = &Error{Message: "Unauthorized", StatusCode: http.StatusUnauthorized, Code: "UNAUTHORIZED"}
	ErrForbidden          = &Error{Message: "Forbidden", StatusCode: http.StatusForbidden, Code: "FORBIDDEN"}
	ErrBatchNotFound      = &Error{Message: "Batch not found", StatusCode: http.StatusNotFound, Code: "BATCH_NOT_FOUND"}
	ErrBatchExists        = &Error{Message: "A batch with this id already exists", StatusCode: http.StatusConflict, Code: "BATCH_EXISTS"}
	ErrHashMismatch       = &Error{Message: "Stored event does not match its hash", StatusCode: http.StatusConflict, Code: "HASH_MISMATCH"}
	ErrTooLarge           = &Error{Message: "Upload too large", StatusCode: http.StatusRequestEntityTooLarge, Code: "TOO_LARGE"}
	ErrMalformedPayload   = &Error{Message: "No batch id found in the scanned code", StatusCode: http.StatusUnprocessableEntity, Code: "MALFORMED_PAYLOAD"}
	ErrNotConfigured      = &Error{Message: "Feature not configured", StatusCode: http.StatusNotImplemented, Code: "NOT_CONFIGURED"}
	ErrServiceUnavailable = &Error{Message: "Service unavailable, try again", StatusCode: http.StatusServiceUnavailable, Code: "SERVICE_UNAVAILABLE"}
	ErrBadGateway         = &Error{Message: "Upstream service failed, try again", StatusCode: http.StatusBadGateway, Code: "UPSTREAM_ERROR"}
	ErrInternalServer     = &Error{Message: "Internal server error", StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
)

// NewValidationError creates a new validation error with a custom message
func NewValidationError(message string) *Error {
	return &Error{
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
	}
}

// WriteError maps err to its API error and writes it. Errors that do not
// map to a client mistake are logged with their cause.
func WriteError(c *gin.Context, err error) {
	apiErr, details := translate(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.AbortWithStatusJSON(apiErr.StatusCode, ErrorResponse{
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Details: details,
	})
}

func translate(err error) (*Error, interface{}) {
	var apiErr *Error
	var mismatch *domain.HashMismatchError

	switch {
	case errors.As(err, &apiErr):
		return apiErr, nil
	case errors.As(err, &mismatch):
		return ErrHashMismatch, mismatch
	case errors.Is(err, handlers.ErrInvalidCommand):
		return ErrValidation, utils.ValidationMessages(err)
	case errors.Is(err, domain.ErrInvalidBatchID):
		return ErrValidation, []string{err.Error()}
	case errors.Is(err, domain.ErrDuplicateBatch):
		return ErrBatchExists, nil
	case errors.Is(err, domain.ErrBatchNotFound):
		return ErrBatchNotFound, nil
	case errors.Is(err, domain.ErrMalformedPayload):
		return ErrMalformedPayload, nil
	case errors.Is(err, auth.ErrUnauthenticated):
		return ErrUnauthorized, nil
	case errors.Is(err, auth.ErrForbidden):
		return ErrForbidden, nil
	case errors.Is(err, objectstore.ErrTooLarge):
		return ErrTooLarge, nil
	case errors.Is(err, objectstore.ErrEmptyUpload):
		return ErrValidation, []string{err.Error()}
	case errors.Is(err, analyzer.ErrNotConfigured):
		return ErrNotConfigured, nil
	case errors.Is(err, analyzer.ErrUnresolvableImage):
		return ErrValidation, []string{err.Error()}
	case errors.Is(err, handlers.ErrUpstream):
		return ErrBadGateway, nil
	case errors.Is(err, domain.ErrStorageUnavailable):
		return ErrServiceUnavailable, nil
	default:
		return ErrInternalServer, nil
	}
}
