package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/video-importer/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents remote vendor / YouTube errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
	// CategoryValidation represents validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryAuthorization represents credential errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
)

// Remote failure codes
const (
	CodeNoCredential        = "NO_CREDENTIAL"
	CodeCircuitOpen         = "CIRCUIT_OPEN"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeAPIError            = "API_ERROR"
	CodeTransportError      = "TRANSPORT_ERROR"
	CodeMetadataUnavailable = "METADATA_UNAVAILABLE"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error

	// UpstreamStatus is the HTTP status returned by the remote service, if any.
	UpstreamStatus int
	// Retryable marks transport failures that may succeed on another attempt.
	Retryable bool
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Remote client failures

// NewNoCredentialError is returned when a protected endpoint is called without a license key
func NewNoCredentialError(endpoint string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusPreconditionFailed,
		Code:       CodeNoCredential,
		Message:    "license key not configured",
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewLicenseInactiveError is returned by paid operations while the license is not active
func NewLicenseInactiveError(operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusPreconditionFailed,
		Code:       CodeNoCredential,
		Message:    "license not active",
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewEmptyResponseError is returned when a successful vendor response lacks the expected field
func NewEmptyResponseError(field string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeAPIError,
		Message:    fmt.Sprintf("no %s received from server", field),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NewCircuitOpenError is returned while the breaker is open
func NewCircuitOpenError(endpoint string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeCircuitOpen,
		Message:    "vendor service temporarily unavailable, retry in a few minutes",
		Details: map[string]interface{}{
			"endpoint": endpoint,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:       CategoryAuthorization,
		StatusCode:     http.StatusUnauthorized,
		Code:           CodeUnauthorized,
		Message:        message,
		UpstreamStatus: http.StatusUnauthorized,
	}
}

// NewAPIError wraps a non-success vendor response
func NewAPIError(status int, message string) *CategorizedError {
	return &CategorizedError{
		Category:       CategoryProvider,
		StatusCode:     http.StatusBadGateway,
		Code:           CodeAPIError,
		Message:        message,
		UpstreamStatus: status,
		Details: map[string]interface{}{
			"status": status,
		},
	}
}

// NewTransportError wraps a network-level failure
func NewTransportError(message string, retryable bool, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeTransportError,
		Message:    message,
		Cause:      cause,
		Retryable:  retryable,
	}
}

// NewUnavailableError is returned when no metadata source could resolve a video
func NewUnavailableError(videoID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeMetadataUnavailable,
		Message:    fmt.Sprintf("unable to fetch video data for %s", videoID),
		Cause:      cause,
		Details: map[string]interface{}{
			"videoId": videoID,
		},
	}
}

// NewQuotaExceededError is returned when the shared YouTube quota for the day
// is spent
func NewQuotaExceededError(resource string, retryAfter time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeQuotaExceeded,
		Message:    fmt.Sprintf("YouTube API quota exhausted for %s", resource),
		Details: map[string]interface{}{
			"resource":          resource,
			"retryAfterSeconds": int(retryAfter.Seconds()),
		},
	}
}

// User Input Errors (4xx)

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(code, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       code,
		Message:    message,
	}
}

// System Errors (5xx)

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

// IsCircuitOpen reports whether err is a circuit-open failure
func IsCircuitOpen(err error) bool { return HasCode(err, CodeCircuitOpen) }

// IsUnauthorized reports whether err is a 401 from the vendor
func IsUnauthorized(err error) bool { return HasCode(err, CodeUnauthorized) }

// IsNoCredential reports whether err is a missing-license failure
func IsNoCredential(err error) bool { return HasCode(err, CodeNoCredential) }

// IsUnavailable reports whether err is a metadata-unavailable failure
func IsUnavailable(err error) bool { return HasCode(err, CodeMetadataUnavailable) }

// IsQuotaExceeded reports whether err is a YouTube quota denial
func IsQuotaExceeded(err error) bool { return HasCode(err, CodeQuotaExceeded) }

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	var catErr *CategorizedError
	if !stderrors.As(err, &catErr) {
		return false
	}

	switch catErr.Code {
	case CodeTransportError:
		return catErr.Retryable
	case CodeAPIError:
		switch catErr.UpstreamStatus {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	switch catErr.Category {
	case CategoryDatabase, CategoryCache:
		return true
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
