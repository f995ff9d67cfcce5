package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeConflict      = "CONFLICT"

	// Engine errors
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeDuplicateEvent      = "DUPLICATE_EVENT"
	CodePatternConflict     = "PATTERN_CONFLICT"
	CodeAlreadyResolved     = "REVIEW_ALREADY_RESOLVED"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeDeliveryFailed      = "DELIVERY_FAILED"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Status:  http.StatusConflict,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Engine errors

// ProviderUnavailable marks a failed or timed-out embedding/completion call.
// Callers recover locally (lexical-only matching, literal templating); this
// is never surfaced as a user-visible failure.
func ProviderUnavailable(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeProviderUnavailable,
		Message: fmt.Sprintf("provider call failed: %s", operation),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"operation": operation},
		Err:     err,
	}
}

// DuplicateEvent marks a redelivered inbound event id. Recovered by no-op.
func DuplicateEvent(eventID string) *AppError {
	return &AppError{
		Code:    CodeDuplicateEvent,
		Message: fmt.Sprintf("event %s already processed", eventID),
		Status:  http.StatusConflict,
		Details: map[string]any{"event_id": eventID},
	}
}

// PatternConflict marks a concurrent statistic-update collision that
// survived retries on the single update path.
func PatternConflict(patternID int64, err error) *AppError {
	return &AppError{
		Code:    CodePatternConflict,
		Message: fmt.Sprintf("concurrent update on pattern %d", patternID),
		Status:  http.StatusConflict,
		Details: map[string]any{"pattern_id": patternID},
		Err:     err,
	}
}

// AlreadyResolved marks a second resolution attempt on a terminal review
// item. Surfaced to the review operator, never silently dropped.
func AlreadyResolved(itemID string) *AppError {
	return &AppError{
		Code:    CodeAlreadyResolved,
		Message: fmt.Sprintf("review item %s is already resolved", itemID),
		Status:  http.StatusConflict,
		Details: map[string]any{"item_id": itemID},
	}
}

// StoreUnavailable marks the persistence layer as down. Fatal for the
// current message: the inbound event is failed back to its caller for
// upstream retry.
func StoreUnavailable(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeStoreUnavailable,
		Message: fmt.Sprintf("store unavailable: %s", operation),
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

// DeliveryFailed marks a failed outbound reply delivery. Not retried
// internally; reported to the caller.
func DeliveryFailed(conversationID string, err error) *AppError {
	return &AppError{
		Code:    CodeDeliveryFailed,
		Message: "outbound delivery failed",
		Status:  http.StatusBadGateway,
		Details: map[string]any{"conversation_id": conversationID},
		Err:     err,
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Common error instances
var (
	ErrNotFound        = NotFound("resource")
	ErrBadRequest      = BadRequest("bad request")
	ErrInternal        = Internal("")
	ErrConflict        = Conflict("resource conflict")
	ErrAlreadyResolved = New(CodeAlreadyResolved, "review item is already resolved", http.StatusConflict)
)

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsCode reports whether err carries the given application error code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
