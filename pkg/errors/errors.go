package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeNotAuthenticated ErrorCode = "NOT_AUTHENTICATED"

	// Validation errors
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidSignal ErrorCode = "INVALID_SIGNAL"

	// Conversation errors
	ErrCodeConversationNotFound   ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrCodeVideoCallsNotSupported ErrorCode = "VIDEO_CALLS_NOT_SUPPORTED"
	ErrCodeNotAParticipant        ErrorCode = "NOT_A_PARTICIPANT"

	// Call state errors
	ErrCodeCallNotFound      ErrorCode = "CALL_NOT_FOUND"
	ErrCodeCallEnded         ErrorCode = "CALL_ENDED"
	ErrCodeCallAlreadyActive ErrorCode = "CALL_ALREADY_ACTIVE"
	ErrCodeMaxParticipants   ErrorCode = "MAX_PARTICIPANTS_REACHED"

	// Signaling errors
	ErrCodeSignalSenderMismatch ErrorCode = "SIGNAL_SENDER_MISMATCH"
	ErrCodeTargetNotFound       ErrorCode = "TARGET_NOT_FOUND"

	// Authorization errors
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Rate limiting errors
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal errors
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the given code and message
// The status code defaults to 500 Internal Server Error
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func NotAuthenticatedError() *AppError {
	return NewWithStatus(ErrCodeNotAuthenticated, "Not authenticated", http.StatusUnauthorized)
}

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func InvalidSignalError(message string) *AppError {
	return NewWithStatus(ErrCodeInvalidSignal, message, http.StatusBadRequest)
}

func ConversationNotFoundError() *AppError {
	return NewWithStatus(ErrCodeConversationNotFound, "Conversation not found", http.StatusNotFound)
}

func VideoCallsNotSupportedError() *AppError {
	return NewWithStatus(ErrCodeVideoCallsNotSupported, "Video calls are not supported in this conversation", http.StatusBadRequest)
}

func NotAParticipantError(message string) *AppError {
	return NewWithStatus(ErrCodeNotAParticipant, message, http.StatusForbidden)
}

func CallNotFoundError() *AppError {
	return NewWithStatus(ErrCodeCallNotFound, "Call not found", http.StatusNotFound)
}

func CallEndedError() *AppError {
	return NewWithStatus(ErrCodeCallEnded, "Call has ended", http.StatusGone)
}

func CallAlreadyActiveError() *AppError {
	return NewWithStatus(ErrCodeCallAlreadyActive, "A call is already active in this conversation", http.StatusConflict)
}

func MaxParticipantsError() *AppError {
	return NewWithStatus(ErrCodeMaxParticipants, "Call has reached the maximum number of participants", http.StatusConflict)
}

func SignalSenderMismatchError() *AppError {
	return NewWithStatus(ErrCodeSignalSenderMismatch, "Signal sender does not match the authenticated identity", http.StatusForbidden)
}

func TargetNotFoundError() *AppError {
	return NewWithStatus(ErrCodeTargetNotFound, "Signal target is not an active participant of this call", http.StatusNotFound)
}

func PermissionDeniedError(message string) *AppError {
	return NewWithStatus(ErrCodePermissionDenied, message, http.StatusForbidden)
}

// RateLimitExceededError reports a throttled request along with the seconds
// the caller has to wait before retrying
func RateLimitExceededError(retryAfterSeconds int) *AppError {
	return NewWithStatus(ErrCodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests).
		WithDetails(map[string]int{"retryAfter": retryAfterSeconds})
}

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

// PersistenceError hides a storage failure behind a generic internal error
func PersistenceError(err error) *AppError {
	return WrapWithStatus(ErrCodeInternal, "Internal error", http.StatusInternalServerError, err)
}

func ServiceUnavailableError(message string) *AppError {
	return NewWithStatus(ErrCodeServiceUnavail, message, http.StatusServiceUnavailable)
}

// IsAppError checks if an error is (or wraps) an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as a
// generic InternalError that does not leak the cause to the client
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return PersistenceError(err)
}
