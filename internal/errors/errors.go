package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden           ErrorCode = "FORBIDDEN"
	ErrCodeInvalidSessionToken ErrorCode = "INVALID_SESSION_TOKEN"
	ErrCodeTokenExpired        ErrorCode = "TOKEN_EXPIRED"

	// Validation
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired   ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidWebhookURL ErrorCode = "INVALID_WEBHOOK_URL"

	// Resource
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUserNotFound    ErrorCode = "USER_NOT_FOUND"
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"
	ErrCodeAlreadyExists   ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict        ErrorCode = "CONFLICT"

	// Quota
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Transport / relay
	ErrCodeTransportInit   ErrorCode = "TRANSPORT_INIT_ERROR"
	ErrCodeSessionNotReady ErrorCode = "SESSION_NOT_READY"
	ErrCodeSendFailed      ErrorCode = "SEND_FAILED"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Timeouts
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidSessionToken() *AppError {
	return New(ErrCodeInvalidSessionToken, "Invalid or expired session token")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func UserNotFound(userID string) *AppError {
	return New(ErrCodeUserNotFound, fmt.Sprintf("User %s not found", userID))
}

func SessionNotFound(accountID string) *AppError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("WhatsApp session %s not found for this user", accountID))
}

func NoActiveSession(accountID string) *AppError {
	return New(ErrCodeNoActiveSession, fmt.Sprintf("No active session for %s. Start a new session first", accountID))
}

func AlreadyExists(resource string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func QuotaExceeded(limit int) *AppError {
	return New(ErrCodeQuotaExceeded, fmt.Sprintf("Maximum of %d WhatsApp sessions reached", limit))
}

func TransportInit(cause error) *AppError {
	return Wrap(ErrCodeTransportInit, "Failed to initialize transport connection", cause)
}

func SessionNotReady(accountID, state string) *AppError {
	return New(ErrCodeSessionNotReady, fmt.Sprintf("Session %s is not ready (state: %s)", accountID, state))
}

func SendFailed(cause error) *AppError {
	return Wrap(ErrCodeSendFailed, "Failed to send message", cause)
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidWebhookURL() *AppError {
	return New(ErrCodeInvalidWebhookURL, "Webhook URL must start with http:// or https://")
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
