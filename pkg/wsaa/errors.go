package wsaa

import (
	"errors"
	"fmt"
)

// Error codes shared by the authority and registry clients.
const (
	// ErrCodeSigningFailed indicates the key/certificate pair could not sign the ticket request.
	// Requires operator action (e.g. a renewed certificate).
	ErrCodeSigningFailed = "SIGNING_FAILED"

	// ErrCodeProtocol indicates the service answered without a usable response wrapper,
	// usually a SOAP fault.
	ErrCodeProtocol = "PROTOCOL_ERROR"

	// ErrCodeParse indicates the response wrapper was present but expected fields were missing.
	ErrCodeParse = "PARSE_ERROR"

	// ErrCodeTransport indicates a network failure, timeout or unexpected HTTP status.
	ErrCodeTransport = "TRANSPORT_ERROR"

	// ErrCodeAuthorizationExpired indicates a downstream service rejected the token/sign pair.
	ErrCodeAuthorizationExpired = "AUTHORIZATION_EXPIRED"
)

// Error is a coded error returned by this package and by the registry client.
type Error struct {
	// Code is one of the ErrCode* constants.
	Code string

	// Message is a human-readable description.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// FaultCode is the SOAP faultcode reported by the remote service, if any.
	FaultCode string

	// StatusCode is the HTTP status code of the response, if one was received.
	StatusCode int

	// Payload holds the raw response fragment that failed to parse.
	// It is kept for diagnostics and deliberately excluded from Error().
	Payload string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code + ": " + e.Message
	if e.FaultCode != "" {
		msg += " (fault " + e.FaultCode + ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so that sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a new Error that wraps an underlying error.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for use with errors.Is.
var (
	ErrSigningFailed        = NewError(ErrCodeSigningFailed, "ticket request could not be signed")
	ErrProtocol             = NewError(ErrCodeProtocol, "service returned no usable response")
	ErrParse                = NewError(ErrCodeParse, "response is missing expected fields")
	ErrTransport            = NewError(ErrCodeTransport, "transport failure")
	ErrAuthorizationExpired = NewError(ErrCodeAuthorizationExpired, "credential rejected by service")
)

// AsError checks if err is an Error and returns it if so.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an Error, or returns empty string.
func GetErrorCode(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether a caller may retry the operation with backoff.
// Only transport failures qualify; everything else needs a new ticket or an operator.
func IsRetryable(err error) bool {
	return GetErrorCode(err) == ErrCodeTransport
}
