package core

import (
	"errors"
	"fmt"
)

// Error represents a consultation client error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code: %s)", msg, e.Code)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrConfiguration     ErrorType = "configuration_error"
	ErrConnection        ErrorType = "connection_error"
	ErrNotActive         ErrorType = "not_active_error"
	ErrDeviceUnavailable ErrorType = "device_unavailable_error"
	ErrMalformedEvent    ErrorType = "malformed_event"
	ErrBackend           ErrorType = "backend_error"
	ErrTurnTimeout       ErrorType = "turn_timeout_error"
)

// Codes carried by not_active_error.
const (
	CodeNotActive      = "not_active"
	CodeTurnInFlight   = "turn_in_flight"
	CodeAlreadyStarted = "already_started"
)

// NewConfigurationError reports missing or invalid configuration. param names the
// offending setting.
func NewConfigurationError(message, param string) *Error {
	return &Error{
		Type:    ErrConfiguration,
		Message: message,
		Param:   param,
	}
}

// NewConnectionError wraps a handshake or transport failure.
func NewConnectionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrConnection,
		Message: message,
		Cause:   cause,
	}
}

// NewNotActiveError rejects a send against a session that cannot take it.
func NewNotActiveError(message, code string) *Error {
	return &Error{
		Type:    ErrNotActive,
		Message: message,
		Code:    code,
	}
}

// NewDeviceUnavailableError reports a capture device that could not be acquired.
func NewDeviceUnavailableError(device string, cause error) *Error {
	return &Error{
		Type:    ErrDeviceUnavailable,
		Message: fmt.Sprintf("%s unavailable", device),
		Param:   device,
		Cause:   cause,
	}
}

// NewMalformedEventWarning describes an inbound event with no extractable text.
func NewMalformedEventWarning(message string) *Error {
	return &Error{
		Type:    ErrMalformedEvent,
		Message: message,
	}
}

// NewBackendError carries an error signalled by the backend mid-session.
func NewBackendError(message, code string) *Error {
	return &Error{
		Type:    ErrBackend,
		Message: message,
		Code:    code,
	}
}

// NewTurnTimeoutError reports a turn that produced no terminal event in time.
func NewTurnTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrTurnTimeout,
		Message: message,
	}
}

// IsRetryable returns true if a fresh attempt may succeed without user action.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrConnection, ErrBackend, ErrTurnTimeout:
		return true
	default:
		return false
	}
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsType reports whether err (or anything it wraps) is a *Error of type t.
func IsType(err error, t ErrorType) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Type == t
}

// HasCode reports whether err is a *Error carrying code.
func HasCode(err error, code string) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}
