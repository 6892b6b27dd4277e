// Package errors provides structured errors for sshkit components.
// Every error carries a machine-readable code, a human-readable message,
// and an actionable suggestion for fixing the problem.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing failures.
const (
	ErrConnection      = "CONNECTION"       // transport-level failure, recoverable
	ErrAuth            = "AUTH"             // authentication rejected, not recoverable
	ErrTimeout         = "TIMEOUT"          // operation deadline elapsed, recoverable
	ErrCommand         = "COMMAND"          // remote command failed, carries exit code
	ErrProtocol        = "PROTOCOL"         // SSH protocol violation
	ErrPoolExhausted   = "POOL_EXHAUSTED"   // no pool capacity and no idle entry
	ErrRateLimit       = "RATE_LIMIT"       // per-host attempt threshold hit
	ErrHostKeyUnknown  = "HOSTKEY_UNKNOWN"  // host key not present in known hosts
	ErrHostKeyMismatch = "HOSTKEY_MISMATCH" // host key differs from known hosts
	ErrPolicy          = "POLICY"           // security policy rejected the operation
	ErrConfig          = "CONFIG"           // bad or missing configuration
)

// Error represents a structured error with code, message, suggestion, and optional cause.
// Error output follows the three-part design:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       string
	Message    string
	Suggestion string
	Cause      error

	// ExitCode is set for ErrCommand errors so callers can react to the
	// remote process status without parsing the message.
	ExitCode int
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrConnection code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrConnection,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// NewCommand creates an ErrCommand error carrying the remote exit code.
func NewCommand(message string, exitCode int) *Error {
	return &Error{
		Code:       ErrCommand,
		Message:    message,
		Suggestion: "Check the command output for details",
		ExitCode:   exitCode,
	}
}

// Error implements the error interface with the three-part formatted output.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var skErr *Error
	if errors.As(err, &skErr) {
		return skErr.Code == code
	}
	return false
}

// Code returns the error code for a structured Error, or empty string.
func Code(err error) string {
	var skErr *Error
	if errors.As(err, &skErr) {
		return skErr.Code
	}
	return ""
}

// Recoverable reports whether an error is worth retrying. Only transport
// and timeout failures qualify; authentication, protocol, and policy
// rejections will fail again no matter how many times they're retried.
func Recoverable(err error) bool {
	switch Code(err) {
	case ErrConnection, ErrTimeout:
		return true
	default:
		return false
	}
}
