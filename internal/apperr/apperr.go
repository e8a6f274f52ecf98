package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies failures so callers can map them to exit status or HTTP status
type Code string

const (
	// CodeConfig indicates a required environment variable is missing or invalid
	CodeConfig Code = "CONFIG_ERROR"
	// CodeUpstream indicates the OAuth, activities or SMTP endpoint returned an error
	CodeUpstream Code = "UPSTREAM_HTTP_ERROR"
	// CodeInvalidInput indicates bad user input at the callback endpoint
	CodeInvalidInput Code = "INVALID_INPUT"
)

// maxBodyLen bounds how much of an upstream response body is kept in an error
const maxBodyLen = 1024

// Error is a classified failure with an optional upstream status and body
type Error struct {
	Code       Code
	Message    string
	Details    string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": status %d", e.StatusCode)
	}
	if e.Details != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Details)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError reports the missing environment variables by name
func NewConfigError(missing ...string) *Error {
	return &Error{
		Code:    CodeConfig,
		Message: "missing environment variables",
		Details: strings.Join(missing, ", "),
	}
}

// NewInvalidConfigError reports a variable that is present but unusable
func NewInvalidConfigError(name string, err error) *Error {
	return &Error{
		Code:    CodeConfig,
		Message: fmt.Sprintf("invalid %s", name),
		Err:     err,
	}
}

// NewUpstreamError reports a non-2xx response, keeping the body for diagnosis
func NewUpstreamError(operation string, status int, body []byte) *Error {
	details := strings.TrimSpace(string(body))
	if len(details) > maxBodyLen {
		details = details[:maxBodyLen] + "...(truncated)"
	}
	return &Error{
		Code:       CodeUpstream,
		Message:    operation,
		Details:    details,
		StatusCode: status,
	}
}

// WrapUpstream classifies a transport failure (timeout, refused connection) as upstream
func WrapUpstream(operation string, err error) *Error {
	return &Error{Code: CodeUpstream, Message: operation, Err: err}
}

// NewInvalidInputError creates an error for invalid user input
func NewInvalidInputError(msg string) *Error {
	return &Error{Code: CodeInvalidInput, Message: msg}
}

// Is reports whether err carries the given code anywhere in its chain
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
