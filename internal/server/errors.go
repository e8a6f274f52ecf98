package server

import (
	"errors"
	"fmt"

	"github.com/joshdurbin/strava-weekly/internal/apperr"
)

// ErrorCode classifies MCP tool errors for structured error handling
type ErrorCode string

const (
	// ErrInvalidInput indicates invalid or malformed input parameters
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrConfig indicates the server is missing credentials or settings
	ErrConfig ErrorCode = "CONFIG_ERROR"
	// ErrUpstream indicates Strava rejected or failed a request
	ErrUpstream ErrorCode = "UPSTREAM_ERROR"
	// ErrInternalError indicates an unexpected internal error
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// ToolError represents a structured tool error with code, message, and optional details
type ToolError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ToolError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidInputErrorWithDetails creates an error for invalid input with additional details
func NewInvalidInputErrorWithDetails(msg, details string) *ToolError {
	return &ToolError{Code: ErrInvalidInput, Message: msg, Details: details}
}

// FromError maps an application error onto a tool error the assistant can act on
func FromError(err error) *ToolError {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return &ToolError{Code: ErrInternalError, Message: "report failed", Details: err.Error()}
	}

	switch appErr.Code {
	case apperr.CodeConfig:
		return &ToolError{Code: ErrConfig, Message: "server is not configured", Details: appErr.Error()}
	case apperr.CodeUpstream:
		return &ToolError{Code: ErrUpstream, Message: "Strava request failed", Details: err.Error()}
	case apperr.CodeInvalidInput:
		return &ToolError{Code: ErrInvalidInput, Message: appErr.Message, Details: appErr.Details}
	default:
		return &ToolError{Code: ErrInternalError, Message: "report failed", Details: err.Error()}
	}
}
