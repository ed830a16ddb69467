package domain

import "errors"

// Common domain errors
var (
	ErrPolicyNotFound  = errors.New("policy not found")
	ErrProtectedPolicy = errors.New("the default policy cannot be modified or removed")
	ErrInvalidAddress  = errors.New("invalid address format")
	ErrConfigInvalid   = errors.New("invalid configuration")
)

// ErrorResponse defines the standard JSON error model returned by the API.
// Error carries either a message string or a structured list of field errors.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   any    `json:"error"`
	Code    string `json:"code,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
