package common

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType classifies an engine failure. The boundary exposes only this
// classification, never internal diagnostic detail.
type ErrorType string

const (
	// ErrorTypeConfiguration for configuration-related errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeValidation for malformed, missing, or oversized input
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeSecurity for auth failures and path containment violations
	ErrorTypeSecurity ErrorType = "security"
	// ErrorTypeInjection for input flagged as prompt-injection suspected
	ErrorTypeInjection ErrorType = "injection"
	// ErrorTypeGeneration for transient generative-model failures
	ErrorTypeGeneration ErrorType = "generation"
	// ErrorTypeSchema for model output that does not satisfy the expected schema
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypeTracker for issue-tracker write failures
	ErrorTypeTracker ErrorType = "tracker"
	// ErrorTypeStorage for storage/persistence errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeConflict for duplicate in-flight pipeline runs
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeInternal for internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// EngineError represents a structured error with context
type EngineError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *EngineError) WithCause(cause error) *EngineError {
	e.Cause = cause
	return e
}

// WithDetails sets the detail text
func (e *EngineError) WithDetails(details string) *EngineError {
	e.Details = details
	return e
}

// NewError creates a new EngineError
func NewError(errorType ErrorType, code, message string) *EngineError {
	return &EngineError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(code, message string) *EngineError {
	return NewError(ErrorTypeValidation, code, message)
}

// NewSecurityError creates a security error
func NewSecurityError(code, message string) *EngineError {
	return NewError(ErrorTypeSecurity, code, message)
}

// NewInjectionError creates a prompt-injection error
func NewInjectionError(code, message string) *EngineError {
	return NewError(ErrorTypeInjection, code, message)
}

// NewGenerationError creates a transient generation error
func NewGenerationError(code, message string) *EngineError {
	return NewError(ErrorTypeGeneration, code, message)
}

// NewSchemaError creates a model-output schema error
func NewSchemaError(code, message string) *EngineError {
	return NewError(ErrorTypeSchema, code, message)
}

// NewTrackerError creates a tracker write error
func NewTrackerError(code, message string) *EngineError {
	return NewError(ErrorTypeTracker, code, message)
}

// NewStorageError creates a storage error
func NewStorageError(code, message string) *EngineError {
	return NewError(ErrorTypeStorage, code, message)
}

// NewConflictError creates a duplicate-run conflict error
func NewConflictError(code, message string) *EngineError {
	return NewError(ErrorTypeConflict, code, message)
}

// NewInternalError creates an internal system error
func NewInternalError(code, message string) *EngineError {
	return NewError(ErrorTypeInternal, code, message)
}

// WrapError wraps an existing error with EngineError context
func WrapError(err error, errorType ErrorType, code, message string) *EngineError {
	return &EngineError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// TypeOf extracts the ErrorType of err, or ErrorTypeInternal when err is not
// an EngineError.
func TypeOf(err error) ErrorType {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err carries the given classification.
func IsType(err error, errorType ErrorType) bool {
	return TypeOf(err) == errorType
}
