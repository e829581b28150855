package errors

import (
	"fmt"
)

// ParseError represents a YAML parsing failure with optional line metadata.
type ParseError struct {
	Path    string
	Line    int
	Message string
	Err     error
}

// NewParseError constructs a ParseError.
func NewParseError(path string, line int, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ParseError{Path: path, Line: line, Message: message, Err: err}
}

func (e *ParseError) Error() string {
	if e == nil {
		return ""
	}

	if e.Line > 0 {
		return fmt.Sprintf("parse error: %s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error: %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error.
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError captures malformed project declarations or requirement parameters.
// Validation errors are raised before any provider runs.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExecutionError represents a runtime failure while working on a requirement key.
type ExecutionError struct {
	Key string
	Err error
}

// NewExecutionError constructs an ExecutionError.
func NewExecutionError(key string, err error) error {
	return &ExecutionError{Key: key, Err: err}
}

func (e *ExecutionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Key != "" {
		return fmt.Sprintf("execution error on %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("execution error: %v", e.Err)
}

// Unwrap exposes the root error.
func (e *ExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ProviderError indicates issues within provider registration or lookup.
type ProviderError struct {
	Provider string
	Message  string
	Err      error
}

// NewProviderError constructs a ProviderError for the named provider.
func NewProviderError(provider string, err error) error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return &ProviderError{Provider: provider, Message: message, Err: err}
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Provider != "" {
		return fmt.Sprintf("provider error [%s]: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefectError marks a programming-invariant violation, such as duplicate
// requirement keys reaching the engine or a provider dispatched for a kind it
// does not declare. These abort the whole prepare call.
type DefectError struct {
	Message string
	Err     error
}

// NewDefectError constructs a DefectError.
func NewDefectError(message string, err error) error {
	return &DefectError{Message: message, Err: err}
}

func (e *DefectError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("internal defect: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("internal defect: %s", e.Message)
}

// Unwrap exposes the underlying error.
func (e *DefectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
