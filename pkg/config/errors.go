package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration loading and lookups.
var (
	ErrConfigNotFound  = errors.New("configuration file not found")
	ErrInvalidYAML     = errors.New("invalid YAML syntax")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrModelNotFound   = errors.New("model not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrValidation      = errors.New("configuration validation failed")
)

// ValidationError carries the section and field that failed validation so
// operators can locate the offending YAML without reading code.
type ValidationError struct {
	Section string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config validation: %s: %s", e.Section, e.Message)
	}
	return fmt.Sprintf("config validation: %s.%s: %s", e.Section, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a ValidationError for a section and field.
func NewValidationError(section, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Section: section,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// LoadError wraps a lower-level failure encountered while reading or
// parsing a configuration file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load config %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
