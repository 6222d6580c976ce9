package types

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the sentinel behind every fatal configuration problem.
// Match it with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError describes which setting is wrong and why
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

// NewConfigurationError creates a configuration error for a field
func NewConfigurationError(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// WrapConfigurationError attaches an underlying cause
func WrapConfigurationError(field string, err error) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: err.Error(), Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// Is makes every ConfigurationError match ErrConfiguration
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
