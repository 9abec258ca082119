package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is matched by every FieldError through errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// FieldError names the rejected key and value so the CLI can point at it.
type FieldError struct {
	Field  string
	Value  any
	Reason string
}

func (e FieldError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func fieldError(field string, value any, reason string) error {
	return FieldError{Field: field, Value: value, Reason: reason}
}
