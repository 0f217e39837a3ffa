package artifact

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by the gate while no validated bundle is available.
var ErrNotReady = errors.New("artifacts not ready")

// ValidationError reports a malformed or missing artifact field.
type ValidationError struct {
	Artifact Name
	Field    string // empty when the whole document is at fault
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("artifact %s", e.Artifact)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(name Name, field, reason string) *ValidationError {
	return &ValidationError{Artifact: name, Field: field, Reason: reason}
}
