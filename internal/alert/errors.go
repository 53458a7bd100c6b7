package alert

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid alert definition")

// ValidationError reports a rejected field at the CRUD boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is makes errors.Is(err, ErrInvalid) hold for validation failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
