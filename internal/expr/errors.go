package expr

import (
	"errors"
	"fmt"
)

// MissingValueError is returned when a referenced value is requested before
// its producer can supply it.
type MissingValueError struct {
	// Placeholder is the template form of the missing value.
	Placeholder string
	Reason      string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("missing value for %s: %s", e.Placeholder, e.Reason)
}

// IsMissingValue reports whether err is or wraps a *MissingValueError.
func IsMissingValue(err error) bool {
	var mv *MissingValueError
	return errors.As(err, &mv)
}

// InvalidPlaceholderError is returned at construction time for a reference
// whose template does not match the placeholder grammar.
type InvalidPlaceholderError struct {
	Placeholder string
	Reason      string
}

func (e *InvalidPlaceholderError) Error() string {
	return fmt.Sprintf("invalid placeholder %q: %s", e.Placeholder, e.Reason)
}
