package schedule

import (
	"errors"
	"strings"
)

// ValidationError aggregates every input problem found in one pass, so the
// caller sees the full list instead of fixing them one at a time.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

// AsValidation extracts a ValidationError from err, if present.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// PersistenceError marks a schedule run that solved successfully but could
// not be written back. The proposal is discarded; stored data is untouched.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist schedule: " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is a write-back failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
