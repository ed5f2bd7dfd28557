package solver

import (
	"errors"
	"fmt"
)

// TransientError marks a failure eligible for retry: timeout, crash,
// non-zero exit, transport trouble. Anything else is permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "solver: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err belongs to the retryable failure class.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ContractError is a well-formed but semantically invalid solver response:
// missing/duplicated task ids, overlapping non-conflict placements, intervals
// shorter than the task duration. It is never retried and never persisted.
//
// Raw carries the offending payload for diagnosis.
type ContractError struct {
	Reason string
	Raw    []byte
}

func (e *ContractError) Error() string { return "solver contract violation: " + e.Reason }

// Violation builds a ContractError. Raw may be nil when the violation was
// detected after decoding (the decoded form is logged instead).
func Violation(raw []byte, format string, args ...any) error {
	return &ContractError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}

// IsContractViolation reports whether err is a solver contract violation.
func IsContractViolation(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}
