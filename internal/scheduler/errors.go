package scheduler

import (
	"errors"

	pkgerrors "github.com/herfa-app/herfa-backend/pkg/errors"
)

type nonRetryableError struct {
	err error
}

func (e nonRetryableError) Error() string {
	if e.err == nil {
		return "non-retryable task error"
	}
	return e.err.Error()
}

func (e nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so the worker dead-letters the task instead of retrying.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return nonRetryableError{err: err}
}

// IsNonRetryable reports whether err should dead-letter immediately.
// DATA_INTEGRITY errors always qualify.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nr nonRetryableError
	if errors.As(err, &nr) {
		return true
	}
	return pkgerrors.IsCode(err, pkgerrors.CodeDataIntegrity)
}
