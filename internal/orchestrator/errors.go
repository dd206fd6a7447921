package orchestrator

import "errors"

// PermanentError marks a failure that must not be retried: a true-duration
// quota violation or a malformed resolver response. Everything else,
// including unexpected internal faults, is treated as transient and goes
// through the bounded retry path.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retry policy fails the job immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
