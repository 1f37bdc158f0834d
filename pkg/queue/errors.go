package queue

import "errors"

// ErrTimeout marks a job killed for exceeding its timeout
var ErrTimeout = errors.New("job exceeded its timeout")

type handledError struct {
	err error
}

func (e *handledError) Error() string { return e.err.Error() }
func (e *handledError) Unwrap() error { return e.err }

// Handled wraps an error the job already classified and reported. The job
// is still marked failed, but the pool logs it as an expected outcome
// rather than a crash.
func Handled(err error) error {
	if err == nil {
		return nil
	}
	return &handledError{err: err}
}

// IsHandled reports whether err was wrapped by Handled
func IsHandled(err error) bool {
	var h *handledError
	return errors.As(err, &h)
}
