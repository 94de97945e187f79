package publish

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTaskID = errors.New("task id is not a valid subject token")
	ErrNoConnection  = errors.New("nats connection is not available")
)

// TransientPublishError reports an update that could not be delivered after
// every retry. The aggregator logs it and moves on.
type TransientPublishError struct {
	TaskID   string
	Kind     string
	Attempts int
	Err      error
}

func (e *TransientPublishError) Error() string {
	return fmt.Sprintf("publish %s update for task %s failed after %d attempts: %v", e.Kind, e.TaskID, e.Attempts, e.Err)
}

func (e *TransientPublishError) Unwrap() error { return e.Err }

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retrying gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
