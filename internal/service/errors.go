package service

import (
	"errors"
	"fmt"

	"github.com/aotms/exam-engine/internal/model"
)

var (
	// ErrStoreUnavailable means the ephemeral attempt store could not be
	// reached. Retryable.
	ErrStoreUnavailable = errors.New("attempt store unavailable")
	// ErrPersistenceFailure means the durable insert failed; ephemeral state
	// was left untouched so finalize can be retried.
	ErrPersistenceFailure = errors.New("submission persistence failed")
	// ErrNoAnswersRecorded means finalize found an empty answer map.
	ErrNoAnswersRecorded = errors.New("no answers recorded for attempt")
	ErrValidation        = errors.New("invalid attempt input")
	// ErrTimerRegression means the reported time remaining is above the
	// stored value and the reject timer policy is active.
	ErrTimerRegression = errors.New("time remaining increased")
	// ErrAttemptBusy means another operation held the attempt lock for the
	// whole wait window. Retryable.
	ErrAttemptBusy = errors.New("attempt busy")
)

// AttemptError carries the failed operation and attempt alongside the error
// kind (one of the sentinels above) and the underlying cause.
type AttemptError struct {
	Op   string
	Key  model.AttemptKey
	Kind error
	Err  error
}

func (e *AttemptError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Key, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newAttemptError(op string, key model.AttemptKey, kind, err error) *AttemptError {
	return &AttemptError{Op: op, Key: key, Kind: kind, Err: err}
}
