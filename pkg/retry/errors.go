package retry

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks an attempt abandoned after its per-attempt timeout.
	ErrTimeout = errors.New("attempt timed out")
	// ErrExhausted is matched by the error returned once every attempt failed.
	ErrExhausted = errors.New("failed after maximum retries")
)

// Outcome is the classification of a single attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeTransient failures, timeouts included, are retried.
	OutcomeTransient
	// OutcomePermanent failures stop the current run without further attempts.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Classify maps an attempt error to its Outcome. Only errors wrapped with
// Permanent are permanent.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case IsPermanent(err):
		return OutcomePermanent
	default:
		return OutcomeTransient
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Probes use it for explicit
// rejections such as HTTP 403. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ExhaustedError is returned when all attempts failed transiently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s (%d attempts): %v", ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }
