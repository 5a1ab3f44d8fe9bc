// Package retry runs blocking, possibly hanging operations under a
// per-attempt timeout with exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"netmon/pkg/clock"
	"netmon/pkg/metrics"
)

// Policy bounds one Do call. It is validated once by New and never changes.
type Policy struct {
	MaxAttempts int
	Timeout     time.Duration
	// BackoffBase is the growth factor: the wait after attempt k is
	// BackoffBase^(k-1) units.
	BackoffBase float64
	// BackoffUnit defaults to one second.
	BackoffUnit time.Duration
}

const (
	// MaxBackoff caps a single wait between attempts.
	MaxBackoff = time.Hour
	// MaxAttemptsLimit caps Policy.MaxAttempts.
	MaxAttemptsLimit = 100
)

func (p Policy) validate() error {
	switch {
	case p.MaxAttempts < 1 || p.MaxAttempts > MaxAttemptsLimit:
		return fmt.Errorf("max attempts must be between 1 and %d, got %d", MaxAttemptsLimit, p.MaxAttempts)
	case p.Timeout <= 0:
		return fmt.Errorf("attempt timeout must be positive, got %s", p.Timeout)
	case p.BackoffBase <= 0 || math.IsNaN(p.BackoffBase) || math.IsInf(p.BackoffBase, 0):
		return fmt.Errorf("backoff base must be a positive number, got %v", p.BackoffBase)
	case p.BackoffUnit < 0:
		return fmt.Errorf("backoff unit must not be negative, got %s", p.BackoffUnit)
	}
	return nil
}

// Backoff returns the wait that follows a failed attempt, at most
// MaxBackoff. There is no wait after the final attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || attempt >= p.MaxAttempts {
		return 0
	}
	unit := p.BackoffUnit
	if unit == 0 {
		unit = time.Second
	}
	wait := math.Pow(p.BackoffBase, float64(attempt-1)) * float64(unit)
	if math.IsNaN(wait) || wait > float64(MaxBackoff) {
		return MaxBackoff
	}
	return time.Duration(wait)
}

// MaxDuration is the upper bound on how long Do can block.
func (p Policy) MaxDuration() time.Duration {
	total := time.Duration(p.MaxAttempts) * p.Timeout
	for k := 1; k < p.MaxAttempts; k++ {
		total += p.Backoff(k)
	}
	return total
}

// Executor carries the policy, clock and logger shared by Do calls.
type Executor struct {
	policy Policy
	clock  clock.Clock
	log    zerolog.Logger
}

// New validates policy and returns an Executor.
func New(policy Policy, clk clock.Clock, log zerolog.Logger) (*Executor, error) {
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Executor{policy: policy, clock: clk, log: log}, nil
}

// Policy returns the executor's policy.
func (e *Executor) Policy() Policy { return e.policy }

// Operation is one blocking attempt. It should return when ctx is done but
// is not required to.
type Operation[T any] func(ctx context.Context) (T, error)

// Do runs op until it succeeds, fails permanently, or MaxAttempts is
// reached. Each attempt runs in its own goroutine; an attempt that outlives
// its timeout is abandoned and its result discarded. Cancelling ctx does not
// cut a running attempt short, it only prevents further attempts.
func Do[T any](ctx context.Context, e *Executor, op Operation[T]) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if attempt > 1 && ctx.Err() != nil {
			return zero, fmt.Errorf("retry stopped before attempt %d: %w", attempt, ctx.Err())
		}

		start := e.clock.Now()
		v, err := runAttempt(ctx, e.policy.Timeout, op)
		outcome := Classify(err)
		label := outcome.String()
		if errors.Is(err, ErrTimeout) {
			label = "timeout"
		}
		metrics.RetryAttemptsTotal.WithLabelValues(label).Inc()

		switch outcome {
		case OutcomeSuccess:
			e.log.Debug().Int("attempt", attempt).Dur("elapsed", e.clock.Now().Sub(start)).Msg("attempt succeeded")
			return v, nil
		case OutcomePermanent:
			e.log.Error().Err(err).Int("attempt", attempt).Msg("permanent failure, not retrying")
			return zero, err
		}

		lastErr = err
		if errors.Is(err, ErrTimeout) {
			e.log.Warn().Int("attempt", attempt).Dur("timeout", e.policy.Timeout).Msg("attempt timed out")
		} else {
			e.log.Warn().Err(err).Int("attempt", attempt).Msg("attempt failed")
		}

		if wait := e.policy.Backoff(attempt); wait > 0 {
			e.log.Debug().Int("attempt", attempt).Dur("wait", wait).Msg("backing off")
			if err := e.clock.Sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("retry stopped during backoff: %w", err)
			}
		}
	}

	e.log.Error().Err(lastErr).Int("attempts", e.policy.MaxAttempts).Msg("failed after maximum retries")
	return zero, &ExhaustedError{Attempts: e.policy.MaxAttempts, Last: lastErr}
}

type result[T any] struct {
	v   T
	err error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	// Buffered so an abandoned attempt can still deliver and exit.
	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result[T]{v: zero, err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(actx)
		done <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !IsPermanent(r.err) && errors.Is(actx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, ErrTimeout
		}
		return r.v, r.err
	case <-actx.Done():
		var zero T
		return zero, ErrTimeout
	}
}
