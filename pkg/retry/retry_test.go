package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"netmon/pkg/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type logCapture struct{ buf bytes.Buffer }

func (c *logCapture) logger() zerolog.Logger { return zerolog.New(&c.buf) }

// count returns how many log entries carry the given message.
func (c *logCapture) count(t *testing.T, msg string) int {
	t.Helper()
	n := 0
	dec := json.NewDecoder(bytes.NewReader(c.buf.Bytes()))
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		if entry["message"] == msg {
			n++
		}
	}
	return n
}

func newExecutor(t *testing.T, p Policy, logs *logCapture) (*Executor, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Unix(0, 0))
	e, err := New(p, fake, logs.logger())
	require.NoError(t, err)
	return e, fake
}

func TestDo_AlwaysTimesOut(t *testing.T) {
	for _, n := range []int{1, 2, 4} {
		logs := &logCapture{}
		e, _ := newExecutor(t, Policy{MaxAttempts: n, Timeout: 20 * time.Millisecond, BackoffBase: 2}, logs)

		release := make(chan struct{})
		var calls atomic.Int32
		_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
			calls.Add(1)
			<-release // ignores ctx, like a hung probe
			return 1, nil
		})
		close(release)

		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.EqualValues(t, n, calls.Load())
		assert.Equal(t, n, logs.count(t, "attempt timed out"))
		assert.Equal(t, 1, logs.count(t, "failed after maximum retries"))
	}
}

func TestDo_CooperativeTimeoutCountsAsTimeout(t *testing.T) {
	logs := &logCapture{}
	e, _ := newExecutor(t, Policy{MaxAttempts: 2, Timeout: 10 * time.Millisecond, BackoffBase: 2}, logs)

	_, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 2, logs.count(t, "attempt timed out"))
}

func TestDo_BackoffSequence(t *testing.T) {
	logs := &logCapture{}
	e, fake := newExecutor(t, Policy{MaxAttempts: 5, Timeout: time.Second, BackoffBase: 3}, logs)

	_, err := Do(context.Background(), e, func(context.Context) (int, error) {
		return 0, errors.New("busy")
	})
	require.ErrorIs(t, err, ErrExhausted)

	// wait before attempt k+1 is base^(k-1); nothing after the last attempt
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		3 * time.Second,
		9 * time.Second,
		27 * time.Second,
	}, fake.Sleeps())
	assert.Equal(t, 5, logs.count(t, "attempt failed"))
}

func TestDo_SucceedsOnAttemptK(t *testing.T) {
	logs := &logCapture{}
	e, fake := newExecutor(t, Policy{MaxAttempts: 5, Timeout: time.Second, BackoffBase: 2}, logs)

	var calls atomic.Int32
	v, err := Do(context.Background(), e, func(context.Context) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, fake.Sleeps())
	assert.Zero(t, logs.count(t, "failed after maximum retries"))
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	logs := &logCapture{}
	e, fake := newExecutor(t, Policy{MaxAttempts: 10, Timeout: time.Second, BackoffBase: 2}, logs)

	denied := errors.New("403 forbidden")
	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(context.Context) (int, error) {
		if calls.Add(1) == 2 {
			return 0, Permanent(denied)
		}
		return 0, errors.New("busy")
	})
	require.ErrorIs(t, err, denied)
	assert.True(t, IsPermanent(err))
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.EqualValues(t, 2, calls.Load())
	assert.Len(t, fake.Sleeps(), 1)
	assert.Equal(t, 1, logs.count(t, "permanent failure, not retrying"))
}

func TestDo_RecoversPanic(t *testing.T) {
	logs := &logCapture{}
	e, _ := newExecutor(t, Policy{MaxAttempts: 2, Timeout: time.Second, BackoffBase: 2}, logs)

	var calls atomic.Int32
	v, err := Do(context.Background(), e, func(context.Context) (int, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestDo_CancelledContextStopsRetrying(t *testing.T) {
	logs := &logCapture{}
	e, _ := newExecutor(t, Policy{MaxAttempts: 3, Timeout: time.Second, BackoffBase: 2}, logs)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	var sawCancel atomic.Bool
	_, err := Do(ctx, e, func(actx context.Context) (int, error) {
		calls.Add(1)
		cancel()
		// the attempt itself keeps running after the caller is cancelled
		sawCancel.Store(actx.Err() != nil)
		return 0, errors.New("busy")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, sawCancel.Load())
}

func TestNew_RejectsInvalidPolicy(t *testing.T) {
	bad := []Policy{
		{MaxAttempts: 0, Timeout: time.Second, BackoffBase: 2},
		{MaxAttempts: 1, Timeout: 0, BackoffBase: 2},
		{MaxAttempts: 1, Timeout: time.Second, BackoffBase: 0},
		{MaxAttempts: 1, Timeout: time.Second, BackoffBase: 2, BackoffUnit: -1},
		{MaxAttempts: MaxAttemptsLimit + 1, Timeout: time.Second, BackoffBase: 2},
	}
	for _, p := range bad {
		_, err := New(p, nil, zerolog.Nop())
		assert.Error(t, err, "%+v", p)
	}
}

func TestPolicy_MaxDuration(t *testing.T) {
	p := Policy{MaxAttempts: 3, Timeout: 10 * time.Second, BackoffBase: 2}
	// 3 timeouts plus waits of 1s and 2s
	assert.Equal(t, 33*time.Second, p.MaxDuration())
	assert.Zero(t, p.Backoff(0))
	assert.Zero(t, p.Backoff(3))
}

func TestPolicy_BackoffIsCapped(t *testing.T) {
	p := Policy{MaxAttempts: MaxAttemptsLimit, Timeout: time.Second, BackoffBase: 2}
	assert.Equal(t, 16*time.Second, p.Backoff(5))
	assert.Equal(t, MaxBackoff, p.Backoff(35))
	assert.Equal(t, MaxBackoff, p.Backoff(MaxAttemptsLimit-1))

	for k := 1; k < MaxAttemptsLimit; k++ {
		assert.Positive(t, p.Backoff(k), "attempt %d", k)
	}
	assert.Positive(t, p.MaxDuration())
	assert.LessOrEqual(t, p.MaxDuration(), MaxAttemptsLimit*(time.Second+MaxBackoff))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil))
	assert.Equal(t, OutcomeTransient, Classify(ErrTimeout))
	assert.Equal(t, OutcomePermanent, Classify(Permanent(errors.New("denied"))))
	assert.Nil(t, Permanent(nil))
	assert.Equal(t, "permanent", OutcomePermanent.String())
}
