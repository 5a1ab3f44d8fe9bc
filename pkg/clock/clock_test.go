package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Real().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRealSleepZero(t *testing.T) {
	assert.NoError(t, Real().Sleep(context.Background(), 0))
}

func TestFakeRecordsSleepsAndAdvances(t *testing.T) {
	start := time.Unix(1000, 0)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), time.Second))
	require.NoError(t, f.Sleep(context.Background(), 2*time.Second))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.Sleeps())
	assert.Equal(t, start.Add(3*time.Second), f.Now())
}

func TestFakeTickDelivers(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	tk := f.NewTicker(time.Second)

	got := make(chan time.Time, 1)
	go func() { got <- <-tk.C() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.True(t, f.Tick(ctx, time.Second))
	assert.Equal(t, time.Unix(1, 0), <-got)
}

func TestFakeTickGivesUpOnContext(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, f.Tick(ctx, time.Second))
}
