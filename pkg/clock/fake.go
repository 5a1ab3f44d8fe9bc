package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually driven Clock. Every ticker it hands out shares one
// unbuffered channel, so Tick returns only once the consumer has taken the
// tick. Sleep never blocks: it records the duration and advances time.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
	ticks  chan time.Time
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, ticks: make(chan time.Time)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) NewTicker(time.Duration) Ticker { return fakeTicker{c: f.ticks} }

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	f.mu.Unlock()
	return nil
}

// Advance moves the clock forward without delivering a tick.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Tick advances the clock by d and delivers the new time to the ticker
// consumer. It reports false if ctx ends before the tick is taken.
func (f *Fake) Tick(ctx context.Context, d time.Duration) bool {
	f.Advance(d)
	select {
	case f.ticks <- f.Now():
		return true
	case <-ctx.Done():
		return false
	}
}

// Sleeps returns every duration passed to Sleep, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

type fakeTicker struct{ c chan time.Time }

func (t fakeTicker) C() <-chan time.Time { return t.c }
func (fakeTicker) Stop()                 {}
