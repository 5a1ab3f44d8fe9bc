// Package scheduler drives the bandwidth and latency tasks at their own
// intervals and routes their measurements to the sink.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"netmon/pkg/clock"
	"netmon/pkg/metrics"
	"netmon/pkg/plugin"
	"netmon/pkg/retry"
)

const (
	TaskBandwidth = "bandwidth"
	TaskLatency   = "latency"
)

// Writer receives every non-empty measurement.
type Writer interface {
	Write(ctx context.Context, m plugin.Measurement) bool
}

type Config struct {
	Tick              time.Duration
	BandwidthInterval time.Duration
	LatencyInterval   time.Duration
	// LatencyTimeout bounds each per-target ping.
	LatencyTimeout time.Duration
	Targets        []string
}

type Deps struct {
	Bandwidth plugin.BandwidthProbe
	Latency   plugin.LatencyProbe
	Executor  *retry.Executor
	Sink      Writer
	Clock     clock.Clock
	Log       zerolog.Logger
}

// task is the per-task schedule state. It is only touched by the control
// goroutine in Run.
type task struct {
	name      string
	interval  time.Duration
	enabled   bool
	running   bool
	lastRunAt time.Time
	run       func(ctx context.Context) (plugin.Measurement, bool)
}

func (t *task) due(now time.Time) bool {
	if !t.enabled || t.running {
		return false
	}
	return t.lastRunAt.IsZero() || now.Sub(t.lastRunAt) >= t.interval
}

type completion struct {
	task        *task
	measurement plugin.Measurement
	ok          bool
	started     time.Time
}

// Scheduler owns both task schedules.
type Scheduler struct {
	cfg   Config
	deps  Deps
	log   zerolog.Logger
	tasks []*task
}

func New(cfg Config, deps Deps) (*Scheduler, error) {
	switch {
	case cfg.Tick <= 0:
		return nil, fmt.Errorf("tick must be positive")
	case cfg.BandwidthInterval <= 0 || cfg.LatencyInterval <= 0:
		return nil, fmt.Errorf("task intervals must be positive")
	case cfg.LatencyTimeout <= 0:
		return nil, fmt.Errorf("latency timeout must be positive")
	case deps.Bandwidth == nil || deps.Executor == nil:
		return nil, fmt.Errorf("bandwidth probe and executor are required")
	case deps.Latency == nil && len(cfg.Targets) > 0:
		return nil, fmt.Errorf("latency probe is required when targets are configured")
	case deps.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}

	s := &Scheduler{
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.With().Str("component", "scheduler").Logger(),
	}
	s.tasks = []*task{
		{name: TaskBandwidth, interval: cfg.BandwidthInterval, enabled: true, run: s.measureBandwidth},
		{name: TaskLatency, interval: cfg.LatencyInterval, enabled: len(cfg.Targets) > 0, run: s.measureLatency},
	}
	return s, nil
}

// Run ticks until ctx is done. On cancellation it stops dispatching, waits
// for in-flight runs (each bounded by its own timeouts), stores their
// results and returns.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.cfg.Targets) == 0 {
		s.log.Warn().Msg("no latency servers defined, latency task disabled")
	}

	ticker := s.deps.Clock.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	done := make(chan completion, len(s.tasks))
	inFlight := 0
	for {
		select {
		case <-ctx.Done():
			for ; inFlight > 0; inFlight-- {
				s.complete(ctx, <-done)
			}
			s.log.Info().Msg("scheduler stopped")
			return
		case c := <-done:
			inFlight--
			s.complete(ctx, c)
		case <-ticker.C():
			inFlight += s.dispatch(ctx, done)
		}
	}
}

// dispatch starts every due task, bandwidth first. A task already running
// is never started again.
func (s *Scheduler) dispatch(ctx context.Context, done chan<- completion) int {
	started := 0
	for _, t := range s.tasks {
		if ctx.Err() != nil {
			break
		}
		now := s.deps.Clock.Now()
		if !t.due(now) {
			continue
		}
		t.running = true
		started++
		s.log.Info().Str("task", t.name).Msg("running task")
		go func(t *task, start time.Time) {
			m, ok := t.run(ctx)
			done <- completion{task: t, measurement: m, ok: ok, started: start}
		}(t, now)
	}
	return started
}

func (s *Scheduler) complete(ctx context.Context, c completion) {
	now := s.deps.Clock.Now()
	c.task.running = false
	c.task.lastRunAt = now

	result := "ok"
	if !c.ok {
		result = "failed"
	}
	metrics.TaskRunsTotal.WithLabelValues(c.task.name, result).Inc()
	metrics.TaskDurationSeconds.WithLabelValues(c.task.name).Observe(now.Sub(c.started).Seconds())

	if c.ok {
		s.deps.Sink.Write(ctx, c.measurement)
	}
}
