// Package daemon assembles the probes, outputs, retry executor, sink and
// scheduler described by a Config and runs them until cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"netmon/pkg/clock"
	"netmon/pkg/config"
	"netmon/pkg/metrics"
	"netmon/pkg/plugin"
	"netmon/pkg/retry"
	"netmon/pkg/scheduler"
	"netmon/pkg/sink"
)

// ErrNoOutputs is returned when none of the configured outputs could be built.
var ErrNoOutputs = errors.New("no usable output configured")

type Daemon struct {
	cfg   *config.Config
	log   zerolog.Logger
	sink  *sink.Sink
	sched *scheduler.Scheduler

	mu     sync.Mutex
	cancel context.CancelFunc
}

type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock replaces the wall clock used by the scheduler and retries.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (d *Daemon, err error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	outputs := make([]plugin.Output, 0, len(cfg.Outputs))
	defer func() {
		if err == nil {
			return
		}
		for _, out := range outputs {
			if serr := out.Stop(); serr != nil {
				log.Warn().Err(serr).Str("output", out.Name()).Msg("output stop failed")
			}
		}
	}()
	for _, oc := range cfg.Outputs {
		out, err := plugin.NewOutput(oc)
		if err != nil {
			log.Warn().Err(err).Str("output", oc.Name).Msg("output failed to register")
			continue
		}
		setLogger(out, log)
		log.Info().Str("output", oc.Name).Str("type", oc.Type).Msg("output configured")
		outputs = append(outputs, out)
	}
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	bw, err := plugin.NewBandwidthProbe(cfg.Bandwidth)
	if err != nil {
		return nil, fmt.Errorf("bandwidth probe: %w", err)
	}
	setLogger(bw, log)
	var lat plugin.LatencyProbe
	if len(cfg.Latency.Targets) > 0 {
		if lat, err = plugin.NewLatencyProbe(cfg.Latency); err != nil {
			return nil, fmt.Errorf("latency probe: %w", err)
		}
		setLogger(lat, log)
	}

	exec, err := retry.New(retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Timeout:     cfg.Retry.Timeout,
		BackoffBase: cfg.Retry.BackoffBase,
	}, o.clock, log)
	if err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	sk := sink.New(outputs, log, sink.WithClock(o.clock.Now))
	sched, err := scheduler.New(scheduler.Config{
		Tick:              cfg.Tick,
		BandwidthInterval: cfg.Bandwidth.Interval,
		LatencyInterval:   cfg.Latency.Interval,
		LatencyTimeout:    cfg.Latency.Timeout,
		Targets:           cfg.Latency.Targets,
	}, scheduler.Deps{
		Bandwidth: bw,
		Latency:   lat,
		Executor:  exec,
		Sink:      sk,
		Clock:     o.clock,
		Log:       log,
	})
	if err != nil {
		return nil, err
	}

	return &Daemon{cfg: cfg, log: log, sink: sk, sched: sched}, nil
}

func setLogger(p any, log zerolog.Logger) {
	if ls, ok := p.(plugin.LogSetter); ok {
		ls.SetLogger(log)
	}
}

// Run starts the outputs and the metrics endpoint, then blocks in the
// scheduler until ctx is cancelled or Stop is called. Outputs are stopped
// after the last in-flight result has been written.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	d.sink.Start()
	defer d.sink.Close()

	var wg sync.WaitGroup
	if d.cfg.MetricsListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, d.cfg.MetricsListen, d.log); err != nil {
				d.log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	d.log.Info().
		Str("bandwidth_probe", d.cfg.Bandwidth.Type).
		Str("latency_probe", d.cfg.Latency.Type).
		Int("targets", len(d.cfg.Latency.Targets)).
		Msg("daemon started")
	d.sched.Run(ctx)

	cancel()
	wg.Wait()
	d.log.Info().Msg("daemon stopped")
	return nil
}

// Stop cancels a running daemon. It is safe to call before Run or twice.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}
