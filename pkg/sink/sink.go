// Package sink turns Measurements into Points and fans them out to every
// configured output.
package sink

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"netmon/pkg/metrics"
	"netmon/pkg/plugin"
)

const defaultWriteTimeout = 10 * time.Second

var (
	errNotFinite = errors.New("value is not a finite number")
	errNoValue   = errors.New("value is missing")
)

// Sink writes measurements to outputs. It is used from a single goroutine.
type Sink struct {
	outputs      []plugin.Output
	log          zerolog.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

type Option func(*Sink)

// WithClock overrides the time stamped on points.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithWriteTimeout bounds each output write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Sink) { s.writeTimeout = d }
}

func New(outputs []plugin.Output, log zerolog.Logger, opts ...Option) *Sink {
	s := &Sink{
		outputs:      outputs,
		log:          log.With().Str("component", "sink").Logger(),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Coerce converts a Measurement to a Point, dropping (and logging) every
// field that is not a finite number. The boolean is false when no field
// survives.
func (s *Sink) Coerce(m plugin.Measurement) (plugin.Point, bool) {
	p := plugin.Point{
		Measurement: m.Name,
		Fields:      make(map[string]float64, len(m.Fields)),
		Time:        s.now(),
	}
	for key, raw := range m.Fields {
		if raw == nil {
			s.dropField(m.Name, key, raw, errNoValue)
			continue
		}
		v, err := cast.ToFloat64E(raw)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = errNotFinite
		}
		if err != nil {
			s.dropField(m.Name, key, raw, err)
			continue
		}
		p.Fields[key] = v
	}
	return p, len(p.Fields) > 0
}

func (s *Sink) dropField(measurement, key string, raw any, err error) {
	metrics.SinkDroppedFieldsTotal.Inc()
	s.log.Error().Err(err).
		Str("measurement", measurement).
		Str("field", key).
		Interface("value", raw).
		Msg("skipping non-numeric value")
}

// Write coerces m and hands it to every output, one write per output.
// Output errors are logged and never returned. It reports whether at least
// one output accepted the point.
func (s *Sink) Write(ctx context.Context, m plugin.Measurement) bool {
	p, ok := s.Coerce(m)
	if !ok {
		s.log.Error().Str("measurement", m.Name).Msg("no data to store")
		return false
	}

	// Detached so a shutdown in progress still flushes the last result.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	stored := false
	for _, out := range s.outputs {
		if err := out.Write(wctx, p); err != nil {
			metrics.SinkWritesTotal.WithLabelValues(out.Name(), "error").Inc()
			s.log.Error().Err(err).
				Str("output", out.Name()).
				Str("measurement", m.Name).
				Msg("could not store data")
			continue
		}
		metrics.SinkWritesTotal.WithLabelValues(out.Name(), "ok").Inc()
		stored = true
		s.log.Info().
			Str("output", out.Name()).
			Str("measurement", m.Name).
			Int("fields", len(p.Fields)).
			Msg("data stored")
	}
	return stored
}

// Start starts every output. An output that fails to start is logged and
// kept; its writes will fail and be logged individually.
func (s *Sink) Start() {
	for _, out := range s.outputs {
		if err := out.Start(); err != nil {
			s.log.Error().Err(err).Str("output", out.Name()).Msg("output start failed")
		}
	}
}

// Close stops every output, releasing clients and sockets.
func (s *Sink) Close() {
	for _, out := range s.outputs {
		if err := out.Stop(); err != nil {
			s.log.Warn().Err(err).Str("output", out.Name()).Msg("output stop failed")
		}
	}
}
