package scheduler

import (
	"context"
	"math"
	"time"

	"netmon/pkg/plugin"
	"netmon/pkg/retry"
)

const (
	MeasurementSpeed   = "Speed"
	MeasurementLatency = "Latency"

	// decimal places kept for every field
	precision = 2
)

func (s *Scheduler) measureBandwidth(ctx context.Context) (plugin.Measurement, bool) {
	res, err := retry.Do(ctx, s.deps.Executor, s.deps.Bandwidth.Measure)
	if err != nil {
		s.log.Error().Err(err).Str("probe", s.deps.Bandwidth.Name()).Msg("error while performing speed test")
		return plugin.Measurement{}, false
	}
	m := SpeedMeasurement(res)
	s.log.Info().
		Str("server", res.Server).
		Interface("fields", m.Fields).
		Msg("speed test finished")
	return m, true
}

// measureLatency pings each target once, in order. A failing target is
// logged and left out; the measurement is usable if any target answered.
func (s *Scheduler) measureLatency(ctx context.Context) (plugin.Measurement, bool) {
	m := plugin.Measurement{Name: MeasurementLatency, Fields: make(map[string]any, len(s.cfg.Targets))}
	for _, target := range s.cfg.Targets {
		if ctx.Err() != nil {
			s.log.Info().Msg("latency run cut short by shutdown")
			break
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LatencyTimeout)
		rtt, err := s.deps.Latency.Ping(pctx, target)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Str("target", target).Msg("ping error")
			continue
		}
		m.Fields[target] = Milliseconds(rtt)
	}
	if len(m.Fields) == 0 {
		s.log.Warn().Int("targets", len(s.cfg.Targets)).Msg("no latency target answered")
		return m, false
	}
	return m, true
}

// SpeedMeasurement shapes a bandwidth result: Mbit/s for the rates and
// milliseconds for ping, all rounded. A missing ping is written as 0.
func SpeedMeasurement(r plugin.BandwidthResult) plugin.Measurement {
	ping := r.PingMs
	if math.IsNaN(ping) || ping < 0 {
		ping = 0
	}
	return plugin.Measurement{
		Name: MeasurementSpeed,
		Fields: map[string]any{
			"Download": Round(r.DownloadBps*1e-6, precision),
			"Upload":   Round(r.UploadBps*1e-6, precision),
			"Ping":     Round(ping, precision),
		},
	}
}

// Milliseconds converts a round trip to rounded milliseconds.
func Milliseconds(d time.Duration) float64 {
	return Round(d.Seconds()*1000, precision)
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
