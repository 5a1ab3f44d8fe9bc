// Package metrics holds the Prometheus collectors describing netmon itself
// (task runs, retry attempts, sink writes) and the optional /metrics server.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TaskRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_task_runs_total",
		Help: "Completed scheduler task runs by task and result",
	}, []string{"task", "result"})
	TaskDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "netmon_task_duration_seconds",
		Help:    "Wall-clock duration of scheduler task runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"task"})

	RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_retry_attempts_total",
		Help: "Bounded retry attempts by outcome (success, timeout, transient, permanent)",
	}, []string{"outcome"})

	SinkWritesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "netmon_sink_writes_total",
		Help: "Measurement writes per output by result",
	}, []string{"output", "result"})
	SinkDroppedFieldsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "netmon_sink_dropped_fields_total",
		Help: "Measurement fields dropped because they were not finite numbers",
	})

	registerOnce sync.Once
)

func init() {
	Register(prometheus.DefaultRegisterer)
}

// Register adds every netmon collector to reg. Only the first call has an
// effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			TaskRunsTotal,
			TaskDurationSeconds,
			RetryAttemptsTotal,
			SinkWritesTotal,
			SinkDroppedFieldsTotal,
		)
	})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
