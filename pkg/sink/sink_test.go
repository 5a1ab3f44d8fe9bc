package sink

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmon/pkg/plugin"
)

type recordingOutput struct {
	name    string
	err     error
	mu      sync.Mutex
	points  []plugin.Point
	stopped bool
}

func (r *recordingOutput) Name() string { return r.name }
func (r *recordingOutput) Start() error { return nil }

func (r *recordingOutput) Write(ctx context.Context, p plugin.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.points = append(r.points, p)
	return r.err
}

func (r *recordingOutput) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

func (r *recordingOutput) calls() []plugin.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]plugin.Point(nil), r.points...)
}

var fixedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newSink(logs *bytes.Buffer, outs ...plugin.Output) *Sink {
	return New(outs, zerolog.New(logs), WithClock(func() time.Time { return fixedTime }))
}

func TestWrite_SpeedMeasurementSingleCall(t *testing.T) {
	out := &recordingOutput{name: "mem"}
	s := newSink(&bytes.Buffer{}, out)

	ok := s.Write(context.Background(), plugin.Measurement{
		Name:   "Speed",
		Fields: map[string]any{"Download": 93.42, "Upload": 11.08, "Ping": 14.0},
	})
	require.True(t, ok)

	calls := out.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, plugin.Point{
		Measurement: "Speed",
		Fields:      map[string]float64{"Download": 93.42, "Upload": 11.08, "Ping": 14.0},
		Time:        fixedTime,
	}, calls[0])
}

func TestWrite_DropsNonNumericFieldsIndividually(t *testing.T) {
	var logs bytes.Buffer
	out := &recordingOutput{name: "mem"}
	s := newSink(&logs, out)

	ok := s.Write(context.Background(), plugin.Measurement{
		Name: "Latency",
		Fields: map[string]any{
			"a":   12.3,
			"b":   "not a number",
			"c":   math.NaN(),
			"d":   nil,
			"e":   "4.5",
			"inf": math.Inf(1),
			"n":   7,
		},
	})
	require.True(t, ok)

	calls := out.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]float64{"a": 12.3, "e": 4.5, "n": 7}, calls[0].Fields)
	assert.Equal(t, 4, strings.Count(logs.String(), "skipping non-numeric value"))
}

func TestWrite_EmptyMeasurementIsNotWritten(t *testing.T) {
	var logs bytes.Buffer
	out := &recordingOutput{name: "mem"}
	s := newSink(&logs, out)

	assert.False(t, s.Write(context.Background(), plugin.Measurement{Name: "Latency"}))
	assert.False(t, s.Write(context.Background(), plugin.Measurement{
		Name:   "Latency",
		Fields: map[string]any{"x": "nope"},
	}))
	assert.Empty(t, out.calls())
	assert.Equal(t, 2, strings.Count(logs.String(), "no data to store"))
}

func TestWrite_OutputFailureDoesNotStopOthers(t *testing.T) {
	var logs bytes.Buffer
	broken := &recordingOutput{name: "broken", err: errors.New("connection refused")}
	healthy := &recordingOutput{name: "healthy"}
	s := newSink(&logs, broken, healthy)

	m := plugin.Measurement{Name: "Speed", Fields: map[string]any{"Download": 1.0}}
	assert.True(t, s.Write(context.Background(), m))
	assert.True(t, s.Write(context.Background(), m))

	assert.Len(t, broken.calls(), 2)
	assert.Len(t, healthy.calls(), 2)
	assert.Equal(t, 2, strings.Count(logs.String(), "could not store data"))
}

func TestWrite_AllOutputsFailing(t *testing.T) {
	broken := &recordingOutput{name: "broken", err: errors.New("timeout")}
	s := newSink(&bytes.Buffer{}, broken)
	assert.False(t, s.Write(context.Background(), plugin.Measurement{Name: "Speed", Fields: map[string]any{"Ping": 1}}))
}

func TestWrite_SurvivesCancelledCaller(t *testing.T) {
	out := &recordingOutput{name: "mem"}
	s := newSink(&bytes.Buffer{}, out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, s.Write(ctx, plugin.Measurement{Name: "Speed", Fields: map[string]any{"Ping": 1}}))
}

func TestClose_StopsOutputs(t *testing.T) {
	a, b := &recordingOutput{name: "a"}, &recordingOutput{name: "b"}
	s := newSink(&bytes.Buffer{}, a, b)
	s.Close()
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
}
