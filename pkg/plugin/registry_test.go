package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLatency struct{ name string }

func (s stubLatency) Name() string { return s.name }
func (stubLatency) Ping(context.Context, string) (time.Duration, error) {
	return time.Millisecond, nil
}

func TestRegistryRoundTrip(t *testing.T) {
	RegisterLatencyProbe("registry-test", func(cfg LatencyConfig) (LatencyProbe, error) {
		return stubLatency{name: cfg.Type}, nil
	})

	p, err := NewLatencyProbe(LatencyConfig{Type: "registry-test"})
	require.NoError(t, err)
	assert.Equal(t, "registry-test", p.Name())

	_, latency, _ := Types()
	assert.Contains(t, latency, "registry-test")
}

func TestRegistryUnknownType(t *testing.T) {
	_, err := NewBandwidthProbe(BandwidthConfig{Type: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = NewLatencyProbe(LatencyConfig{Type: "sonar"})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = NewOutput(OutputConfig{Type: "fax"})
	assert.ErrorIs(t, err, ErrUnknownType)
}
