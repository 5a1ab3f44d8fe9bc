package ping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmon/pkg/plugin"
)

func TestNewDefaults(t *testing.T) {
	p, err := New(plugin.LatencyConfig{Type: "icmp"})
	require.NoError(t, err)

	pp := p.(*PingProbe)
	assert.Equal(t, 1, pp.count)
	assert.Equal(t, 2*time.Second, pp.timeout)
	assert.Equal(t, "icmp", p.Name())
}

func TestRegistered(t *testing.T) {
	p, err := plugin.NewLatencyProbe(plugin.LatencyConfig{Type: "icmp", Count: 3, Privileged: true})
	require.NoError(t, err)
	pp := p.(*PingProbe)
	assert.Equal(t, 3, pp.count)
	assert.True(t, pp.privileged)
}

func TestPingExpiredDeadline(t *testing.T) {
	p, err := New(plugin.LatencyConfig{Type: "icmp", Privileged: true})
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = p.Ping(ctx, "127.0.0.1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPingCancelled(t *testing.T) {
	p, err := New(plugin.LatencyConfig{Type: "icmp"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Ping(ctx, "127.0.0.1")
	assert.ErrorIs(t, err, context.Canceled)
}
