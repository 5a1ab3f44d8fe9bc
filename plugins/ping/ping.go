// Package ping measures ICMP echo round trips with go-ping.
package ping

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"

	"netmon/pkg/plugin"
)

type PingProbe struct {
	count      int
	timeout    time.Duration
	privileged bool
}

func init() {
	plugin.RegisterLatencyProbe("icmp", New)
}

func New(cfg plugin.LatencyConfig) (plugin.LatencyProbe, error) {
	count := cfg.Count
	if count < 1 {
		count = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingProbe{count: count, timeout: timeout, privileged: cfg.Privileged}, nil
}

func (p *PingProbe) Name() string { return "icmp" }

// Ping sends count echo requests and returns the average round trip.
func (p *PingProbe) Ping(ctx context.Context, target string) (time.Duration, error) {
	pr, err := ping.NewPinger(target)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", target, err)
	}
	pr.Count = p.count
	pr.Timeout = p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		d := time.Until(deadline)
		if d <= 0 {
			// go-ping panics on a non-positive timeout
			return 0, fmt.Errorf("ping %s: %w", target, context.DeadlineExceeded)
		}
		if d < pr.Timeout {
			pr.Timeout = d
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("ping %s: %w", target, err)
	}
	pr.SetPrivileged(p.privileged)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			pr.Stop()
		case <-stop:
		}
	}()

	if err := pr.Run(); err != nil {
		return 0, fmt.Errorf("ping %s: %w", target, err)
	}
	stats := pr.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("ping %s: no reply to %d requests", target, stats.PacketsSent)
	}
	return stats.AvgRtt, nil
}
