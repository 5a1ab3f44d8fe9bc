package mtr

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"netmon/pkg/plugin"
)

// MTRProbe reports the average latency of the final hop of an mtr report.
type MTRProbe struct {
	count   int
	mtrPath string
}

func init() {
	plugin.RegisterLatencyProbe("mtr", New)
}

func New(cfg plugin.LatencyConfig) (plugin.LatencyProbe, error) {
	mtrExe, err := exec.LookPath("mtr")
	if err != nil {
		return nil, fmt.Errorf("mtr not found in PATH: %w", err)
	}
	count := cfg.Count
	if count < 1 {
		count = 5
	}
	return &MTRProbe{count: count, mtrPath: mtrExe}, nil
}

func (p *MTRProbe) Name() string { return "mtr" }

func (p *MTRProbe) Ping(ctx context.Context, target string) (time.Duration, error) {
	args := []string{"-r", "-n", "-c", strconv.Itoa(p.count)}
	if flag := familyFlag(target); flag != "" {
		args = append(args, flag)
	}
	args = append(args, target)

	output, err := exec.CommandContext(ctx, p.mtrPath, args...).CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("mtr %s: %w: %s", target, err, strings.TrimSpace(string(output)))
	}

	hops, err := parseReport(string(output))
	if err != nil {
		return 0, fmt.Errorf("mtr %s: %w", target, err)
	}
	last := hops[len(hops)-1]
	if last.loss >= 100 {
		return 0, fmt.Errorf("mtr %s: final hop %s lost every probe", target, last.host)
	}
	return time.Duration(last.avgMs * float64(time.Millisecond)), nil
}

// familyFlag pins the address family for literal IPs and leaves names to mtr.
func familyFlag(target string) string {
	ip := net.ParseIP(target)
	switch {
	case ip == nil:
		return ""
	case ip.To4() != nil:
		return "-4"
	default:
		return "-6"
	}
}

type hop struct {
	host  string
	loss  float64
	avgMs float64
}

// parseReport reads `mtr -r` output: one line per hop with the columns
// Loss% Snt Last Avg Best Wrst StDev after the host.
func parseReport(output string) ([]hop, error) {
	var hops []hop
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" ||
			strings.HasPrefix(trimmed, "HOST:") ||
			strings.HasPrefix(trimmed, "Start:") ||
			strings.Contains(trimmed, "Loss%") ||
			strings.HasPrefix(trimmed, "My traceroute") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 6 {
			continue
		}
		loss, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("parse loss %q: %w", fields[2], err)
		}
		avg, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return nil, fmt.Errorf("parse avg %q: %w", fields[5], err)
		}
		hops = append(hops, hop{host: fields[1], loss: loss, avgMs: avg})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(hops) == 0 {
		return nil, fmt.Errorf("no hops in report")
	}
	return hops, nil
}
