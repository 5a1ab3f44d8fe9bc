// Package dns measures resolver round trips with a single A query.
package dns

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"netmon/pkg/plugin"
)

// withDefaultPort adds the protocol's port when addr has none.
func withDefaultPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), port)
}

// extractHostname strips the port so the TLS ServerName is correct.
func extractHostname(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type DNSProbe struct {
	query    string
	protocol string
	timeout  time.Duration
}

func init() {
	plugin.RegisterLatencyProbe("dns", New)
}

func New(cfg plugin.LatencyConfig) (plugin.LatencyProbe, error) {
	proto := strings.ToLower(cfg.DNSProtocol)
	if proto == "" {
		proto = "udp"
	}
	switch proto {
	case "udp", "tcp", "dot":
	default:
		return nil, fmt.Errorf("unknown DNS protocol: %s", proto)
	}
	query := cfg.DNSQuery
	if query == "" {
		query = "example.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DNSProbe{query: dns.Fqdn(query), protocol: proto, timeout: timeout}, nil
}

func (p *DNSProbe) Name() string { return "dns" }

// Ping asks the resolver at target for the configured name and returns the
// exchange round trip.
func (p *DNSProbe) Ping(ctx context.Context, target string) (time.Duration, error) {
	client := &dns.Client{Net: p.protocol, Timeout: p.timeout}
	addr := withDefaultPort(target, "53")
	if p.protocol == "dot" {
		addr = withDefaultPort(target, "853")
		client.Net = "tcp-tls"
		client.TLSConfig = &tls.Config{ServerName: extractHostname(addr)}
	}

	m := new(dns.Msg)
	m.SetQuestion(p.query, dns.TypeA)
	r, rtt, err := client.ExchangeContext(ctx, m, addr)
	if err != nil {
		return 0, fmt.Errorf("query %s via %s: %w", p.query, addr, err)
	}
	if r.Rcode != dns.RcodeSuccess && r.Rcode != dns.RcodeNameError {
		return 0, fmt.Errorf("query %s via %s: %s", p.query, addr, dns.RcodeToString[r.Rcode])
	}
	return rtt, nil
}
