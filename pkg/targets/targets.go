// Package targets imports SmokePing target definitions into a netmon
// configuration file.
package targets

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is one SmokePing section that names a host.
type Entry struct {
	Section string
	Name    string
	Probe   string
	Host    string
	Lookup  string
	Server  string
}

// Parse reads a SmokePing Targets file. Every "+"-prefixed section that sets
// a host becomes an Entry; sections without one (menus, groups) are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		curr    *Entry
	)
	flush := func() {
		if curr != nil && curr.Host != "" {
			entries = append(entries, *curr)
		}
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "+") {
			flush()
			curr = &Entry{Section: strings.TrimSpace(strings.TrimLeft(line, "+"))}
			continue
		}
		if curr == nil {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.TrimSpace(key) {
		case "menu":
			curr.Name = val
		case "probe":
			curr.Probe = val
		case "host":
			curr.Host = val
		case "lookup":
			curr.Lookup = val
		case "server":
			curr.Server = val
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	flush()
	return entries, nil
}

func (e Entry) isDNS() bool { return strings.EqualFold(e.Probe, "DNS") }

// File is the subset of the configuration file the importer writes.
type File struct {
	LatencyProbe   string   `yaml:"latency_probe"`
	LatencyServers []string `yaml:"latency_servers"`
	DNSQuery       string   `yaml:"dns_query,omitempty"`
}

// Convert builds a configuration for one latency probe type ("icmp" or
// "dns"). Entries of the other kind are returned as skipped. For DNS entries
// the resolver (server, falling back to host) is the target and the first
// lookup name becomes the query.
func Convert(entries []Entry, probe string) (File, []Entry, error) {
	if probe != "icmp" && probe != "dns" {
		return File{}, nil, fmt.Errorf("cannot import targets for probe %q", probe)
	}
	f := File{LatencyProbe: probe}
	var skipped []Entry
	seen := make(map[string]bool)

	for _, e := range entries {
		var target string
		switch probe {
		case "icmp":
			if e.isDNS() {
				skipped = append(skipped, e)
				continue
			}
			target = e.Host
		case "dns":
			if !e.isDNS() {
				skipped = append(skipped, e)
				continue
			}
			target = e.Server
			if target == "" {
				target = e.Host
			}
			if f.DNSQuery == "" && e.Lookup != "" {
				f.DNSQuery = e.Lookup
			}
		}
		if seen[target] {
			continue
		}
		seen[target] = true
		f.LatencyServers = append(f.LatencyServers, target)
	}
	return f, skipped, nil
}

// Encode writes f as YAML.
func Encode(w io.Writer, f File) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return err
	}
	return enc.Close()
}
