package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"netmon/pkg/config"
)

type (
	BandwidthConfig = config.BandwidthConfig
	LatencyConfig   = config.LatencyConfig
	OutputConfig    = config.OutputConfig
)

// ErrUnknownType is returned when no factory is registered for a type.
var ErrUnknownType = errors.New("unknown plugin type")

var (
	mu                 sync.RWMutex
	bandwidthFactories = make(map[string]func(BandwidthConfig) (BandwidthProbe, error))
	latencyFactories   = make(map[string]func(LatencyConfig) (LatencyProbe, error))
	outputFactories    = make(map[string]func(OutputConfig) (Output, error))
)

func RegisterBandwidthProbe(typ string, factory func(BandwidthConfig) (BandwidthProbe, error)) {
	mu.Lock()
	defer mu.Unlock()
	bandwidthFactories[typ] = factory
}

func NewBandwidthProbe(cfg BandwidthConfig) (BandwidthProbe, error) {
	mu.RLock()
	f, ok := bandwidthFactories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: bandwidth probe %q", ErrUnknownType, cfg.Type)
	}
	return f(cfg)
}

func RegisterLatencyProbe(typ string, factory func(LatencyConfig) (LatencyProbe, error)) {
	mu.Lock()
	defer mu.Unlock()
	latencyFactories[typ] = factory
}

func NewLatencyProbe(cfg LatencyConfig) (LatencyProbe, error) {
	mu.RLock()
	f, ok := latencyFactories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: latency probe %q", ErrUnknownType, cfg.Type)
	}
	return f(cfg)
}

func RegisterOutput(typ string, factory func(OutputConfig) (Output, error)) {
	mu.Lock()
	defer mu.Unlock()
	outputFactories[typ] = factory
}

func NewOutput(cfg OutputConfig) (Output, error) {
	mu.RLock()
	f, ok := outputFactories[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output %q", ErrUnknownType, cfg.Type)
	}
	return f(cfg)
}

// Types lists the registered type names per kind, for help text.
func Types() (bandwidth, latency, outputs []string) {
	mu.RLock()
	defer mu.RUnlock()
	return keys(bandwidthFactories), keys(latencyFactories), keys(outputFactories)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
