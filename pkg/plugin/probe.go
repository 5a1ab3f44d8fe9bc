package plugin

import (
	"context"
	"time"
)

// BandwidthResult is one full bandwidth measurement.
type BandwidthResult struct {
	DownloadBps float64
	UploadBps   float64
	// PingMs is the base latency seen by the probe. NaN or a negative value
	// means the probe did not report one.
	PingMs float64
	Server string
}

// BandwidthProbe performs one blocking bandwidth measurement. It may hang;
// callers bound it with a retry.Executor. Errors wrapped with
// retry.Permanent are not retried.
type BandwidthProbe interface {
	Name() string
	Measure(ctx context.Context) (BandwidthResult, error)
}

// LatencyProbe measures the round trip to one target. Implementations bound
// each call by their own timeout and should also return when ctx is done.
type LatencyProbe interface {
	Name() string
	Ping(ctx context.Context, target string) (time.Duration, error)
}
