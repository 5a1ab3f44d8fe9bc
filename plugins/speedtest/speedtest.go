// Package speedtest measures bandwidth against the speedtest.net server
// network.
package speedtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	"netmon/pkg/plugin"
	"netmon/pkg/retry"
)

// ErrNoServer is returned when the server list holds no usable entry.
var ErrNoServer = errors.New("no speedtest server available")

// StatusError is an authorization rejection from a speedtest.net endpoint.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// statusTransport turns 401 and 403 answers into a *StatusError. The
// library decodes every body it gets, so a rejection would otherwise
// surface as a parse error.
type statusTransport struct {
	next http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &StatusError{URL: req.URL.Redacted(), Code: resp.StatusCode}
	}
	return resp, nil
}

// newClient returns a speedtest client whose requests pass through
// statusTransport. The client itself stays the inner transport so its
// user agent and dialers are kept.
func newClient() *st.Speedtest {
	doer := &http.Client{}
	client := st.New(st.WithDoer(doer))
	doer.Transport = statusTransport{next: client}
	return client
}

type result struct {
	download st.ByteRate
	upload   st.ByteRate
	latency  time.Duration
	server   string
}

type Probe struct {
	serverIDs []int
	run       func(ctx context.Context, ids []int) (result, error)
}

func init() {
	plugin.RegisterBandwidthProbe("speedtest", New)
}

func New(cfg plugin.BandwidthConfig) (plugin.BandwidthProbe, error) {
	return &Probe{serverIDs: cfg.ServerIDs, run: runSpeedtest}, nil
}

func (p *Probe) Name() string { return "speedtest" }

func (p *Probe) Measure(ctx context.Context) (plugin.BandwidthResult, error) {
	r, err := p.run(ctx, p.serverIDs)
	if err != nil {
		return plugin.BandwidthResult{}, classify(err)
	}
	return plugin.BandwidthResult{
		DownloadBps: float64(r.download) * 8,
		UploadBps:   float64(r.upload) * 8,
		PingMs:      float64(r.latency) / float64(time.Millisecond),
		Server:      r.server,
	}, nil
}

// runSpeedtest picks the preferred (or closest) server and runs ping,
// download and upload against it.
func runSpeedtest(ctx context.Context, ids []int) (result, error) {
	client := newClient()
	servers, err := client.FetchServerListContext(ctx)
	if err != nil {
		return result{}, fmt.Errorf("fetch server list: %w", err)
	}
	targets, err := servers.FindServer(ids)
	if err != nil {
		return result{}, fmt.Errorf("find server: %w", err)
	}
	if len(targets) == 0 {
		return result{}, ErrNoServer
	}
	s := targets[0]
	defer s.Context.Reset()

	if err := s.PingTestContext(ctx, nil); err != nil {
		return result{}, fmt.Errorf("ping %s: %w", s.Host, err)
	}
	if err := s.DownloadTestContext(ctx); err != nil {
		return result{}, fmt.Errorf("download %s: %w", s.Host, err)
	}
	if err := s.UploadTestContext(ctx); err != nil {
		return result{}, fmt.Errorf("upload %s: %w", s.Host, err)
	}
	return result{
		download: s.DLSpeed,
		upload:   s.ULSpeed,
		latency:  s.Latency,
		server:   fmt.Sprintf("%s (%s)", s.Sponsor, s.Name),
	}, nil
}

// classify marks authorization rejections as permanent. speedtest.net
// answers 403 to clients it has blocked.
func classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		return retry.Permanent(err)
	}
	return err
}
