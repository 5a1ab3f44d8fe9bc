// Package httpbw measures bandwidth by downloading from and uploading to
// plain HTTP endpoints, for hosts that run their own test server.
package httpbw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"netmon/pkg/plugin"
	"netmon/pkg/retry"
)

// StatusError is a non-2xx answer from the test server.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

type HTTPProbe struct {
	client      *http.Client
	downloadURL string
	uploadURL   string
	uploadBytes int64
	server      string
}

func init() {
	plugin.RegisterBandwidthProbe("http", New)
}

func New(cfg plugin.BandwidthConfig) (plugin.BandwidthProbe, error) {
	u, err := url.Parse(cfg.DownloadURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("http bandwidth probe needs an absolute download url, got %q", cfg.DownloadURL)
	}
	size := cfg.UploadBytes
	if size <= 0 {
		size = 10 << 20
	}
	return &HTTPProbe{
		client:      &http.Client{},
		downloadURL: cfg.DownloadURL,
		uploadURL:   cfg.UploadURL,
		uploadBytes: size,
		server:      u.Host,
	}, nil
}

func (p *HTTPProbe) Name() string { return "http" }

// Measure runs ping, download and upload in sequence. Authorization
// rejections (401, 403) are permanent; everything else may be retried.
func (p *HTTPProbe) Measure(ctx context.Context) (plugin.BandwidthResult, error) {
	res := plugin.BandwidthResult{Server: p.server}

	start := time.Now()
	if _, err := p.do(ctx, http.MethodHead, p.downloadURL, nil); err != nil {
		return res, classify(err)
	}
	res.PingMs = float64(time.Since(start)) / float64(time.Millisecond)

	start = time.Now()
	n, err := p.do(ctx, http.MethodGet, p.downloadURL, nil)
	if err != nil {
		return res, classify(err)
	}
	res.DownloadBps = bitsPerSecond(n, time.Since(start))

	if p.uploadURL != "" {
		start = time.Now()
		if _, err := p.do(ctx, http.MethodPost, p.uploadURL, bytes.NewReader(make([]byte, p.uploadBytes))); err != nil {
			return res, classify(err)
		}
		res.UploadBps = bitsPerSecond(p.uploadBytes, time.Since(start))
	}
	return res, nil
}

// do performs one request and returns the number of body bytes read.
func (p *HTTPProbe) do(ctx context.Context, method, target string, body io.Reader) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return n, &StatusError{Method: method, URL: target, Code: resp.StatusCode}
	}
	if err != nil {
		return n, fmt.Errorf("%s %s: read body: %w", method, target, err)
	}
	return n, nil
}

func classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusForbidden || se.Code == http.StatusUnauthorized) {
		return retry.Permanent(err)
	}
	return err
}

func bitsPerSecond(n int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	return float64(n*8) / elapsed.Seconds()
}
