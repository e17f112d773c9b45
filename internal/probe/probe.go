// Package probe answers one question: is this stream URL playable right now?
// Every strategy collapses timeouts, network failures, and manifest errors to
// false; only a positive signal within the time budget yields true.
package probe

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"golang.org/x/time/rate"

	"github.com/streamdex/streamdex/internal/catalog"
	"github.com/streamdex/streamdex/internal/httpclient"
	"github.com/streamdex/streamdex/internal/metrics"
	"github.com/streamdex/streamdex/internal/safeurl"
)

// DefaultTimeout is the hard per-probe time budget.
const DefaultTimeout = 5 * time.Second

// maxManifestBytes bounds how much of an HLS playlist is read for validation.
const maxManifestBytes = 256 * 1024

// Prober verifies a single candidate stream. Implementations must not block
// past their timeout and must release all network resources on every exit
// path.
type Prober interface {
	Probe(ctx context.Context, stream catalog.Stream) bool
}

// Reachability is the lightweight strategy: an HTTP GET that returns a
// success status counts as working. Cheap, but validates reachability only,
// not decodability.
type Reachability struct {
	Client    *http.Client
	Timeout   time.Duration
	Limiter   *rate.Limiter // optional; shared across probers to pace upstreams
	UserAgent string        // default User-Agent when the stream carries none
}

func (p *Reachability) Probe(ctx context.Context, stream catalog.Stream) bool {
	resp, ok := fetch(ctx, p.Client, p.Timeout, p.Limiter, p.UserAgent, stream)
	if !ok {
		return false
	}
	defer drainClose(resp)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Playlist is the heavier strategy: for HLS content it fetches and parses the
// manifest, so a reachable URL serving a broken playlist still reads as dead.
// Non-HLS content falls back to the status check.
type Playlist struct {
	Client    *http.Client
	Timeout   time.Duration
	Limiter   *rate.Limiter
	UserAgent string
}

func (p *Playlist) Probe(ctx context.Context, stream catalog.Stream) bool {
	resp, ok := fetch(ctx, p.Client, p.Timeout, p.Limiter, p.UserAgent, stream)
	if !ok {
		return false
	}
	defer drainClose(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, "mpegurl") && !strings.HasSuffix(strings.ToLower(stream.URL), ".m3u8") {
		return true
	}
	r := bufio.NewReader(io.LimitReader(resp.Body, maxManifestBytes))
	playlist, listType, err := m3u8.DecodeFrom(r, true)
	if err != nil {
		return false
	}
	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		return len(master.Variants) > 0
	case m3u8.MEDIA:
		media := playlist.(*m3u8.MediaPlaylist)
		return media.Count() > 0
	}
	return false
}

// fetch issues the probe request with the stream's side-channel headers. A
// false second return means the probe already failed (bad URL, rate-limit
// cancellation, network error).
func fetch(ctx context.Context, client *http.Client, timeout time.Duration, limiter *rate.Limiter, userAgent string, stream catalog.Stream) (*http.Response, bool) {
	if !safeurl.IsHTTPOrHTTPS(stream.URL) {
		return nil, false
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	// The timeout covers limiter queueing too, so a probe slot is never held
	// past its budget waiting for a token.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			cancel()
			return nil, false
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stream.URL, nil)
	if err != nil {
		cancel()
		return nil, false
	}
	switch {
	case stream.UserAgent != "":
		req.Header.Set("User-Agent", stream.UserAgent)
	case userAgent != "":
		req.Header.Set("User-Agent", userAgent)
	default:
		req.Header.Set("User-Agent", "Streamdex/1.0")
	}
	if stream.HTTPReferrer != "" {
		req.Header.Set("Referer", stream.HTTPReferrer)
	}
	if client == nil {
		client = httpclient.WithTimeout(timeout)
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, false
	}
	// Tie the context cancel to body close so the connection is released
	// exactly once per probe.
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, true
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// drainClose discards a little of the body before closing so the connection
// can be reused.
func drainClose(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, 4*1024)
	resp.Body.Close()
}

// Record counts a terminal probe verdict. Called by the scheduler once per
// channel, not per candidate URL.
func Record(working bool) {
	if working {
		metrics.ProbesTotal.WithLabelValues("working").Inc()
		return
	}
	metrics.ProbesTotal.WithLabelValues("failed").Inc()
}
