package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"hostwatch/internal/models"
)

type Prober interface {
	Probe(ctx context.Context, url string) ProbeResult
}

// HTTPProber issues a GET and classifies the response. Redirects are not
// followed: a 301 or 302 already proves the endpoint is alive.
type HTTPProber struct {
	client        *http.Client
	degradedAfter time.Duration
	now           func() time.Time
}

func NewHTTPProber(timeout, degradedAfter time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		degradedAfter: degradedAfter,
		now:           time.Now,
	}
}

// Reachable reports whether an HTTP status proves the endpoint is up. Auth
// and method rejections count: something answered.
func Reachable(code int) bool {
	if code >= 200 && code < 300 {
		return true
	}
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusUnauthorized, http.StatusMethodNotAllowed:
		return true
	}
	return false
}

func (p *HTTPProber) Probe(ctx context.Context, url string) ProbeResult {
	if url == "" {
		return ProbeResult{Status: models.StatusOffline, Err: fmt.Errorf("no address")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Status: models.StatusOffline, Err: err}
	}
	req.Header.Set("User-Agent", "hostwatch/1")
	start := p.now()
	res, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{Status: models.StatusOffline, Err: err}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
	res.Body.Close()
	elapsed := p.now().Sub(start)

	if !Reachable(res.StatusCode) {
		return ProbeResult{Status: models.StatusOffline, Code: res.StatusCode, Err: fmt.Errorf("status %d", res.StatusCode)}
	}
	ms := elapsed.Milliseconds()
	status := models.StatusOnline
	if elapsed > p.degradedAfter {
		status = models.StatusDegraded
	}
	return ProbeResult{Status: status, ResponseTime: &ms, Code: res.StatusCode}
}
