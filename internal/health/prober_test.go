package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostwatch/internal/models"
)

func TestReachable(t *testing.T) {
	for code, want := range map[int]bool{
		200: true,
		204: true,
		301: true,
		302: true,
		304: false,
		401: true,
		403: false,
		404: false,
		405: true,
		500: false,
		503: false,
	} {
		if got := Reachable(code); got != want {
			t.Fatalf("Reachable(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestHTTPProberClassifiesStatus(t *testing.T) {
	code := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()

	p := NewHTTPProber(2*time.Second, time.Minute)

	res := p.Probe(context.Background(), srv.URL)
	assert.True(t, res.OK())
	assert.Equal(t, models.StatusOnline, res.Status)
	require.NotNil(t, res.ResponseTime)

	code = http.StatusUnauthorized
	res = p.Probe(context.Background(), srv.URL)
	assert.Equal(t, models.StatusOnline, res.Status)

	code = http.StatusBadGateway
	res = p.Probe(context.Background(), srv.URL)
	assert.Equal(t, models.StatusOffline, res.Status)
	assert.Equal(t, http.StatusBadGateway, res.Code)
	assert.Error(t, res.Err)
	assert.Nil(t, res.ResponseTime)
}

func TestHTTPProberDoesNotFollowRedirects(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := NewHTTPProber(2*time.Second, time.Minute).Probe(context.Background(), srv.URL)
	assert.Equal(t, models.StatusOnline, res.Status)
	assert.Equal(t, http.StatusFound, res.Code)
	assert.Equal(t, 1, hits)
}

func TestHTTPProberSlowResponseIsDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := NewHTTPProber(2*time.Second, 3*time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	p.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(4 * time.Second)
	}

	res := p.Probe(context.Background(), srv.URL)
	assert.Equal(t, models.StatusDegraded, res.Status)
	require.NotNil(t, res.ResponseTime)
	assert.Equal(t, int64(4000), *res.ResponseTime)
}

func TestHTTPProberUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	p := NewHTTPProber(time.Second, time.Minute)
	assert.Equal(t, models.StatusOffline, p.Probe(context.Background(), addr).Status)
	assert.Error(t, p.Probe(context.Background(), "").Err)
}
