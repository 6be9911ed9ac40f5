// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package proxyhandler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wjhoward/brachyura/internal/metrics"
	"github.com/wjhoward/brachyura/internal/registry"
	"github.com/wjhoward/brachyura/internal/reqctx"
	"github.com/wjhoward/brachyura/internal/upstream"
)

func newHandler(t *testing.T, backends []registry.Backend) *Handler {
	t.Helper()
	reg, err := registry.New(backends)
	require.NoError(t, err)
	return &Handler{
		Registry: reg,
		State:    registry.NewState(reg),
		Client:   upstream.New(nil),
		Metrics:  metrics.New(),
		Timeout:  time.Second,
	}
}

func doRequest(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(reqctx.NewContext(req.Context())))
	return rec
}

// Scenario 1: proxied GET returns the backend's body and status.
func TestHandleProxiesToSingleBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("This is the mock backend!"))
	}))
	defer backend.Close()

	h := newHandler(t, []registry.Backend{
		{Name: "test.home", Kind: registry.Single, SingleLocation: backend.Listener.Addr().String()},
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = "test.home"
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "This is the mock backend!", rec.Body.String())
}

// Scenario 2: no Host header → 404, body "Host header not defined".
func TestHandleNoHostIs404(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = ""
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Host header not defined", rec.Body.String())
}

// Scenario 3: internal /status endpoint.
func TestHandleStatusEndpoint(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Host = ""
	req.Header.Set("x-no-proxy", "true")
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "The proxy is running", rec.Body.String())
}

func TestHandleStatusRequiresNoProxyHeader(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Host = ""
	rec := doRequest(h, req)

	// no x-no-proxy, no host: falls through to the host-discipline 404.
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Host header not defined", rec.Body.String())
}

// Scenario 4: connect failure → 503.
func TestHandleConnectFailureIs503(t *testing.T) {
	h := newHandler(t, []registry.Backend{
		{Name: "test.home", Kind: registry.Single, SingleLocation: "127.0.0.1:1"},
	})
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = "test.home"
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "Cannot connect to backend", rec.Body.String())
}

// Scenario 5: downstream timeout → 504.
func TestHandleTimeoutIs504(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer backend.Close()

	reg, err := registry.New([]registry.Backend{
		{Name: "test.home", Kind: registry.Single, SingleLocation: backend.Listener.Addr().String()},
	})
	require.NoError(t, err)
	h := &Handler{
		Registry: reg,
		State:    registry.NewState(reg),
		Client:   upstream.New(nil),
		Metrics:  metrics.New(),
		Timeout:  20 * time.Millisecond,
	}

	req := httptest.NewRequest(http.MethodGet, "/delay", nil)
	req.Host = "test.home"
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "Request timeout", rec.Body.String())
}

// Scenario 6: round robin across two successive requests.
func TestHandleRoundRobinsAcrossRequests(t *testing.T) {
	backendA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("A"))
	}))
	defer backendA.Close()
	backendB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("B"))
	}))
	defer backendB.Close()

	h := newHandler(t, []registry.Backend{
		{
			Name: "test-lb.home",
			Kind: registry.LoadBalanced,
			Locations: []string{
				backendA.Listener.Addr().String(),
				backendB.Listener.Addr().String(),
			},
		},
	})

	req1 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req1.Host = "test-lb.home"
	rec1 := doRequest(h, req1)
	assert.Equal(t, "A", rec1.Body.String())

	req2 := httptest.NewRequest(http.MethodGet, "/test", nil)
	req2.Host = "test-lb.home"
	rec2 := doRequest(h, req2)
	assert.Equal(t, "B", rec2.Body.String())
}

// Scenario 7: unsupported HTTP version → 400.
func TestHandleUnsupportedVersionIs400(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = "test.home"
	req.ProtoMajor = 3
	req.ProtoMinor = 0
	req.Proto = "HTTP/3.0"
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, len(rec.Body.String()) > 0)
	assert.Contains(t, rec.Body.String(), "Unsupported HTTP version:")
}

// No matching backend → 404 with empty body.
func TestHandleNoMatchingBackendIs404Empty(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = "unknown.home"
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

// P6: upstream request headers never contain hop-by-hop names.
func TestHandleStripsHopByHopHeaders(t *testing.T) {
	var seen http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
	}))
	defer backend.Close()

	h := newHandler(t, []registry.Backend{
		{Name: "test.home", Kind: registry.Single, SingleLocation: backend.Listener.Addr().String()},
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = "test.home"
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("Upgrade", "h2c")
	doRequest(h, req)

	for _, hdr := range hopByHopHeaders {
		assert.Empty(t, seen.Get(hdr), "hop-by-hop header %s should be stripped", hdr)
	}
}

// P7: upstream Host header equals the original host identity.
func TestHandleRewritesHostHeader(t *testing.T) {
	var seenHost string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHost = r.Host
	}))
	defer backend.Close()

	h := newHandler(t, []registry.Backend{
		{Name: "test.home", Kind: registry.Single, SingleLocation: backend.Listener.Addr().String()},
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Host = "test.home"
	doRequest(h, req)

	assert.Equal(t, "test.home", seenHost)
}

// Query strings are preserved verbatim (§9 open question, resolved).
func TestHandlePreservesPathAndQuery(t *testing.T) {
	var seenURI string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenURI = r.RequestURI
	}))
	defer backend.Close()

	h := newHandler(t, []registry.Backend{
		{Name: "test.home", Kind: registry.Single, SingleLocation: backend.Listener.Addr().String()},
	})

	req := httptest.NewRequest(http.MethodGet, "/search?q=foo&page=2", nil)
	req.Host = "test.home"
	doRequest(h, req)

	assert.Equal(t, "/search?q=foo&page=2", seenURI)
}

// Internal endpoints are gated on (method, path, no_proxy) alone —
// host_defined doesn't affect dispatch to them, per the dispatch table
// in spec §4.3 S3 (host_defined is "—" on those two rows).
func TestHandleInternalEndpointDispatchIgnoresHostDefined(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Host = ""
	req.Header.Set("x-no-proxy", "true")
	rec := doRequest(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/status", nil)
	req2.Host = "test.home"
	req2.Header.Set("x-no-proxy", "true")
	rec2 := doRequest(h, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

// Loop prevention: a request without the no_proxy flag never reaches
// an internal endpoint, even on an internal path — it falls through to
// the ordinary host-discipline/routing path instead (spec §4.3 P4).
func TestHandleLoopPreventionRequiresNoProxyHeader(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Host = ""
	rec := doRequest(h, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Host header not defined", rec.Body.String())
}

func TestHandleMetricsEndpoint(t *testing.T) {
	h := newHandler(t, nil)
	h.Metrics = metrics.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Host = ""
	req.Header.Set("x-no-proxy", "true")
	rec := doRequest(h, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.NotNil(t, body)
}
