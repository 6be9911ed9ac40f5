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

// Package proxyhandler implements the per-request state machine from
// spec §4.3: version gate, host extraction, internal-endpoint
// dispatch, routing, request rewrite, upstream invocation, and
// response annotation.
package proxyhandler

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/wjhoward/brachyura/internal/metrics"
	"github.com/wjhoward/brachyura/internal/registry"
	"github.com/wjhoward/brachyura/internal/reqctx"
	"github.com/wjhoward/brachyura/internal/upstream"
)

const noProxyHeader = "x-no-proxy"

// Handler is the proxy's per-request orchestrator. It always writes a
// response; it never panics on a per-request path, per spec §7.
type Handler struct {
	Registry *registry.Registry
	State    *registry.State
	Client   *upstream.Client
	Metrics  *metrics.Metrics
	Timeout  time.Duration
	Log      *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// S0 — version gate.
	if _, ok := requestVersion(r); !ok {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("Unsupported HTTP version: %s", r.Proto))
		return
	}

	// S1 — host extraction.
	host, hostDefined := extractHost(r)

	// S2 — flag extraction.
	noProxy := r.Header.Get(noProxyHeader) != ""

	// S3 — dispatch.
	if r.Method == http.MethodGet && r.URL.Path == "/status" && noProxy {
		writeText(w, http.StatusOK, "The proxy is running")
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && noProxy {
		h.serveMetrics(w)
		return
	}
	if !hostDefined {
		writeText(w, http.StatusNotFound, "Host header not defined")
		return
	}

	// S4 — routing.
	location, found := registry.Route(h.Registry, h.State, host)
	if !found {
		h.logger().Debug("no backend for host", zap.String("host", host))
		w.WriteHeader(http.StatusNotFound)
		return
	}

	// S5 — request rewrite.
	outreq := rewriteRequest(r, host, location)

	// S6 — upstream invocation.
	resp := h.Client.Send(outreq, h.Timeout)
	defer resp.Body.Close()

	// S7 — annotation.
	reqctx.SetBackendLocation(r.Context(), location)

	stripHopByHopHeaders(resp.Header)
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger().Warn("copying upstream response body", zap.String("backend", location), zap.Error(err))
	}
}

func (h *Handler) serveMetrics(w http.ResponseWriter) {
	body, err := h.Metrics.Encode()
	if err != nil {
		writeText(w, http.StatusInternalServerError, fmt.Sprintf("Error encoding metrics: %s", err))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// requestVersion classifies r.Proto into the three versions this
// proxy accepts, per spec §4.3 S0.
func requestVersion(r *http.Request) (string, bool) {
	switch {
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		return "HTTP/1.0", true
	case r.ProtoMajor == 1 && r.ProtoMinor == 1:
		return "HTTP/1.1", true
	case r.ProtoMajor == 2:
		return "HTTP/2", true
	default:
		return "", false
	}
}

// rewriteRequest builds the outbound request per spec §4.3 S5: new
// URI (scheme=http, authority=location, path-and-query preserved
// verbatim), hop-by-hop headers stripped, Host set to the original
// host identity, loop-prevention header inserted, version forced to
// HTTP/1.1.
func rewriteRequest(r *http.Request, host, location string) *http.Request {
	outreq := r.Clone(r.Context())

	outreq.URL = &url.URL{
		Scheme:   "http",
		Host:     location,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	outreq.RequestURI = "" // must be empty on a client-side request

	outreq.Header = r.Header.Clone()
	stripHopByHopHeaders(outreq.Header)
	outreq.Host = host // net/http writes this as the request-line Host, not outreq.Header
	outreq.Header.Set(noProxyHeader, "true")

	outreq.Proto = "HTTP/1.1"
	outreq.ProtoMajor = 1
	outreq.ProtoMinor = 1
	outreq.Close = false

	return outreq
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
