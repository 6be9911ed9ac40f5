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

// Package metrics defines the two Prometheus metric families this
// proxy exposes and the middleware that observes them, following a
// registration-once, vector-per-metric pattern.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/wjhoward/brachyura/internal/reqctx"
)

// Metrics holds the two families named in spec §6, registered once
// against a dedicated registry (not the global default one, so tests
// can construct independent instances without collisions).
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers http_request_total and http_request_duration_seconds
// against a fresh registry and returns the handle used to wrap
// handlers and serve /metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Number of http requests received",
		}, []string{"status", "backend"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "The HTTP request latencies in seconds.",
		}, []string{"status", "backend"}),
	}
}

// statusRecorder captures the status code written through it so the
// middleware can label metrics after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wrote {
		s.status = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if !s.wrote {
		s.status = http.StatusOK
		s.wrote = true
	}
	return s.ResponseWriter.Write(b)
}

// Middleware wraps next, recording request count and duration labelled
// by status and backend for every call whose context carries a
// Response context (spec §4.4). Calls without one — /status, /metrics
// — are not recorded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := reqctx.NewContext(r.Context())
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		backend, ok := reqctx.BackendLocation(ctx)
		if !ok {
			return
		}

		status := strconv.Itoa(rec.status)
		m.requests.WithLabelValues(status, backend).Inc()
		m.duration.WithLabelValues(status, backend).Observe(elapsed.Seconds())
	})
}

// Encode renders the registered families in Prometheus text-exposition
// format. Errors here are the only path that reaches the /metrics
// encoder-error response in spec §6.
func (m *Metrics) Encode() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("gathering metrics: %w", err)
	}

	var buf []byte
	w := &sliceWriter{buf: &buf}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("encoding metric family %s: %w", mf.GetName(), err)
		}
	}
	return string(buf), nil
}

type sliceWriter struct{ buf *[]byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}
