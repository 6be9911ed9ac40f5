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

// Package upstream wraps a pooled HTTP/1.1 transport that issues a
// single downstream request per call with a caller-supplied deadline,
// classifying every outcome into a response the caller can always use
// directly — the client never returns a Go error.
package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the deadline applied when the caller configures
// none.
const DefaultTimeout = 60 * time.Millisecond

// Client issues one outbound request per Send call, spanning connect,
// request write, and response-header read under a single deadline. It
// is safe for concurrent use: the underlying http.Transport pools and
// reuses connections across calls.
type Client struct {
	transport *http.Transport
	log       *zap.Logger
}

// New builds a Client around a pooled HTTP/1.1 transport. log may be
// nil, in which case a no-op logger is used.
func New(log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		transport: &http.Transport{
			Proxy: nil, // never honor environment proxies for downstream calls
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   false, // upstream is always plaintext HTTP/1.1, spec §9
		},
		log: log,
	}
}

// Send issues req with a wall-clock deadline of timeout and always
// returns a usable response: on downstream success the downstream
// response is returned verbatim with its body left open for the
// caller to stream; on any failure a synthesized response is returned
// per spec §4.2's outcome table.
func (c *Client) Send(req *http.Request, timeout time.Duration) *http.Response {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// The deadline timer is stopped once the response headers arrive, so
	// it bounds connect, request write, and header read only.
	ctx, cancel := context.WithCancel(req.Context())
	timer := time.AfterFunc(timeout, cancel)
	req = req.WithContext(ctx)

	resp, err := c.transport.RoundTrip(req)
	timedOut := !timer.Stop()
	if err == nil && timedOut {
		// the deadline fired as the headers arrived; the body is unusable.
		resp.Body.Close()
		err = context.DeadlineExceeded
	}
	if err == nil {
		// cancel must not fire until the body is fully read; tie its
		// lifetime to the body close so streaming isn't cut short.
		resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}
		return resp
	}
	defer cancel()

	switch {
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		c.log.Warn("upstream timeout", zap.String("backend", req.URL.Host), zap.Duration("timeout", timeout))
		return synthesize(http.StatusGatewayTimeout, "Request timeout")
	case isConnectFailure(err):
		c.log.Warn("upstream connect failure", zap.String("backend", req.URL.Host), zap.Error(err))
		return synthesize(http.StatusServiceUnavailable, "Cannot connect to backend")
	default:
		c.log.Warn("upstream transport failure", zap.String("backend", req.URL.Host), zap.Error(err))
		return synthesize(http.StatusInternalServerError, "Unhandled error, see logs")
	}
}

// isConnectFailure reports whether err represents a failure to
// establish the connection at all (refused, unreachable, DNS failure)
// as opposed to a failure partway through an established exchange.
func isConnectFailure(err error) bool {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		switch netErr.Op {
		case "dial", "connect":
			return true
		}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") ||
		strings.Contains(err.Error(), "network is unreachable")
}

func synthesize(status int, body string) *http.Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
	}
}

// cancelOnCloseBody cancels the request's context once the response
// body is closed, releasing the deadline timer without truncating an
// in-flight stream.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}
