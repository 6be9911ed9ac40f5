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
	"net"
	"net/http"
	"strings"
)

// extractHost implements spec §4.3 S1: determine the request's host
// identity, normalize it, and reject the values that must never be
// treated as a routable identity (loopback, IP literals).
//
// ok is false whenever the host is undefined: no Host header or
// HTTP/2 authority, or a normalized value that is "localhost" or an
// IP literal.
func extractHost(r *http.Request) (host string, ok bool) {
	raw := r.Host
	if raw == "" {
		raw = r.URL.Host // HTTP/2 pseudo-authority, as net/http surfaces it
	}
	if raw == "" {
		return "", false
	}

	normalized := stripPort(raw)
	if normalized == "" {
		return "", false
	}
	if strings.EqualFold(normalized, "localhost") {
		return "", false
	}
	if net.ParseIP(normalized) != nil {
		return "", false
	}
	return normalized, true
}

// stripPort returns host with any trailing ":port" removed, per spec
// §4.3 S1. A bracketed IPv6 literal ("[::1]:8080") is unwrapped via
// net.SplitHostPort first so its internal colons aren't mistaken for
// the port separator; anything else falls back to the substring
// before the first colon.
func stripPort(host string) string {
	if strings.HasPrefix(host, "[") {
		if h, _, err := net.SplitHostPort(host); err == nil {
			return h
		}
		if h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"); h != host {
			return h
		}
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
