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

// Package tlsconfig loads the proxy's server certificate from the two
// PEM paths named in the configuration (spec §6 "tls" options) and
// produces the *tls.Config the server frontend listens with.
//
// This is the one ambient piece built directly on the standard
// library rather than a third-party dependency — see DESIGN.md for
// why an ACME/issuance library doesn't fit a "load one already-issued
// PEM pair" contract.
package tlsconfig

import (
	"crypto/tls"
	"fmt"
)

// Load reads a certificate/key PEM pair and returns a *tls.Config with
// ALPN negotiation set up so a connection negotiates "h2" when the
// client offers it, falling back to "http/1.1" otherwise.
func Load(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
