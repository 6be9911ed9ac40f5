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

// Package server binds the TLS listener and dispatches accepted
// HTTP/1.1 and HTTP/2 connections to a single handler. This package
// has exactly one contract with the core: one handler invocation per
// request.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const defaultIdleTimeout = 5 * time.Minute

// Server is the thin frontend: bind a TLS listener, accept HTTP/1.1
// and HTTP/2 (negotiated via ALPN), dispatch every request to Handler.
type Server struct {
	Addr      string
	TLSConfig *tls.Config
	Handler   http.Handler
	Log       *zap.Logger

	httpServer *http.Server
}

// ListenAndServe binds the configured address, configures HTTP/2 over
// the TLS listener, and serves until the listener is closed or ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}

	s.httpServer = &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler,
		TLSConfig:         s.TLSConfig,
		IdleTimeout:       defaultIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	h2Server := new(http2.Server)
	if err := http2.ConfigureServer(s.httpServer, h2Server); err != nil {
		return fmt.Errorf("configuring http/2: %w", err)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("binding listener on %s: %w", s.Addr, err)
	}
	tlsLn := tls.NewListener(ln, s.httpServer.TLSConfig)

	go func() {
		<-ctx.Done()
		_ = s.httpServer.Close()
	}()

	log.Info("listening", zap.String("addr", s.Addr))
	err = s.httpServer.Serve(tlsLn)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving %s: %w", s.Addr, err)
	}
	return nil
}
