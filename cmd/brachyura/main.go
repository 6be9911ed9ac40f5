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

// Package main is the entry point of the proxy. It wires the external
// collaborators — config loading, TLS material loading, logger setup —
// to the core (registry, upstream client, proxy handler, metrics
// middleware) and starts the server frontend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wjhoward/brachyura/internal/config"
	"github.com/wjhoward/brachyura/internal/metrics"
	"github.com/wjhoward/brachyura/internal/proxyhandler"
	"github.com/wjhoward/brachyura/internal/reqid"
	"github.com/wjhoward/brachyura/internal/server"
	"github.com/wjhoward/brachyura/internal/tlsconfig"
	"github.com/wjhoward/brachyura/internal/upstream"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "brachyura",
		Short: "A host-routed TLS reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, debug)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the proxy's YAML configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug-level logging")
	return cmd
}

func run(configPath string, debug bool) error {
	log, err := newLogger(debug)
	if err != nil {
		return fmt.Errorf("setting up logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("loading configuration", zap.Error(err))
	}

	tlsCfg, err := tlsconfig.Load(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		log.Fatal("loading TLS material", zap.Error(err))
	}

	m := metrics.New()
	handler := &proxyhandler.Handler{
		Registry: cfg.Registry,
		State:    cfg.State,
		Client:   upstream.New(log.Named("upstream")),
		Metrics:  m,
		Timeout:  cfg.Timeout,
		Log:      log.Named("proxy"),
	}

	var h = m.Middleware(handler)
	h = reqid.Middleware(log.Named("reqid"))(h)

	srv := &server.Server{
		Addr:      cfg.Listen,
		TLSConfig: tlsCfg,
		Handler:   h,
		Log:       log.Named("server"),
	}

	log.Info("starting proxy",
		zap.String("listen", cfg.Listen),
		zap.Int("backends", cfg.Registry.Len()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.ListenAndServe(ctx)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
