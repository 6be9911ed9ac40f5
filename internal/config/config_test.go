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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wjhoward/brachyura/internal/registry"
)

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:8443"
tls:
  cert_path: /etc/proxy/cert.pem
  key_path: /etc/proxy/key.pem
timeout: 500
backends:
  - name: test.home
    location: 127.0.0.1:8000
  - name: test-lb.home
    backend_type: loadbalanced
    locations:
      - 127.0.0.1:8000
      - 127.0.0.1:8001
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8443", cfg.Listen)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)

	loc, ok := registry.Route(cfg.Registry, cfg.State, "test.home")
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:8000", loc)
}

func TestLoadDefaultsTimeoutWhenOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:8443"
backends: []
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestLoadRejectsMissingListen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`backends: []`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen")
}

func TestLoadRejectsBackendMissingLocation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:8443"
backends:
  - name: test.home
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test.home")
}

func TestLoadRejectsLoadBalancedMissingLocations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "0.0.0.0:8443"
backends:
  - name: test-lb.home
    backend_type: loadbalanced
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test-lb.home")
}
