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

// Package registry holds the immutable backend declarations and the
// shared-mutable round-robin cursors used to route a request's host
// identity to a single backend location.
package registry

import (
	"fmt"
	"sync"
)

// Kind distinguishes a single-location backend from a load-balanced one.
type Kind int

const (
	// Single backends always resolve to SingleLocation.
	Single Kind = iota
	// LoadBalanced backends resolve to one of Locations, round-robin.
	LoadBalanced
)

// Backend is one declared upstream service, keyed for matching by Name.
type Backend struct {
	Name           string
	Kind           Kind
	SingleLocation string
	Locations      []string
}

// Validate enforces the invariant from spec §3: Kind=LoadBalanced
// requires a non-empty Locations, Kind=Single requires SingleLocation.
func (b Backend) Validate() error {
	switch b.Kind {
	case Single:
		if b.SingleLocation == "" {
			return fmt.Errorf("backend %q: kind=single requires a location", b.Name)
		}
	case LoadBalanced:
		if len(b.Locations) == 0 {
			return fmt.Errorf("backend %q: kind=loadbalanced requires at least one location", b.Name)
		}
	default:
		return fmt.Errorf("backend %q: unknown kind", b.Name)
	}
	return nil
}

// Registry is the ordered, immutable set of backend declarations. It is
// safe for concurrent readers once constructed: nothing in it is mutated
// after New returns.
type Registry struct {
	backends []Backend
}

// New builds a Registry from an ordered list of backend declarations,
// validating each. The returned error names the offending backend.
func New(backends []Backend) (*Registry, error) {
	for _, b := range backends {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}
	cp := make([]Backend, len(backends))
	copy(cp, backends)
	return &Registry{backends: cp}, nil
}

// Len reports how many backends are declared in the registry.
func (r *Registry) Len() int {
	return len(r.backends)
}

// Lookup returns the first backend whose Name equals host, and whether
// one was found. Matching is by exact string equality; first match wins.
func (r *Registry) Lookup(host string) (Backend, bool) {
	for _, b := range r.backends {
		if b.Name == host {
			return b, true
		}
	}
	return Backend{}, false
}

// cursor is a single backend's round-robin position. -1 means no
// request has been served yet for this backend.
type cursor struct {
	mu sync.Mutex
	i  int
}

// State is the shared-mutable routing state: one round-robin cursor per
// load-balanced backend, keyed by backend name. It is safe for
// concurrent use; each cursor is guarded by its own mutex so that
// advancing one backend's rotation never blocks another's.
type State struct {
	cursors map[string]*cursor
}

// NewState builds routing state from a Registry, inserting one cursor
// per load-balanced backend per spec §4.5. Single backends contribute
// no entry.
func NewState(reg *Registry) *State {
	s := &State{cursors: make(map[string]*cursor)}
	for _, b := range reg.backends {
		if b.Kind == LoadBalanced {
			s.cursors[b.Name] = &cursor{i: -1}
		}
	}
	return s
}

// next advances the cursor for name under its own lock and returns the
// index to use, per the cyclic rule in spec §4.1: next := (c == -1 ||
// c == N-1) ? 0 : c+1.
func (s *State) next(name string, n int) (int, bool) {
	c, ok := s.cursors[name]
	if !ok {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.i == -1 || c.i == n-1 {
		c.i = 0
	} else {
		c.i++
	}
	return c.i, true
}

// Route maps a host identity to a backend location, advancing the
// round-robin cursor for load-balanced backends as a side effect. It
// returns ("", false) on no match, an invalid backend, or a registry/
// state mismatch — spec §4.1 treats all three as "no match".
func Route(reg *Registry, state *State, host string) (string, bool) {
	b, ok := reg.Lookup(host)
	if !ok {
		return "", false
	}
	switch b.Kind {
	case Single:
		return b.SingleLocation, true
	case LoadBalanced:
		n := len(b.Locations)
		if n == 0 {
			return "", false
		}
		i, ok := state.next(b.Name, n)
		if !ok {
			// registry/state mismatch: bug, treated as no match.
			return "", false
		}
		return b.Locations[i], true
	default:
		return "", false
	}
}
