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

// Package reqctx carries the Response context defined in spec §3: a
// small annotation recording which backend location produced a
// response. Its presence is how the metrics middleware distinguishes a
// proxied response from an internal endpoint's.
//
// net/http's server-side handler model has no first-class "response"
// object a handler can attach metadata to — only a ResponseWriter and
// the request's Context. This package stores the annotation in a
// mutable box placed on the request context before the handler runs
// (by the metrics middleware) and filled in by the proxy handler when,
// and only when, it makes an upstream call. The middleware reads the
// box back out after the handler returns: the same context-key
// pattern used elsewhere to pass a value downstream, but flowing the
// other way here — handler to middleware.
package reqctx

import "context"

type ctxKey struct{}

var boxKey = ctxKey{}

// box is the mutable annotation slot. Its zero value means "no
// backend location recorded" (an internal endpoint).
type box struct {
	location string
	set      bool
}

// NewContext returns a context carrying a fresh, empty annotation box.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, boxKey, &box{})
}

// SetBackendLocation records location on the box carried by ctx, if
// any. It is a no-op if ctx was not produced by NewContext.
func SetBackendLocation(ctx context.Context, location string) {
	if b, ok := ctx.Value(boxKey).(*box); ok {
		b.location = location
		b.set = true
	}
}

// BackendLocation returns the backend location recorded on ctx's box
// and whether one was recorded at all.
func BackendLocation(ctx context.Context) (string, bool) {
	b, ok := ctx.Value(boxKey).(*box)
	if !ok {
		return "", false
	}
	return b.location, b.set
}
