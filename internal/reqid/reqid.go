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

// Package reqid attaches a per-request correlation ID to the request
// context: generate one if none was supplied by an upstream hop,
// otherwise reuse the supplied value.
package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const headerName = "X-Request-Id"

type ctxKey struct{}

var idKey = ctxKey{}

// FromContext returns the request ID carried by ctx, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey).(string)
	return id
}

// Middleware assigns a request ID — reusing an inbound X-Request-Id
// header when present and well-formed, generating a new UUID
// otherwise — and logs each request's method, path, and ID at Debug.
func Middleware(log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerName)
			if id == "" {
				id = uuid.New().String()
			} else if _, err := uuid.Parse(id); err != nil {
				log.Debug("discarding malformed inbound request id", zap.String("value", id))
				id = uuid.New().String()
			}

			ctx := context.WithValue(r.Context(), idKey, id)
			w.Header().Set(headerName, id)

			log.Debug("request received",
				zap.String("request_id", id),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
