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

import "net/http"

// hopByHopHeaders is the fixed set stripped before forwarding to a
// backend, per spec §4.3 S5 step 3 and §9. http.Header.Del already
// canonicalizes the name, so comparison against this list is
// case-insensitive by construction.
var hopByHopHeaders = []string{
	"Keep-Alive",
	"Transfer-Encoding",
	"TE",
	"Connection",
	"Trailer",
	"Upgrade",
	"Proxy-Authorization",
	"Proxy-Authenticate",
}

func stripHopByHopHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
