// Copyright 2025 The VoxFlow Authors
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

// Package requestid assigns and propagates per-request identifiers so a
// single client call can be followed across the API, the executor, and
// outbound requests to collaborating services.
package requestid

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// ID is a unique identifier for one API request. RFC 4122 UUID format.
type ID string

type ctxKeyType struct{}

var ctxKey = ctxKeyType{}

// HTTP header names for request ID propagation.
const (
	// Header is the primary request ID header.
	Header = "X-Request-ID"
	// HeaderCompat is accepted on inbound requests for compatibility
	// with clients that send correlation IDs.
	HeaderCompat = "X-Correlation-ID"
)

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// New generates a new unique request ID.
func New() ID {
	return ID(uuid.New().String())
}

// String returns the string representation of the request ID.
func (id ID) String() string {
	return string(id)
}

// IsValid checks if the request ID is a valid UUID format.
func (id ID) IsValid() bool {
	return uuidRegex.MatchString(string(id))
}

// ToContext adds the request ID to the context.
func ToContext(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey, id)
}

// FromContext retrieves the request ID from the context, generating a
// fresh one if none is present.
func FromContext(ctx context.Context) ID {
	if id, ok := ctx.Value(ctxKey).(ID); ok {
		return id
	}
	return New()
}

// FromContextOrEmpty retrieves the request ID from the context.
// Returns empty string if none is present.
func FromContextOrEmpty(ctx context.Context) ID {
	if id, ok := ctx.Value(ctxKey).(ID); ok {
		return id
	}
	return ""
}

// FromRequest extracts the request ID from inbound HTTP headers.
// X-Request-ID wins; X-Correlation-ID is accepted as a fallback.
func FromRequest(r *http.Request) (ID, bool) {
	if v := r.Header.Get(Header); v != "" {
		return ID(v), true
	}
	if v := r.Header.Get(HeaderCompat); v != "" {
		return ID(v), true
	}
	return "", false
}

// Inject adds the context's request ID to outbound HTTP request headers.
func Inject(ctx context.Context, req *http.Request) {
	if id := FromContextOrEmpty(ctx); id != "" {
		req.Header.Set(Header, id.String())
	}
}

// Middleware extracts or assigns a request ID for every inbound request,
// stores it in the request context, and echoes it on the response.
// Malformed inbound IDs are replaced rather than rejected.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, found := FromRequest(r)
		if !found || !id.IsValid() {
			id = New()
		}

		r = r.WithContext(ToContext(r.Context(), id))
		w.Header().Set(Header, id.String())

		next.ServeHTTP(w, r)
	})
}
