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

package httpclient

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/requestid"
)

// loggingTransport sets the User-Agent, propagates the request id, and
// logs each outbound request with a sanitized URL.
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newLoggingTransport(base http.RoundTripper, userAgent string) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, userAgent: userAgent}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	// Propagate the request id so collaborator logs line up with ours.
	if reqID := requestid.FromContextOrEmpty(req.Context()); reqID.IsValid() {
		req.Header.Set(requestid.Header, reqID.String())
	}

	resp, err := t.base.RoundTrip(req)
	durationMS := time.Since(start).Milliseconds()

	logURL := sanitizeURL(req.URL)
	if err != nil {
		slog.Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", durationMS,
			"error", err.Error())
		return nil, err
	}

	level := slog.LevelDebug
	if resp.StatusCode >= 400 {
		level = slog.LevelWarn
	}
	slog.Log(req.Context(), level, "http request",
		"method", req.Method,
		"url", logURL,
		"status", resp.StatusCode,
		"duration_ms", durationMS)
	return resp, nil
}

// sensitiveParams are query parameter name fragments redacted from
// logged URLs, matched case-insensitively.
var sensitiveParams = []string{
	"api_key", "apikey", "token", "password", "auth", "secret", "key", "credential",
}

// sanitizeURL redacts credential-bearing query parameters so they
// never reach the logs.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, fragment := range sensitiveParams {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
