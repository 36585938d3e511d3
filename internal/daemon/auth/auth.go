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

// Package auth provides authentication middleware for the daemon API.
// Clients present either a static API key (Authorization: Bearer or
// X-API-Key, never a query parameter) or an HS256 JWT. With no keys
// and no JWT secret configured the middleware passes everything
// through, so a local development daemon needs no setup.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/daemon/httputil"
	vflog "github.com/voxflow/voxflow/internal/log"
)

// ctxKey is a private type for context keys to avoid collisions.
type ctxKey struct{}

var principalKey ctxKey

// Principal identifies an authenticated caller: the API key (masked
// for logging) or the JWT subject.
type Principal struct {
	// Kind is "api_key", "jwt", or "anonymous".
	Kind string
	// Subject is the masked key or the token's sub claim.
	Subject string
}

// FromContext returns the authenticated principal, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// withPrincipal stores the principal for downstream handlers.
func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Authenticator verifies request credentials and rate-limits callers.
type Authenticator struct {
	apiKeys   [][]byte
	jwtSecret []byte
	jwtIssuer string
	limiter   *Limiter
	logger    *slog.Logger
}

// New builds an Authenticator from configuration. The returned value
// is safe for concurrent use. A nil logger uses slog.Default.
func New(cfg config.AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	keys := make([][]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	return &Authenticator{
		apiKeys:   keys,
		jwtSecret: []byte(cfg.JWTSecret),
		jwtIssuer: cfg.JWTIssuer,
		limiter:   NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:    vflog.WithComponent(logger, "auth"),
	}
}

// Enabled reports whether any credential check is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.apiKeys) > 0 || len(a.jwtSecret) > 0
}

// Middleware wraps next with credential verification and per-caller
// rate limiting. When no credentials are configured only the rate
// limiter applies, keyed by client address.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticate(r)
		if err != nil {
			a.logger.Warn("authentication failed",
				"remote", r.RemoteAddr, "path", r.URL.Path, vflog.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="voxflow"`)
			httputil.WriteMessage(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}

		limitKey := principal.Subject
		if limitKey == "" {
			limitKey = clientAddr(r)
		}
		if !a.limiter.Allow(limitKey) {
			w.Header().Set("Retry-After", "1")
			httputil.WriteMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// authenticate checks the request's credentials against the configured
// API keys and JWT secret. Either mechanism is sufficient.
func (a *Authenticator) authenticate(r *http.Request) (Principal, error) {
	if !a.Enabled() {
		return Principal{Kind: "anonymous"}, nil
	}

	token := extractCredential(r)
	if token == "" {
		return Principal{}, fmt.Errorf("no credential presented")
	}

	if a.matchAPIKey(token) {
		return Principal{Kind: "api_key", Subject: vflog.SanitizeAPIKey(token)}, nil
	}

	if len(a.jwtSecret) > 0 {
		subject, err := a.verifyJWT(token)
		if err == nil {
			return Principal{Kind: "jwt", Subject: subject}, nil
		}
		return Principal{}, err
	}

	return Principal{}, fmt.Errorf("unknown API key")
}

// extractCredential pulls the bearer token or API key header. The
// Bearer prefix is case-insensitive per RFC 6750.
func extractCredential(r *http.Request) string {
	if v := r.Header.Get("X-API-Key"); v != "" {
		return strings.TrimSpace(v)
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// matchAPIKey compares token against every configured key in constant
// time, never short-circuiting on the first match.
func (a *Authenticator) matchAPIKey(token string) bool {
	matched := 0
	for _, key := range a.apiKeys {
		matched |= subtle.ConstantTimeCompare([]byte(token), key)
	}
	return matched == 1
}

// verifyJWT parses and validates an HS256 token, enforcing the issuer
// claim when one is configured.
func (a *Authenticator) verifyJWT(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.jwtIssuer))
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		subject = "jwt"
	}
	return subject, nil
}

// clientAddr strips the port so one host gets one rate bucket.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
