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

// Package httpclient builds the shared outbound HTTP client: retries
// with exponential backoff and jitter, request logging with sensitive
// query params redacted, User-Agent injection, request-id propagation,
// and TLS 1.2+ with connection pooling. Every collaborator that leaves
// the process (source downloads, cloud speech, s3) goes through it.
package httpclient

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config shapes the client's timeout and retry behavior.
type Config struct {
	// Timeout bounds the whole request, retries included. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is how many retries follow a failed attempt.
	// 0 disables retrying.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry; subsequent
	// retries double it, up to MaxBackoff.
	RetryBackoff time.Duration

	// MaxBackoff caps the per-retry delay.
	MaxBackoff time.Duration

	// UserAgent is sent on requests that don't set their own. Required.
	UserAgent string

	// AllowNonIdempotentRetry also retries POST/PUT/PATCH/DELETE.
	// Leave false unless callers send idempotency keys.
	AllowNonIdempotentRetry bool
}

// DefaultConfig returns the defaults shared across voxflow.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    30 * time.Second,
		UserAgent:     "voxflow/1.0",
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("httpclient: timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("httpclient: retry attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("httpclient: retry backoff must be > 0 when retrying")
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("httpclient: max backoff %v below retry backoff %v", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("httpclient: user agent is required")
	}
	return nil
}

// New builds an *http.Client from cfg. The transport stack is, outside
// in: retry, logging/headers, pooled TLS transport.
func New(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: time.Second,
	}

	var rt http.RoundTripper = newLoggingTransport(base, cfg.UserAgent)
	if cfg.RetryAttempts > 0 {
		rt = newRetryTransport(rt, cfg)
	}

	return &http.Client{Transport: rt, Timeout: cfg.Timeout}, nil
}
