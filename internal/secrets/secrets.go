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

// Package secrets resolves service credentials through a chain of
// backends: environment variables first, then the system keychain,
// then an encrypted file. The daemon uses it to fill credential
// fields the config file leaves empty.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Well-known keys resolved at daemon startup.
const (
	KeyAzureSpeech = "azure_speech_key"
	KeyAzureOpenAI = "azure_openai_key"
	KeyJWTSecret   = "jwt_secret"
)

var (
	// ErrNotFound is returned when no backend holds the key.
	ErrNotFound = errors.New("secret not found")

	// ErrUnavailable is returned when a backend cannot be used in the
	// current environment.
	ErrUnavailable = errors.New("secret backend unavailable")

	// ErrReadOnly is returned by backends that do not support writes.
	ErrReadOnly = errors.New("secret backend is read-only")
)

// Backend is one secret storage mechanism.
type Backend interface {
	Name() string

	// Get returns the secret or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores the secret, or returns ErrReadOnly.
	Set(ctx context.Context, key, value string) error

	// Delete removes the secret; ErrNotFound when absent, ErrReadOnly
	// when unsupported.
	Delete(ctx context.Context, key string) error

	// Available reports whether the backend is usable here.
	Available() bool

	// Priority orders resolution, higher first.
	Priority() int
}

// Resolver queries its backends in priority order.
type Resolver struct {
	backends []Backend
}

// NewResolver keeps the available backends, sorted by priority
// descending.
func NewResolver(backends ...Backend) *Resolver {
	usable := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Available() {
			usable = append(usable, b)
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].Priority() > usable[j].Priority()
	})
	return &Resolver{backends: usable}
}

// Backends lists the active backend names in resolution order.
func (r *Resolver) Backends() []string {
	names := make([]string, len(r.backends))
	for i, b := range r.backends {
		names[i] = b.Name()
	}
	return names
}

// Get returns the first backend's value for the key. A backend
// failure other than not-found is reported only when no later backend
// has the key either.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	var lastErr error
	for _, b := range r.backends {
		value, err := b.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("get secret %q: %w", key, lastErr)
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, key)
}

// Lookup is Get with not-found flattened to ("", false).
func (r *Resolver) Lookup(ctx context.Context, key string) (string, bool) {
	value, err := r.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return value, true
}

// Set writes to the named backend, or to the highest-priority
// writable one when name is empty.
func (r *Resolver) Set(ctx context.Context, key, value, backendName string) error {
	for _, b := range r.backends {
		if backendName != "" && b.Name() != backendName {
			continue
		}
		err := b.Set(ctx, key, value)
		if errors.Is(err, ErrReadOnly) && backendName == "" {
			continue
		}
		if err != nil {
			return fmt.Errorf("set secret in %s: %w", b.Name(), err)
		}
		return nil
	}
	if backendName != "" {
		return fmt.Errorf("backend %q not available", backendName)
	}
	return fmt.Errorf("%w: no writable backend", ErrUnavailable)
}

// Delete removes the key from every backend that holds it. Missing
// everywhere is ErrNotFound.
func (r *Resolver) Delete(ctx context.Context, key string) error {
	deleted := false
	for _, b := range r.backends {
		err := b.Delete(ctx, key)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrReadOnly):
		default:
			return fmt.Errorf("delete secret from %s: %w", b.Name(), err)
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return nil
}
