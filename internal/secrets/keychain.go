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

package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const keychainService = "voxflow"

// KeychainBackend stores secrets in the platform keychain: Keychain
// Access on macOS, Secret Service on Linux, Credential Manager on
// Windows.
type KeychainBackend struct {
	available bool
}

// NewKeychainBackend probes the keyring service once; a probe failure
// other than not-found marks the backend unavailable (locked keychain,
// headless host without a Secret Service).
func NewKeychainBackend() *KeychainBackend {
	_, err := keyring.Get(keychainService, "__voxflow_probe__")
	return &KeychainBackend{
		available: err == nil || errors.Is(err, keyring.ErrNotFound),
	}
}

func (k *KeychainBackend) Name() string { return "keychain" }

func (k *KeychainBackend) Get(ctx context.Context, key string) (string, error) {
	if !k.available {
		return "", fmt.Errorf("%w: keychain", ErrUnavailable)
	}
	value, err := keyring.Get(keychainService, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return value, nil
}

func (k *KeychainBackend) Set(ctx context.Context, key, value string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain", ErrUnavailable)
	}
	if err := keyring.Set(keychainService, key, value); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Delete(ctx context.Context, key string) error {
	if !k.available {
		return fmt.Errorf("%w: keychain", ErrUnavailable)
	}
	if err := keyring.Delete(keychainService, key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

func (k *KeychainBackend) Available() bool { return k.available }

func (k *KeychainBackend) Priority() int { return 50 }
