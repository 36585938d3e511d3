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
	"fmt"
	"os"
	"strings"
)

const envPrefix = "VOXFLOW_SECRET_"

// EnvBackend reads secrets from the process environment. The key
// azure_speech_key maps to VOXFLOW_SECRET_AZURE_SPEECH_KEY. It is
// read-only and always wins the chain.
type EnvBackend struct{}

func NewEnvBackend() *EnvBackend { return &EnvBackend{} }

func (e *EnvBackend) Name() string { return "env" }

func (e *EnvBackend) Get(ctx context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(envVar(key))
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

func (e *EnvBackend) Set(ctx context.Context, key, value string) error {
	return ErrReadOnly
}

func (e *EnvBackend) Delete(ctx context.Context, key string) error {
	return ErrReadOnly
}

func (e *EnvBackend) Available() bool { return true }

func (e *EnvBackend) Priority() int { return 100 }

func envVar(key string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
	return envPrefix + mapped
}
