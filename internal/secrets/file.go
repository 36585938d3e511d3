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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for master-key derivation.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

// FileBackend stores secrets in one AES-256-GCM encrypted JSON file.
// The master passphrase comes from VOXFLOW_MASTER_KEY or a master.key
// file beside the secrets file; without one the backend reports
// unavailable rather than failing construction.
type FileBackend struct {
	path       string
	passphrase []byte
	mu         sync.Mutex
}

// envelope is the on-disk layout.
type envelope struct {
	Salt  []byte `json:"salt"`
	Nonce []byte `json:"nonce"`
	Data  []byte `json:"data"`
}

// NewFileBackend uses path, defaulting to secrets.enc in the user
// config directory.
func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("secrets: config directory: %w", err)
		}
		path = filepath.Join(configDir, "voxflow", "secrets.enc")
	}
	return &FileBackend{
		path:       path,
		passphrase: readPassphrase(path),
	}, nil
}

func readPassphrase(path string) []byte {
	if v := os.Getenv("VOXFLOW_MASTER_KEY"); v != "" {
		return []byte(v)
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(path), "master.key"))
	if err != nil {
		return nil
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	return []byte(trimmed)
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Available() bool { return len(f.passphrase) > 0 }

func (f *FileBackend) Priority() int { return 25 }

func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	if !f.Available() {
		return "", fmt.Errorf("%w: no master key", ErrUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

func (f *FileBackend) Set(ctx context.Context, key, value string) error {
	if !f.Available() {
		return fmt.Errorf("%w: no master key", ErrUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	values[key] = value
	return f.save(values)
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	if !f.Available() {
		return fmt.Errorf("%w: no master key", ErrUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(values, key)
	return f.save(values)
}

// load decrypts the file; a missing file is an empty store.
func (f *FileBackend) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("secrets: read file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("secrets: corrupt secrets file: %w", err)
	}

	gcm, err := f.cipher(env.Salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt failed (wrong master key?): %w", err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(plaintext, &values); err != nil {
		return nil, fmt.Errorf("secrets: corrupt secrets payload: %w", err)
	}
	return values, nil
}

// save encrypts with a fresh salt and nonce and replaces the file
// atomically.
func (f *FileBackend) save(values map[string]string) error {
	plaintext, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("secrets: encode: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("secrets: salt: %w", err)
	}
	gcm, err := f.cipher(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secrets: nonce: %w", err)
	}

	env := envelope{
		Salt:  salt,
		Nonce: nonce,
		Data:  gcm.Seal(nil, nonce, plaintext, nil),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("secrets: encode envelope: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("secrets: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".secrets.*.tmp")
	if err != nil {
		return fmt.Errorf("secrets: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: chmod: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("secrets: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("secrets: replace file: %w", err)
	}
	return nil
}

func (f *FileBackend) cipher(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(f.passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm: %w", err)
	}
	return gcm, nil
}
