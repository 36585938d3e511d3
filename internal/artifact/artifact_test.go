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

package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestStoreBytes_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	uri, err := store.StoreBytes([]byte("wav data"), "wf_abc", "audio.wav")
	if err != nil {
		t.Fatalf("StoreBytes failed: %v", err)
	}

	if !strings.HasPrefix(uri, "voxflow://artifact/wf_abc/") {
		t.Errorf("unexpected URI shape: %q", uri)
	}

	path, err := store.Resolve(uri)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read artifact: %v", err)
	}
	if string(data) != "wav data" {
		t.Errorf("content mismatch: %q", data)
	}
}

func TestStoreFromPath(t *testing.T) {
	store := newTestStore(t)

	src := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(src, []byte("mp4 bytes"), 0600); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}

	uri, err := store.StoreFromPath(src, "wf_abc")
	if err != nil {
		t.Fatalf("StoreFromPath failed: %v", err)
	}

	if !store.Exists(uri) {
		t.Errorf("expected artifact to exist")
	}

	info, err := store.FileInfo(uri)
	if err != nil {
		t.Fatalf("FileInfo failed: %v", err)
	}
	if info.Size != int64(len("mp4 bytes")) {
		t.Errorf("expected size %d, got %d", len("mp4 bytes"), info.Size)
	}
}

func TestStoreFromPath_MissingSource(t *testing.T) {
	store := newTestStore(t)

	_, err := store.StoreFromPath("/does/not/exist.mp4", "wf_abc")
	if err == nil {
		t.Fatal("expected error for missing source")
	}

	var jobErr *vferrors.JobError
	if !errors.As(err, &jobErr) || jobErr.Code != vferrors.CodeSourceUnreachable {
		t.Errorf("expected SOURCE_UNREACHABLE, got %v", err)
	}
}

func TestResolve_RejectsEscapes(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		uri  string
	}{
		{"wrong scheme", "https://artifact/wf_abc/file.wav"},
		{"wrong host", "voxflow://other/wf_abc/file.wav"},
		{"dotdot name", "voxflow://artifact/wf_abc/..%2F..%2Fetc"},
		{"empty name", "voxflow://artifact/wf_abc/"},
		{"no workflow", "voxflow://artifact//file.wav"},
		{"bad workflow id", "voxflow://artifact/wf%20abc/file.wav"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Resolve(tt.uri)
			if err == nil {
				t.Fatalf("expected %q to be rejected", tt.uri)
			}
			var validationErr *vferrors.ValidationError
			if !errors.As(err, &validationErr) {
				t.Errorf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}
}

func TestResolve_MissingFile(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve("voxflow://artifact/wf_abc/ghost.wav")
	if err == nil {
		t.Fatal("expected error for missing artifact")
	}

	var notFound *vferrors.NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	store := newTestStore(t)

	uri, err := store.StoreBytes([]byte("payload"), "wf_abc", "audio.wav")
	if err != nil {
		t.Fatalf("StoreBytes failed: %v", err)
	}

	result, err := store.Cleanup(uri)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if !result.Success || result.FreedBytes != int64(len("payload")) {
		t.Errorf("unexpected cleanup result: %+v", result)
	}

	// Second delete of the same URI succeeds with nothing freed.
	result, err = store.Cleanup(uri)
	if err != nil {
		t.Fatalf("second Cleanup failed: %v", err)
	}
	if !result.Success || result.FreedBytes != 0 {
		t.Errorf("expected idempotent cleanup, got: %+v", result)
	}

	if store.Exists(uri) {
		t.Errorf("artifact should be gone")
	}
}

func TestCleanupWorkflow(t *testing.T) {
	store := newTestStore(t)

	uri1, _ := store.StoreBytes([]byte("a"), "wf_abc", "one.wav")
	uri2, _ := store.StoreBytes([]byte("b"), "wf_abc", "two.wav")
	other, _ := store.StoreBytes([]byte("c"), "wf_other", "three.wav")

	if err := store.CleanupWorkflow("wf_abc"); err != nil {
		t.Fatalf("CleanupWorkflow failed: %v", err)
	}

	if store.Exists(uri1) || store.Exists(uri2) {
		t.Errorf("workflow artifacts should be gone")
	}
	if !store.Exists(other) {
		t.Errorf("other workflow's artifacts must survive")
	}
}

func TestUniqueName(t *testing.T) {
	tests := []struct {
		base       string
		wantPrefix string
		wantSuffix string
	}{
		{"video.mp4", "video_", ".mp4"},
		{"my movie (1).mp4", "my_movie_1_", ".mp4"},
		{"", "artifact_", ""},
		{"audio", "audio_", ""},
		{"../../etc/passwd", ".._.._etc_passwd_", ""},
	}

	for _, tt := range tests {
		got := uniqueName(tt.base)
		if !strings.HasPrefix(got, tt.wantPrefix) {
			t.Errorf("uniqueName(%q) = %q, want prefix %q", tt.base, got, tt.wantPrefix)
		}
		if !strings.HasSuffix(got, tt.wantSuffix) {
			t.Errorf("uniqueName(%q) = %q, want suffix %q", tt.base, got, tt.wantSuffix)
		}
		if strings.Contains(got, "/") {
			t.Errorf("uniqueName(%q) = %q contains a path separator", tt.base, got)
		}
	}
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.StoreBytes([]byte("data"), "wf_abc", "audio.wav"); err != nil {
		t.Fatalf("StoreBytes failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(store.Root(), "wf_abc"))
	if err != nil {
		t.Fatalf("failed to read workflow dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
