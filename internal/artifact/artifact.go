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

// Package artifact stores pipeline files under per-workflow directories
// and hands out opaque reference URIs in their place. Steps exchange
// URIs, never paths; Resolve is the only way to turn a URI back into a
// filesystem location, and it refuses anything outside the store root.
//
// Writes go to a .tmp file and are renamed into place, so a reader that
// can see an artifact always sees all of it.
package artifact

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Scheme is the URI scheme for artifact references.
const Scheme = "voxflow"

// uriHost is the authority component of artifact URIs.
const uriHost = "artifact"

// safeName restricts artifact file names to a portable character set.
var safeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// workflowIDPattern matches the IDs the workflow store hands out.
var workflowIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Info describes a stored artifact.
type Info struct {
	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// ContentType is the detected MIME type, if known.
	ContentType string `json:"content_type,omitempty"`
}

// CleanupResult reports the outcome of deleting an artifact.
type CleanupResult struct {
	// Success is true when the artifact no longer exists (including
	// when it was already gone).
	Success bool `json:"success"`

	// FreedBytes is the size of the deleted file, 0 if it was missing.
	FreedBytes int64 `json:"freed_bytes"`
}

// Config configures the artifact store.
type Config struct {
	// Root is the directory under which per-workflow directories live.
	Root string

	// MaxDownloadBytes caps remote downloads. Zero means no cap.
	MaxDownloadBytes int64

	// HTTPClient fetches http(s) sources. Required for StoreFromURL.
	HTTPClient *http.Client

	// S3 fetches s3:// sources. Optional; s3 sources fail with
	// SOURCE_UNREACHABLE when nil.
	S3 S3Fetcher

	// Logger receives store activity. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is the artifact store. All methods are safe for concurrent use;
// files are written once and never mutated in place.
type Store struct {
	root        string
	maxDownload int64
	httpClient  *http.Client
	s3          S3Fetcher
	logger      *slog.Logger
}

// New creates an artifact store rooted at cfg.Root, creating the
// directory if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("artifact: root directory is required")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		root:        root,
		maxDownload: cfg.MaxDownloadBytes,
		httpClient:  cfg.HTTPClient,
		s3:          cfg.S3,
		logger:      logger,
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// StoreFromPath copies a local file into the workflow's directory and
// returns its artifact URI. Same-filesystem sources are hard-linked
// instead of copied when possible.
func (s *Store) StoreFromPath(path, workflowID string) (string, error) {
	if err := validateWorkflowID(workflowID); err != nil {
		return "", err
	}

	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", vferrors.NewJobError(vferrors.CodeSourceUnreachable, "source file not found: %s", path)
		}
		return "", fmt.Errorf("artifact: open source: %w", err)
	}
	defer src.Close()

	name := uniqueName(filepath.Base(path))
	dest, err := s.preparePath(workflowID, name)
	if err != nil {
		return "", err
	}

	// A hard link is atomic and free; fall back to a copy across
	// filesystems.
	if err := os.Link(path, dest); err == nil {
		return makeURI(workflowID, name), nil
	}

	if err := s.writeAtomic(dest, src); err != nil {
		return "", err
	}

	return makeURI(workflowID, name), nil
}

// StoreBytes writes a buffer into the workflow's directory. Kind
// becomes the file name stem (e.g., "audio" produces audio_<id>.wav
// when kind carries no extension the caller meant to keep).
func (s *Store) StoreBytes(data []byte, workflowID, kind string) (string, error) {
	if err := validateWorkflowID(workflowID); err != nil {
		return "", err
	}

	name := uniqueName(kind)
	dest, err := s.preparePath(workflowID, name)
	if err != nil {
		return "", err
	}

	if err := s.writeAtomic(dest, bytes.NewReader(data)); err != nil {
		return "", err
	}

	return makeURI(workflowID, name), nil
}

// Resolve turns an artifact URI into an absolute path. The file must
// exist; a URI whose file is gone resolves to a NotFoundError, never a
// dangling path.
func (s *Store) Resolve(uri string) (string, error) {
	workflowID, name, err := parseURI(uri)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.root, workflowID, name)

	// Join cleans the path; a crafted name that escaped the workflow
	// directory would no longer have the root as a prefix.
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return "", &vferrors.ValidationError{Field: "artifact_uri", Message: "path escapes artifact store"}
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", &vferrors.NotFoundError{Resource: "artifact", ID: uri}
		}
		return "", fmt.Errorf("artifact: stat: %w", err)
	}

	return path, nil
}

// Exists reports whether the artifact URI resolves to an existing file.
func (s *Store) Exists(uri string) bool {
	_, err := s.Resolve(uri)
	return err == nil
}

// FileInfo returns size and content type for a stored artifact.
func (s *Store) FileInfo(uri string) (Info, error) {
	path, err := s.Resolve(uri)
	if err != nil {
		return Info{}, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("artifact: stat: %w", err)
	}

	return Info{
		Size:        fi.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

// Cleanup deletes an artifact. It is idempotent: deleting a missing
// artifact succeeds with FreedBytes 0.
func (s *Store) Cleanup(uri string) (CleanupResult, error) {
	workflowID, name, err := parseURI(uri)
	if err != nil {
		return CleanupResult{}, err
	}

	path := filepath.Join(s.root, workflowID, name)
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return CleanupResult{}, &vferrors.ValidationError{Field: "artifact_uri", Message: "path escapes artifact store"}
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return CleanupResult{Success: true}, nil
		}
		return CleanupResult{}, fmt.Errorf("artifact: stat: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return CleanupResult{}, fmt.Errorf("artifact: remove: %w", err)
	}

	s.logger.Debug("artifact cleaned up",
		slog.String("uri", uri),
		slog.Int64("freed_bytes", fi.Size()))

	return CleanupResult{Success: true, FreedBytes: fi.Size()}, nil
}

// CleanupWorkflow removes the workflow's directory and everything in it.
func (s *Store) CleanupWorkflow(workflowID string) error {
	if err := validateWorkflowID(workflowID); err != nil {
		return err
	}

	dir := filepath.Join(s.root, workflowID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("artifact: remove workflow dir: %w", err)
	}

	s.logger.Debug("workflow artifacts cleaned up",
		slog.String("workflow_id", workflowID))

	return nil
}

// preparePath creates the workflow directory and returns the final path
// for a new artifact.
func (s *Store) preparePath(workflowID, name string) (string, error) {
	dir := filepath.Join(s.root, workflowID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("artifact: create workflow dir: %w", err)
	}
	return filepath.Join(dir, name), nil
}

// writeAtomic streams r into path via a .tmp sibling and a rename.
func (s *Store) writeAtomic(path string, r io.Reader) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: close temp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: rename: %w", err)
	}

	return nil
}

// makeURI builds the external reference for a stored file.
func makeURI(workflowID, name string) string {
	return fmt.Sprintf("%s://%s/%s/%s", Scheme, uriHost, workflowID, name)
}

// parseURI validates and splits an artifact URI.
func parseURI(uri string) (workflowID, name string, err error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != Scheme || u.Host != uriHost {
		return "", "", &vferrors.ValidationError{
			Field:      "artifact_uri",
			Message:    fmt.Sprintf("not an artifact URI: %q", uri),
			Suggestion: "use a URI returned by the artifact store",
		}
	}

	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &vferrors.ValidationError{Field: "artifact_uri", Message: "malformed artifact URI path"}
	}

	workflowID, name = parts[0], parts[1]
	if err := validateWorkflowID(workflowID); err != nil {
		return "", "", err
	}
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", "", &vferrors.ValidationError{Field: "artifact_uri", Message: "artifact name escapes workflow directory"}
	}

	return workflowID, name, nil
}

// validateWorkflowID rejects IDs that could not have come from the
// workflow store.
func validateWorkflowID(workflowID string) error {
	if !workflowIDPattern.MatchString(workflowID) {
		return &vferrors.ValidationError{Field: "workflow_id", Message: fmt.Sprintf("invalid workflow id %q", workflowID)}
	}
	return nil
}

// uniqueName derives a collision-free file name from a source name or
// kind, preserving a recognizable extension.
func uniqueName(base string) string {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	stem = safeName.ReplaceAllString(stem, "_")
	if stem == "" || stem == "." {
		stem = "artifact"
	}
	if len(stem) > 64 {
		stem = stem[:64]
	}

	ext = safeName.ReplaceAllString(ext, "")
	if ext != "" {
		ext = "." + strings.TrimPrefix(ext, ".")
	}

	id := uuid.NewString()[:8]
	return fmt.Sprintf("%s_%s%s", stem, id, ext)
}
