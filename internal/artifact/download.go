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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// downloadChunkSize is the read granularity for streamed downloads.
// Cancellation is observed between chunks.
const downloadChunkSize = 128 * 1024

// Progress reports download advancement to the caller.
type Progress struct {
	// Bytes is how much has been written so far.
	Bytes int64

	// Total is the expected size, or 0 when the source did not say.
	Total int64

	// Percent is Bytes/Total scaled to [0,100], 0 when Total is unknown.
	Percent float64
}

// ProgressFunc receives Progress updates during a download. Calls are
// serialized; implementations should return quickly.
type ProgressFunc func(Progress)

// StoreFromURL streams a remote source into the workflow's directory
// and returns its artifact URI. Supported schemes are http, https, and
// s3 (when the store was built with an S3 fetcher).
//
// The partial file is removed on any failure, including cancellation.
func (s *Store) StoreFromURL(ctx context.Context, sourceURL, workflowID string, onProgress ProgressFunc) (string, error) {
	if err := validateWorkflowID(workflowID); err != nil {
		return "", err
	}

	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", &vferrors.ValidationError{Field: "source_url", Message: fmt.Sprintf("malformed URL: %v", err)}
	}

	var body io.ReadCloser
	var total int64

	switch u.Scheme {
	case "http", "https":
		body, total, err = s.openHTTP(ctx, sourceURL)
	case "s3":
		body, total, err = s.openS3(ctx, u)
	default:
		return "", &vferrors.ValidationError{
			Field:      "source_url",
			Message:    fmt.Sprintf("unsupported scheme %q", u.Scheme),
			Suggestion: "use an http(s) or s3 URL, or a local path",
		}
	}
	if err != nil {
		return "", err
	}
	defer body.Close()

	if s.maxDownload > 0 && total > s.maxDownload {
		return "", vferrors.NewJobError(vferrors.CodeSourceTooLarge,
			"source is %d bytes, cap is %d", total, s.maxDownload)
	}

	name := uniqueName(path.Base(u.Path))
	dest, err := s.preparePath(workflowID, name)
	if err != nil {
		return "", err
	}

	start := time.Now()
	written, err := s.streamTo(ctx, dest, body, total, onProgress)
	if err != nil {
		return "", err
	}

	s.logger.Info("artifact downloaded",
		slog.String("workflow_id", workflowID),
		slog.Int64("bytes", written),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return makeURI(workflowID, name), nil
}

// openHTTP issues the GET and validates the response status.
func (s *Store) openHTTP(ctx context.Context, sourceURL string) (io.ReadCloser, int64, error) {
	if s.httpClient == nil {
		return nil, 0, fmt.Errorf("artifact: no HTTP client configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, 0, &vferrors.ValidationError{Field: "source_url", Message: err.Error()}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := classifyCtxErr(ctx, err); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, vferrors.NewRetryableError(vferrors.CodeSourceUnreachable,
			"fetch failed: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		jobErr := vferrors.NewRetryableError(vferrors.CodeSourceUnreachable,
			"source returned HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not heal on retry.
			jobErr.Retryable = false
			jobErr.RetryAfter = 0
		}
		return nil, 0, jobErr
	}

	return resp.Body, resp.ContentLength, nil
}

// openS3 fetches an s3://bucket/key source via the configured fetcher.
func (s *Store) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, int64, error) {
	if s.s3 == nil {
		return nil, 0, vferrors.NewJobError(vferrors.CodeSourceUnreachable,
			"s3 sources are not configured")
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, 0, &vferrors.ValidationError{Field: "source_url", Message: "s3 URL needs a bucket and key"}
	}

	body, total, err := s.s3.Fetch(ctx, bucket, key)
	if err != nil {
		if ctxErr := classifyCtxErr(ctx, err); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, vferrors.NewRetryableError(vferrors.CodeSourceUnreachable,
			"s3 fetch failed: %v", err)
	}

	return body, total, nil
}

// streamTo copies body into dest (via tmp+rename), enforcing the size
// cap and reporting progress. The tmp file is deleted on any error.
func (s *Store) streamTo(ctx context.Context, dest string, body io.Reader, total int64, onProgress ProgressFunc) (int64, error) {
	tmp := dest + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("artifact: create temp: %w", err)
	}

	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	var written int64
	buf := make([]byte, downloadChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			cleanup()
			return 0, classifyCtxErr(ctx, err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				cleanup()
				return 0, fmt.Errorf("artifact: write: %w", err)
			}
			written += int64(n)

			if s.maxDownload > 0 && written > s.maxDownload {
				cleanup()
				return 0, vferrors.NewJobError(vferrors.CodeSourceTooLarge,
					"source exceeded the %d byte cap while streaming", s.maxDownload)
			}

			if onProgress != nil {
				p := Progress{Bytes: written, Total: total}
				if total > 0 {
					p.Percent = float64(written) / float64(total) * 100
				}
				onProgress(p)
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			cleanup()
			if ctxErr := classifyCtxErr(ctx, readErr); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, vferrors.NewRetryableError(vferrors.CodeSourceUnreachable,
				"download interrupted: %v", readErr)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("artifact: rename: %w", err)
	}

	if onProgress != nil {
		onProgress(Progress{Bytes: written, Total: written, Percent: 100})
	}

	return written, nil
}

// classifyCtxErr maps context termination onto the job error taxonomy.
// Returns nil when the error is unrelated to the context.
func classifyCtxErr(ctx context.Context, err error) *vferrors.JobError {
	switch {
	case errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled):
		return vferrors.NewJobError(vferrors.CodeCancelled, "download cancelled")
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded):
		return &vferrors.JobError{
			Code:       vferrors.CodeTimeout,
			Message:    "download timed out",
			Retryable:  true,
			RetryAfter: vferrors.DefaultRetryAfter,
		}
	default:
		return nil
	}
}
