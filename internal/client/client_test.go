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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/workflow"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := New(WithBaseURL(server.URL), WithHTTPClient(server.Client()))
	require.NoError(t, err)
	return c
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	_, err := New(WithBaseURL("://not-a-url"))
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "voxflow",
			"version": "1.2.3",
		})
	}))

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
}

func TestAPIKeyHeader(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(t, w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	c.apiKey = "sk-test-key"

	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "Bearer sk-test-key", gotAuth)
}

func TestCreateWorkflow(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/workflow", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "team meeting", body["input"])
		writeJSON(t, w, http.StatusOK, map[string]any{"workflow_id": "wf-123"})
	}))

	id, err := c.CreateWorkflow(context.Background(), "team meeting", nil)
	require.NoError(t, err)
	assert.Equal(t, "wf-123", id)
}

func TestGetWorkflow(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/workflow/wf-123", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"workflow_id":    "wf-123",
			"schema_version": workflow.SchemaVersion,
			"steps": map[string]any{
				"upload_video": map[string]any{"status": "completed"},
			},
		})
	}))

	w, err := c.GetWorkflow(context.Background(), "wf-123")
	require.NoError(t, err)
	assert.Equal(t, "wf-123", w.ID)
	require.Contains(t, w.Steps, workflow.StepUploadVideo)
	assert.Equal(t, workflow.StatusCompleted, w.Steps[workflow.StepUploadVideo].Status)
}

func TestSelectWorkflow(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ".workflow_id", r.URL.Query().Get("select"))
		writeJSON(t, w, http.StatusOK, "wf-123")
	}))

	raw, err := c.SelectWorkflow(context.Background(), "wf-123", ".workflow_id")
	require.NoError(t, err)
	assert.JSONEq(t, `"wf-123"`, string(raw))
}

func TestUploadVideoSubmits(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-video", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://example.com/talk.mp4", body["source_url"])
		writeJSON(t, w, http.StatusAccepted, map[string]any{
			"job_id":      "job_0a1b2c3d-0000-4000-8000-000000000000",
			"status":      "queued",
			"workflow_id": "wf-123",
			"next_action": "poll GET /jobs/... until terminal",
		})
	}))

	sub, err := c.UploadVideo(context.Background(), UploadRequest{SourceURL: "https://example.com/talk.mp4"})
	require.NoError(t, err)
	assert.Equal(t, job.StatusQueued, sub.Status)
	assert.Equal(t, "wf-123", sub.WorkflowID)
	assert.NotEmpty(t, sub.JobID)
}

func TestErrorEnvelope(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusConflict, map[string]any{
			"error": map[string]any{
				"code":       "STEP_PRECONDITION",
				"message":    "step extract_audio requires upload_video",
				"suggestion": "run upload_video first",
			},
		})
	}))

	_, err := c.ExtractAudio(context.Background(), ExtractRequest{WorkflowID: "wf-123"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsConflict())
	assert.Equal(t, "STEP_PRECONDITION", apiErr.Code)
	assert.Equal(t, "run upload_video first", apiErr.Suggestion)
	assert.Contains(t, apiErr.Error(), "STEP_PRECONDITION")
}

func TestRetryableErrorCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{
			"error": map[string]any{
				"code":        "SOURCE_UNREACHABLE",
				"message":     "download failed",
				"retryable":   true,
				"retry_after": 60,
			},
		})
	}))

	_, err := c.UploadVideo(context.Background(), UploadRequest{SourceURL: "https://example.com/x.mp4"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, time.Minute, apiErr.RetryAfter)
}

func TestDrainingResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "10")
		writeJSON(t, w, http.StatusServiceUnavailable, map[string]any{"status": "draining"})
	}))

	_, err := c.UploadVideo(context.Background(), UploadRequest{SourceURL: "https://example.com/x.mp4"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsDraining())
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, 10*time.Second, apiErr.RetryAfter)
}

func TestNonJSONErrorBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))

	err := c.Ping(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad gateway", apiErr.Message)
}

func TestWaitForJobPollsUntilTerminal(t *testing.T) {
	var polls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		status := "running"
		if polls >= 3 {
			status = "completed"
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"job_id": "job_0a1b2c3d-0000-4000-8000-000000000000",
			"status": status,
		})
	}))

	j, err := c.WaitForJob(context.Background(), "job_0a1b2c3d-0000-4000-8000-000000000000", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, j.Status)
	assert.GreaterOrEqual(t, polls, 3)
}

func TestWaitForJobHonorsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"job_id": "job_0a1b2c3d-0000-4000-8000-000000000000",
			"status": "running",
		})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	j, err := c.WaitForJob(ctx, "job_0a1b2c3d-0000-4000-8000-000000000000", 10*time.Millisecond)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, j)
	assert.Equal(t, job.StatusRunning, j.Status)
}

func TestCancelJob(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job_0a1b2c3d-0000-4000-8000-000000000000/cancel", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "operator request", body["reason"])
		writeJSON(t, w, http.StatusOK, map[string]any{"job_id": "job_0a1b2c3d-0000-4000-8000-000000000000", "status": "cancelled"})
	}))

	require.NoError(t, c.CancelJob(context.Background(), "job_0a1b2c3d-0000-4000-8000-000000000000", "operator request"))
}

func TestAnalyze(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze-sentiment", r.URL.Path)
		writeJSON(t, w, http.StatusOK, map[string]any{
			"sentiment":  "positive",
			"confidence": 0.9,
		})
	}))

	payload, err := c.Analyze(context.Background(), AnalyzeSentiment, AnalyzeRequest{WorkflowID: "wf-123", Text: "great"})
	require.NoError(t, err)
	assert.Equal(t, "positive", payload["sentiment"])
}
