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

// Package client is the Go client for the voxflow daemon API. It wraps the
// HTTP surface with typed methods and a terminal-state poller, and maps the
// daemon's error envelope onto APIError.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/requestid"
	"github.com/voxflow/voxflow/internal/workflow"
	"github.com/voxflow/voxflow/pkg/httpclient"
)

// DefaultBaseURL is where a locally started daemon listens.
const DefaultBaseURL = "http://127.0.0.1:8315/api/v1"

// Client talks to a voxflow daemon.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL sets the daemon base URL including the API base path,
// e.g. http://127.0.0.1:8315/api/v1.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		u, err := url.Parse(baseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base URL %q", baseURL)
		}
		c.baseURL = baseURL
		return nil
	}
}

// WithAPIKey sets the API key sent as a Bearer credential.
func WithAPIKey(apiKey string) Option {
	return func(c *Client) error {
		c.apiKey = apiKey
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = client
		return nil
	}
}

// New creates a daemon client. Without options it targets DefaultBaseURL
// with the shared retrying HTTP client.
func New(opts ...Option) (*Client, error) {
	c := &Client{baseURL: DefaultBaseURL}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.httpClient == nil {
		cfg := httpclient.DefaultConfig()
		cfg.UserAgent = "voxflow-client/1.0"
		hc, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("building http client: %w", err)
		}
		c.httpClient = hc
	}
	return c, nil
}

// APIError is a structured error answered by the daemon.
type APIError struct {
	Status     int
	Code       string
	Message    string
	Suggestion string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("daemon returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether the error is a 404 from the daemon.
func (e *APIError) IsNotFound() bool { return e.Status == http.StatusNotFound }

// IsConflict reports whether the error is a 409 from the daemon.
func (e *APIError) IsConflict() bool { return e.Status == http.StatusConflict }

// IsDraining reports whether the daemon refused the request because it is
// shutting down. Draining submissions can be retried against a fresh daemon.
func (e *APIError) IsDraining() bool { return e.Status == http.StatusServiceUnavailable }

// HealthResponse is the response from GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Service      string `json:"service"`
	Version      string `json:"version"`
	Architecture string `json:"architecture"`
	Timestamp    string `json:"timestamp"`
}

// Health returns the daemon health status.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Ping checks whether the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// CreateWorkflow creates an empty workflow and returns its id.
func (c *Client) CreateWorkflow(ctx context.Context, input string, options map[string]any) (string, error) {
	body := map[string]any{}
	if input != "" {
		body["input"] = input
	}
	if len(options) > 0 {
		body["options"] = options
	}
	var resp struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/workflow", body, &resp); err != nil {
		return "", err
	}
	return resp.WorkflowID, nil
}

// GetWorkflow fetches the full workflow state.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	var w workflow.Workflow
	if err := c.doJSON(ctx, http.MethodGet, "/workflow/"+url.PathEscape(workflowID), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// SelectWorkflow fetches the workflow state projected through a jq expression.
func (c *Client) SelectWorkflow(ctx context.Context, workflowID, selectExpr string) (json.RawMessage, error) {
	path := "/workflow/" + url.PathEscape(workflowID) + "?select=" + url.QueryEscape(selectExpr)
	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteWorkflow removes a workflow and its artifacts.
func (c *Client) DeleteWorkflow(ctx context.Context, workflowID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/workflow/"+url.PathEscape(workflowID), nil, nil)
}

// ListJobs returns every job recorded for a workflow.
func (c *Client) ListJobs(ctx context.Context, workflowID string) ([]*job.Job, error) {
	var resp struct {
		Jobs []*job.Job `json:"jobs"`
	}
	path := "/workflow/" + url.PathEscape(workflowID) + "/jobs"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Submission is the daemon's answer to a job-submitting endpoint.
type Submission struct {
	JobID      string     `json:"job_id"`
	Status     job.Status `json:"status"`
	WorkflowID string     `json:"workflow_id"`
	NextAction string     `json:"next_action"`
}

// UploadRequest asks the daemon to fetch a video into a workflow. An empty
// WorkflowID creates a workflow implicitly.
type UploadRequest struct {
	SourceURL  string `json:"source_url"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// UploadVideo starts the upload stage and returns the queued job.
func (c *Client) UploadVideo(ctx context.Context, req UploadRequest) (*Submission, error) {
	return c.submit(ctx, "/upload-video", req)
}

// ExtractRequest asks the daemon to extract audio from the uploaded video.
type ExtractRequest struct {
	WorkflowID string `json:"workflow_id"`
	Force      bool   `json:"force,omitempty"`
}

// ExtractAudio starts the extract stage and returns the queued job.
func (c *Client) ExtractAudio(ctx context.Context, req ExtractRequest) (*Submission, error) {
	return c.submit(ctx, "/extract-audio", req)
}

// TranscribeRequest asks the daemon to transcribe the extracted audio.
type TranscribeRequest struct {
	WorkflowID string `json:"workflow_id"`
	Quality    string `json:"quality,omitempty"`
	Language   string `json:"language,omitempty"`
	UseAzure   bool   `json:"use_azure,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// TranscribeAudio starts the transcribe stage and returns the queued job.
func (c *Client) TranscribeAudio(ctx context.Context, req TranscribeRequest) (*Submission, error) {
	return c.submit(ctx, "/transcribe-audio", req)
}

// EnhanceRequest asks the daemon to enhance the transcription.
type EnhanceRequest struct {
	WorkflowID string `json:"workflow_id"`
	RawText    string `json:"raw_text,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// EnhanceTranscription starts the enhance stage and returns the queued job.
func (c *Client) EnhanceTranscription(ctx context.Context, req EnhanceRequest) (*Submission, error) {
	return c.submit(ctx, "/enhance-transcription", req)
}

// AnalyzeKind names an immediate analysis endpoint.
type AnalyzeKind string

// The analyses the daemon runs synchronously.
const (
	AnalyzeSummary   AnalyzeKind = "summarize-content"
	AnalyzeKeyPoints AnalyzeKind = "extract-key-points"
	AnalyzeSentiment AnalyzeKind = "analyze-sentiment"
	AnalyzeTopics    AnalyzeKind = "identify-topics"
)

// AnalyzeRequest asks for an immediate analysis over a workflow's transcript,
// or over Text when set.
type AnalyzeRequest struct {
	WorkflowID string `json:"workflow_id"`
	Text       string `json:"text,omitempty"`
}

// Analyze runs an immediate analysis and returns its payload.
func (c *Client) Analyze(ctx context.Context, kind AnalyzeKind, req AnalyzeRequest) (map[string]any, error) {
	var payload map[string]any
	if err := c.doJSON(ctx, http.MethodPost, "/"+string(kind), req, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// GetJob fetches a job's current state.
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	var j job.Job
	if err := c.doJSON(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// CancelJob requests cancellation of a queued or running job.
func (c *Client) CancelJob(ctx context.Context, jobID, reason string) error {
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.doJSON(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", body, nil)
}

// WaitForJob polls a job until it reaches a terminal status. The interval
// defaults to one second when zero.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (*job.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		j, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.Status.Terminal() {
			return j, nil
		}
		select {
		case <-ctx.Done():
			return j, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) submit(ctx context.Context, path string, req any) (*Submission, error) {
	var sub Submission
	if err := c.doJSON(ctx, http.MethodPost, path, req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// doJSON issues a request with a JSON body and decodes the JSON response
// into out when out is non-nil. Error statuses become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	requestid.Inject(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeAPIError maps the daemon's error envelope onto *APIError. Bodies
// that are not the envelope still produce an APIError with the raw text.
func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}

	var envelope struct {
		Status string `json:"status"`
		Error  struct {
			Code       string `json:"code"`
			Message    string `json:"message"`
			Suggestion string `json:"suggestion"`
			Retryable  bool   `json:"retryable"`
			RetryAfter int    `json:"retry_after"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil {
		if envelope.Status == "draining" {
			apiErr.Message = "daemon is draining"
			apiErr.Retryable = true
		} else {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Suggestion = envelope.Error.Suggestion
			apiErr.Retryable = envelope.Error.Retryable
			apiErr.RetryAfter = time.Duration(envelope.Error.RetryAfter) * time.Second
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" && apiErr.RetryAfter == 0 {
		if secs, err := time.ParseDuration(ra + "s"); err == nil {
			apiErr.RetryAfter = secs
		}
	}
	return apiErr
}
