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

package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/artifact"
	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/enhance"
	"github.com/voxflow/voxflow/internal/executor"
	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/media"
	"github.com/voxflow/voxflow/internal/pipeline"
	"github.com/voxflow/voxflow/internal/speech"
	"github.com/voxflow/voxflow/internal/workflow"
)

type stubExtractor struct{}

func (stubExtractor) Extract(ctx context.Context, videoPath string) (*media.Audio, error) {
	tmp, err := os.CreateTemp("", "voxflow-mcp-test-*.wav")
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Write(make([]byte, 256)); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()
	return &media.Audio{
		Path:       tmp.Name(),
		SizeBytes:  256,
		Duration:   time.Second,
		SampleRate: media.SampleRate,
		Channels:   media.Channels,
	}, nil
}

type stubRecognizer struct{}

func (stubRecognizer) Name() string { return "whisper" }

func (stubRecognizer) Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error) {
	return &speech.Result{
		Text:        "hello from the mcp test",
		Language:    "en",
		ServiceUsed: "whisper",
		Quality:     req.Quality,
		Duration:    time.Second,
	}, nil
}

type stubAnalyzer struct{}

func (stubAnalyzer) Enhance(ctx context.Context, rawText string) (*enhance.Enhancement, error) {
	return &enhance.Enhancement{EnhancedText: "Enhanced: " + rawText, Model: "stub-model"}, nil
}

func (stubAnalyzer) Summarize(ctx context.Context, text string) (string, error) {
	return "summary", nil
}

func (stubAnalyzer) KeyPoints(ctx context.Context, text string) ([]string, error) {
	return []string{"a point"}, nil
}

func (stubAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (*enhance.Sentiment, error) {
	return &enhance.Sentiment{Sentiment: "positive", Confidence: 0.9}, nil
}

func (stubAnalyzer) IdentifyTopics(ctx context.Context, text string) ([]string, error) {
	return []string{"testing"}, nil
}

func (stubAnalyzer) Model() string { return "stub-model" }

func newTestServer(t *testing.T) (*Server, *pipeline.Service) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	workflows, err := workflow.NewStore(t.TempDir(), logger)
	require.NoError(t, err)
	jobs := job.NewStore(job.NewMemoryBackend(), time.Hour, logger)
	artifacts, err := artifact.New(artifact.Config{
		Root:       t.TempDir(),
		HTTPClient: http.DefaultClient,
		Logger:     logger,
	})
	require.NoError(t, err)

	lim := config.OperationLimits{Concurrency: 2, Timeout: 30 * time.Second}
	exec := executor.New(config.ExecutorConfig{Upload: lim, Extract: lim, Transcribe: lim, Enhance: lim},
		jobs, workflows, logger)
	t.Cleanup(func() { exec.Shutdown(context.Background(), 5*time.Second) })

	svc := pipeline.New(pipeline.Options{
		Workflows: workflows,
		Jobs:      jobs,
		Artifacts: artifacts,
		Executor:  exec,
		Extractor: stubExtractor{},
		Local:     stubRecognizer{},
		Analyzer:  stubAnalyzer{},
		Logger:    logger,
	})
	return New(svc, "test", logger), svc
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	}
}

// resultJSON decodes the single text content block of a successful tool result.
func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, "tool returned an error result")
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload
}

func videoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func waitForJob(t *testing.T, svc *pipeline.Service, jobID string) *job.Job {
	t.Helper()
	var j *job.Job
	require.Eventually(t, func() bool {
		var err error
		j, err = svc.GetJob(context.Background(), jobID)
		return err == nil && j.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return j
}

func TestCreateAndGetWorkflow(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleCreateWorkflow(ctx, callRequest("create_workflow", map[string]any{
		"input": "meeting recording",
	}))
	require.NoError(t, err)
	created := resultJSON(t, result)
	id, _ := created["workflow_id"].(string)
	require.NotEmpty(t, id)

	result, err = srv.handleGetWorkflow(ctx, callRequest("get_workflow", map[string]any{
		"workflow_id": id,
	}))
	require.NoError(t, err)
	state := resultJSON(t, result)
	assert.Equal(t, id, state["workflow_id"])
	assert.Contains(t, state, "steps")
}

func TestGetWorkflowMissingArgument(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetWorkflow(context.Background(), callRequest("get_workflow", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetWorkflowUnknown(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.handleGetWorkflow(context.Background(), callRequest("get_workflow", map[string]any{
		"workflow_id": "no-such-workflow",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUploadVideoSubmitsJob(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleUploadVideo(ctx, callRequest("upload_video", map[string]any{
		"source_url": videoFile(t),
	}))
	require.NoError(t, err)
	submitted := resultJSON(t, result)
	jobID, _ := submitted["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "queued", submitted["status"])
	assert.Contains(t, submitted["next_action"], "get_job")

	j := waitForJob(t, svc, jobID)
	assert.Equal(t, job.StatusCompleted, j.Status)
}

func TestExtractAudioRequiresUpload(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	w, err := svc.CreateWorkflow("", nil)
	require.NoError(t, err)

	result, err := srv.handleExtractAudio(ctx, callRequest("extract_audio", map[string]any{
		"workflow_id": w.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestFullPipelineThroughTools(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleUploadVideo(ctx, callRequest("upload_video", map[string]any{
		"source_url": videoFile(t),
	}))
	require.NoError(t, err)
	submitted := resultJSON(t, result)
	workflowID := submitted["workflow_id"].(string)
	waitForJob(t, svc, submitted["job_id"].(string))

	result, err = srv.handleExtractAudio(ctx, callRequest("extract_audio", map[string]any{
		"workflow_id": workflowID,
	}))
	require.NoError(t, err)
	waitForJob(t, svc, resultJSON(t, result)["job_id"].(string))

	result, err = srv.handleTranscribeAudio(ctx, callRequest("transcribe_audio", map[string]any{
		"workflow_id": workflowID,
		"quality":     "fast",
	}))
	require.NoError(t, err)
	j := waitForJob(t, svc, resultJSON(t, result)["job_id"].(string))
	require.Equal(t, job.StatusCompleted, j.Status)

	result, err = srv.handleEnhanceTranscription(ctx, callRequest("enhance_transcription", map[string]any{
		"workflow_id": workflowID,
	}))
	require.NoError(t, err)
	j = waitForJob(t, svc, resultJSON(t, result)["job_id"].(string))
	require.Equal(t, job.StatusCompleted, j.Status)
}

func TestAnalyzeWithExplicitText(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	w, err := svc.CreateWorkflow("", nil)
	require.NoError(t, err)

	handler := srv.analyzeHandler(pipeline.AnalyzeSentiment)
	result, err := handler(ctx, callRequest("analyze_sentiment", map[string]any{
		"workflow_id": w.ID,
		"text":        "what a great release",
	}))
	require.NoError(t, err)
	payload := resultJSON(t, result)
	assert.Equal(t, "positive", payload["sentiment"])
	assert.Equal(t, w.ID, payload["workflow_id"])
}

func TestAnalyzeWithoutTextFails(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	w, err := svc.CreateWorkflow("", nil)
	require.NoError(t, err)

	handler := srv.analyzeHandler(pipeline.AnalyzeSummary)
	result, err := handler(ctx, callRequest("summarize_content", map[string]any{
		"workflow_id": w.ID,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetJobWithSelect(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleUploadVideo(ctx, callRequest("upload_video", map[string]any{
		"source_url": videoFile(t),
	}))
	require.NoError(t, err)
	jobID := resultJSON(t, result)["job_id"].(string)
	waitForJob(t, svc, jobID)

	result, err = srv.handleGetJob(ctx, callRequest("get_job", map[string]any{
		"job_id": jobID,
		"select": ".status",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := result.Content[0].(mcp.TextContent)
	assert.Equal(t, `"completed"`, text.Text)
}

func TestCancelTerminalJobReportsError(t *testing.T) {
	srv, svc := newTestServer(t)
	ctx := context.Background()

	result, err := srv.handleUploadVideo(ctx, callRequest("upload_video", map[string]any{
		"source_url": videoFile(t),
	}))
	require.NoError(t, err)
	jobID := resultJSON(t, result)["job_id"].(string)
	waitForJob(t, svc, jobID)

	result, err = srv.handleCancelJob(ctx, callRequest("cancel_job", map[string]any{
		"job_id": jobID,
		"reason": "changed my mind",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
