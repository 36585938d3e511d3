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

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxflow/voxflow/internal/artifact"
	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/enhance"
	"github.com/voxflow/voxflow/internal/executor"
	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/media"
	"github.com/voxflow/voxflow/internal/speech"
	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, videoPath string) (*media.Audio, error) {
	if f.err != nil {
		return nil, f.err
	}
	tmp, err := os.CreateTemp("", "voxflow-test-audio-*.wav")
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Write(make([]byte, 1024)); err != nil {
		tmp.Close()
		return nil, err
	}
	tmp.Close()
	return &media.Audio{
		Path:       tmp.Name(),
		SizeBytes:  1024,
		Duration:   2 * time.Second,
		SampleRate: media.SampleRate,
		Channels:   media.Channels,
	}, nil
}

type fakeRecognizer struct {
	name string
	text string
	err  error
}

func (f *fakeRecognizer) Name() string { return f.name }

func (f *fakeRecognizer) Transcribe(ctx context.Context, req speech.Request) (*speech.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &speech.Result{
		Text:        f.text,
		Language:    "en",
		ServiceUsed: f.name,
		Quality:     req.Quality,
		Duration:    2 * time.Second,
	}, nil
}

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Enhance(ctx context.Context, rawText string) (*enhance.Enhancement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &enhance.Enhancement{
		EnhancedText: "Enhanced: " + rawText,
		Summary:      "a short talk",
		KeyPoints:    []string{"one"},
		Topics:       []string{"testing"},
		Sentiment:    "positive",
		Model:        f.Model(),
	}, nil
}

func (f *fakeAnalyzer) Summarize(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "summary of: " + text, nil
}

func (f *fakeAnalyzer) KeyPoints(ctx context.Context, text string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{"first point", "second point"}, nil
}

func (f *fakeAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (*enhance.Sentiment, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &enhance.Sentiment{Sentiment: "positive", Confidence: 0.9, Rationale: "upbeat"}, nil
}

func (f *fakeAnalyzer) IdentifyTopics(ctx context.Context, text string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []string{"go", "pipelines"}, nil
}

func (f *fakeAnalyzer) Model() string { return "fake-model" }

type testEnv struct {
	svc       *Service
	workflows *workflow.Store
	jobs      *job.Store
	artifacts *artifact.Store
}

func newTestService(t *testing.T) *testEnv {
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

	svc := New(Options{
		Workflows: workflows,
		Jobs:      jobs,
		Artifacts: artifacts,
		Executor:  exec,
		Extractor: &fakeExtractor{},
		Local:     &fakeRecognizer{name: "whisper", text: "hello world"},
		Analyzer:  &fakeAnalyzer{},
		Logger:    logger,
	})
	return &testEnv{svc: svc, workflows: workflows, jobs: jobs, artifacts: artifacts}
}

func writeVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talk.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o600))
	return path
}

// waitTerminal polls until the job reaches a terminal status.
func waitTerminal(t *testing.T, jobs *job.Store, id string) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := jobs.Get(context.Background(), id)
		require.NoError(t, err)
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
	return nil
}

func stepResultMap(t *testing.T, store *workflow.Store, workflowID string, step workflow.StepName) map[string]any {
	t.Helper()
	raw, err := store.StepResult(workflowID, step)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestSubmitUploadCreatesWorkflow(t *testing.T) {
	env := newTestService(t)

	j, err := env.svc.SubmitUpload(context.Background(), UploadRequest{SourceURL: writeVideo(t)})
	require.NoError(t, err)
	assert.NotEmpty(t, j.WorkflowID)
	assert.Equal(t, job.StatusQueued, j.Status)

	done := waitTerminal(t, env.jobs, j.ID)
	require.Equal(t, job.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.Result["video_url"])
	assert.EqualValues(t, 18, done.Result["size"])

	w, err := env.workflows.Get(j.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, w.StepState(workflow.StepUploadVideo).Status)
}

func TestSubmitUploadFromHTTP(t *testing.T) {
	payload := make([]byte, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	env := newTestService(t)
	j, err := env.svc.SubmitUpload(context.Background(), UploadRequest{SourceURL: srv.URL + "/talk.mp4"})
	require.NoError(t, err)

	done := waitTerminal(t, env.jobs, j.ID)
	require.Equal(t, job.StatusCompleted, done.Status)
	uri, _ := done.Result["video_url"].(string)
	assert.True(t, env.artifacts.Exists(uri))
	assert.Equal(t, srv.URL+"/talk.mp4", done.Result["source_url"])
}

func TestSubmitUploadRequiresSource(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.SubmitUpload(context.Background(), UploadRequest{})
	var ve *vferrors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "source_url", ve.Field)
}

func TestSubmitExtractRequiresUpload(t *testing.T) {
	env := newTestService(t)
	w, err := env.workflows.Create("talk.mp4", nil)
	require.NoError(t, err)

	_, err = env.svc.SubmitExtract(context.Background(), ExtractRequest{WorkflowID: w.ID})
	var pe *vferrors.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, string(workflow.StepUploadVideo), pe.Requires)
}

func TestFullPipeline(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	up, err := env.svc.SubmitUpload(ctx, UploadRequest{SourceURL: writeVideo(t)})
	require.NoError(t, err)
	upDone := waitTerminal(t, env.jobs, up.ID)
	require.Equal(t, job.StatusCompleted, upDone.Status)
	wid := up.WorkflowID

	ex, err := env.svc.SubmitExtract(ctx, ExtractRequest{WorkflowID: wid})
	require.NoError(t, err)
	exDone := waitTerminal(t, env.jobs, ex.ID)
	require.Equal(t, job.StatusCompleted, exDone.Status)
	assert.Equal(t, true, exDone.Result["video_cleaned"])

	// The extracted audio replaced the video in the store.
	w, err := env.workflows.Get(wid)
	require.NoError(t, err)
	upRes, err := workflow.DecodeResult[workflow.UploadResult](w.StepState(workflow.StepUploadVideo).Result)
	require.NoError(t, err)
	assert.False(t, env.artifacts.Exists(upRes.VideoURL))

	tr, err := env.svc.SubmitTranscribe(ctx, TranscribeRequest{WorkflowID: wid, Quality: "fast"})
	require.NoError(t, err)
	trDone := waitTerminal(t, env.jobs, tr.ID)
	require.Equal(t, job.StatusCompleted, trDone.Status)
	assert.Equal(t, "hello world", trDone.Result["raw_text"])
	assert.Equal(t, "whisper", trDone.Result["service_used"])
	assert.Equal(t, "fast", trDone.Result["quality_used"])
	assert.Equal(t, true, trDone.Result["audio_cleaned"])

	en, err := env.svc.SubmitEnhance(ctx, EnhanceRequest{WorkflowID: wid})
	require.NoError(t, err)
	enDone := waitTerminal(t, env.jobs, en.ID)
	require.Equal(t, job.StatusCompleted, enDone.Status)
	assert.Equal(t, "Enhanced: hello world", enDone.Result["enhanced_text"])
	assert.Equal(t, "a short talk", enDone.Result["summary"])
	assert.Equal(t, "positive", enDone.Result["sentiment"])
	assert.Equal(t, "fake-model", enDone.Result["model_used"])
	assert.EqualValues(t, []any{"one"}, enDone.Result["key_points"])
	assert.EqualValues(t, []any{"testing"}, enDone.Result["topics"])

	// The terminal job record and the workflow step record carry the
	// same payload.
	for step, jobResult := range map[workflow.StepName]map[string]any{
		workflow.StepUploadVideo:  upDone.Result,
		workflow.StepExtractAudio: exDone.Result,
		workflow.StepTranscribe:   trDone.Result,
		workflow.StepEnhance:      enDone.Result,
	} {
		assert.Equal(t, stepResultMap(t, env.workflows, wid, step), jobResult, "step %s", step)
	}

	payload, err := env.svc.Analyze(ctx, AnalyzeSummary, AnalyzeRequest{WorkflowID: wid})
	require.NoError(t, err)
	assert.Equal(t, "summary of: Enhanced: hello world", payload["summary"])

	w, err = env.workflows.Get(wid)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, w.StepState(workflow.StepSummarize).Status)
}

func TestSubmitRejectsDuplicateWhileRunning(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 512))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
		w.Write(make([]byte, 512))
	}))
	defer srv.Close()
	defer close(release)

	env := newTestService(t)
	j, err := env.svc.SubmitUpload(context.Background(), UploadRequest{SourceURL: srv.URL + "/a.mp4"})
	require.NoError(t, err)

	// The step is running, so a second submission must be refused.
	require.Eventually(t, func() bool {
		w, err := env.workflows.Get(j.WorkflowID)
		return err == nil && w.StepState(workflow.StepUploadVideo).Status == workflow.StatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	_, err = env.svc.SubmitUpload(context.Background(), UploadRequest{
		WorkflowID: j.WorkflowID,
		SourceURL:  srv.URL + "/a.mp4",
	})
	var pe *vferrors.PreconditionError
	require.ErrorAs(t, err, &pe)
}

func TestHandlerFailureFailsStep(t *testing.T) {
	env := newTestService(t)
	j, err := env.svc.SubmitUpload(context.Background(), UploadRequest{SourceURL: "/no/such/file.mp4"})
	require.NoError(t, err)

	done := waitTerminal(t, env.jobs, j.ID)
	require.Equal(t, job.StatusFailed, done.Status)
	require.NotNil(t, done.Error)
	assert.Equal(t, string(vferrors.CodeSourceUnreachable), done.Error.Code)

	w, err := env.workflows.Get(j.WorkflowID)
	require.NoError(t, err)
	st := w.StepState(workflow.StepUploadVideo)
	assert.Equal(t, workflow.StatusFailed, st.Status)
	require.NotNil(t, st.Error)
	assert.Equal(t, string(vferrors.CodeSourceUnreachable), st.Error.Code)
}

func TestSubmitTranscribeValidation(t *testing.T) {
	env := newTestService(t)
	w, err := env.workflows.Create("talk.mp4", nil)
	require.NoError(t, err)

	_, err = env.svc.SubmitTranscribe(context.Background(), TranscribeRequest{WorkflowID: w.ID, Quality: "ultra"})
	var ve *vferrors.ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = env.svc.SubmitTranscribe(context.Background(), TranscribeRequest{WorkflowID: w.ID, UseAzure: true})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "use_azure", ve.Field)
}

func TestAnalyzeWithoutText(t *testing.T) {
	env := newTestService(t)
	w, err := env.workflows.Create("talk.mp4", nil)
	require.NoError(t, err)

	_, err = env.svc.Analyze(context.Background(), AnalyzeTopics, AnalyzeRequest{WorkflowID: w.ID})
	var je *vferrors.JobError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, vferrors.CodeNoTextToEnhance, je.Code)
}

func TestAnalyzeWithExplicitText(t *testing.T) {
	env := newTestService(t)
	w, err := env.workflows.Create("talk.mp4", nil)
	require.NoError(t, err)

	payload, err := env.svc.Analyze(context.Background(), AnalyzeSentiment,
		AnalyzeRequest{WorkflowID: w.ID, Text: "what a great release"})
	require.NoError(t, err)
	assert.Equal(t, "positive", payload["sentiment"])

	got, err := env.workflows.Get(w.ID)
	require.NoError(t, err)
	st := got.StepState(workflow.StepSentiment)
	require.Equal(t, workflow.StatusCompleted, st.Status)
	res, err := workflow.DecodeResult[workflow.SentimentResult](st.Result)
	require.NoError(t, err)
	assert.Equal(t, "fake-model", res.Model)
}

func TestSubmitWhileDraining(t *testing.T) {
	env := newTestService(t)
	env.svc.exec.StartDraining()

	_, err := env.svc.SubmitUpload(context.Background(), UploadRequest{SourceURL: writeVideo(t)})
	require.ErrorIs(t, err, executor.ErrDraining)
	assert.True(t, env.svc.Draining())
}

func TestListJobsUnknownWorkflow(t *testing.T) {
	env := newTestService(t)
	_, err := env.svc.ListJobs(context.Background(), "wf_00000000000000000000000000000000")
	var nf *vferrors.NotFoundError
	require.ErrorAs(t, err, &nf)
}
