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

// Package pipeline orchestrates the video pipeline: it owns the step
// preconditions, submits background jobs for the four heavy stages,
// and runs the immediate text analyses. The HTTP API, MCP tools, CLI
// client, and watch folder all drive this one service.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxflow/voxflow/internal/artifact"
	"github.com/voxflow/voxflow/internal/enhance"
	"github.com/voxflow/voxflow/internal/executor"
	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/media"
	"github.com/voxflow/voxflow/internal/observability"
	"github.com/voxflow/voxflow/internal/speech"
	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Analyzer is the text collaborator surface the pipeline needs.
// Satisfied by *enhance.Service.
type Analyzer interface {
	Enhance(ctx context.Context, rawText string) (*enhance.Enhancement, error)
	Summarize(ctx context.Context, text string) (string, error)
	KeyPoints(ctx context.Context, text string) ([]string, error)
	AnalyzeSentiment(ctx context.Context, text string) (*enhance.Sentiment, error)
	IdentifyTopics(ctx context.Context, text string) ([]string, error)
	Model() string
}

// Service wires the stores, executor, and collaborators together.
type Service struct {
	workflows *workflow.Store
	jobs      *job.Store
	artifacts *artifact.Store
	exec      *executor.Executor
	extractor media.Extractor
	local     speech.Recognizer
	cloud     speech.Recognizer // nil when Azure Speech is unconfigured
	analyzer  Analyzer
	metrics   *observability.Metrics
	logger    *slog.Logger

	// submitMu serializes step-start + job-create so a duplicate
	// submission can never slip between the two checks.
	submitMu sync.Mutex
}

// Options collects the collaborators. Local is required; Cloud and
// Analyzer may be nil, disabling the features that need them.
type Options struct {
	Workflows *workflow.Store
	Jobs      *job.Store
	Artifacts *artifact.Store
	Executor  *executor.Executor
	Extractor media.Extractor
	Local     speech.Recognizer
	Cloud     speech.Recognizer
	Analyzer  Analyzer
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New builds the service and registers its job handlers on the
// executor.
func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		workflows: opts.Workflows,
		jobs:      opts.Jobs,
		artifacts: opts.Artifacts,
		exec:      opts.Executor,
		extractor: opts.Extractor,
		local:     opts.Local,
		cloud:     opts.Cloud,
		analyzer:  opts.Analyzer,
		metrics:   opts.Metrics,
		logger:    logger,
	}
	s.exec.Register(job.OpUploadVideo, executor.HandlerFunc(s.runUpload))
	s.exec.Register(job.OpExtractAudio, executor.HandlerFunc(s.runExtract))
	s.exec.Register(job.OpTranscribe, executor.HandlerFunc(s.runTranscribe))
	s.exec.Register(job.OpEnhance, executor.HandlerFunc(s.runEnhance))
	return s
}

// CreateWorkflow starts an empty workflow.
func (s *Service) CreateWorkflow(input string, options map[string]any) (*workflow.Workflow, error) {
	return s.workflows.Create(input, options)
}

// GetWorkflow returns a workflow's full state.
func (s *Service) GetWorkflow(id string) (*workflow.Workflow, error) {
	return s.workflows.Get(id)
}

// DeleteWorkflow removes a workflow's record and all its artifacts.
func (s *Service) DeleteWorkflow(id string) error {
	if _, err := s.workflows.Get(id); err != nil {
		return err
	}
	if err := s.artifacts.CleanupWorkflow(id); err != nil {
		return err
	}
	return s.workflows.Delete(id)
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*job.Job, error) {
	return s.jobs.Get(ctx, id)
}

// ListJobs returns a workflow's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, workflowID string) ([]*job.Job, error) {
	if _, err := s.workflows.Get(workflowID); err != nil {
		return nil, err
	}
	return s.jobs.ListByWorkflow(ctx, workflowID)
}

// CancelJob requests cancellation. Returns false when the job is
// already terminal.
func (s *Service) CancelJob(ctx context.Context, id, reason string) (bool, error) {
	return s.jobs.Cancel(ctx, id, reason)
}

// Draining reports whether job submission has been stopped for
// shutdown.
func (s *Service) Draining() bool {
	return s.exec.IsDraining()
}

// UploadRequest submits the upload_video stage.
type UploadRequest struct {
	// WorkflowID is optional; empty creates a new workflow.
	WorkflowID string
	// SourceURL is an http(s)/s3 URL or a local file path.
	SourceURL string
	Force     bool
}

// SubmitUpload validates, starts the step, and queues the job.
func (s *Service) SubmitUpload(ctx context.Context, req UploadRequest) (*job.Job, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, &vferrors.ValidationError{Field: "source_url", Message: "source_url is required"}
	}
	workflowID := req.WorkflowID
	if workflowID == "" {
		w, err := s.workflows.Create(req.SourceURL, nil)
		if err != nil {
			return nil, err
		}
		workflowID = w.ID
	}
	params := map[string]any{"source_url": req.SourceURL}
	return s.submit(ctx, workflowID, job.OpUploadVideo, params, req.Force)
}

// ExtractRequest submits the extract_audio stage.
type ExtractRequest struct {
	WorkflowID string
	Force      bool
}

// SubmitExtract validates preconditions and queues the job.
func (s *Service) SubmitExtract(ctx context.Context, req ExtractRequest) (*job.Job, error) {
	return s.submit(ctx, req.WorkflowID, job.OpExtractAudio, map[string]any{}, req.Force)
}

// TranscribeRequest submits the transcribe_audio stage.
type TranscribeRequest struct {
	WorkflowID string
	Quality    string
	Language   string
	UseAzure   bool
	Force      bool
}

// SubmitTranscribe validates parameters and queues the job.
func (s *Service) SubmitTranscribe(ctx context.Context, req TranscribeRequest) (*job.Job, error) {
	quality, err := speech.ParseQuality(req.Quality)
	if err != nil {
		return nil, err
	}
	if err := speech.ValidateLanguage(req.Language); err != nil {
		return nil, err
	}
	if req.UseAzure && s.cloud == nil {
		return nil, &vferrors.ValidationError{
			Field:      "use_azure",
			Message:    "azure speech is not configured",
			Suggestion: "configure azure_speech or omit use_azure",
		}
	}
	params := map[string]any{"quality": string(quality)}
	if req.Language != "" {
		params["language"] = req.Language
	}
	if req.UseAzure {
		params["use_azure"] = true
	}
	return s.submit(ctx, req.WorkflowID, job.OpTranscribe, params, req.Force)
}

// EnhanceRequest submits the enhance_transcription stage.
type EnhanceRequest struct {
	WorkflowID string
	// RawText overrides the transcription result as input.
	RawText string
	Force   bool
}

// SubmitEnhance validates and queues the job.
func (s *Service) SubmitEnhance(ctx context.Context, req EnhanceRequest) (*job.Job, error) {
	if s.analyzer == nil {
		return nil, &vferrors.ValidationError{
			Field:      "workflow_id",
			Message:    "enhancement is not configured",
			Suggestion: "configure azure_openai",
		}
	}
	params := map[string]any{}
	if req.RawText != "" {
		params["raw_text"] = req.RawText
	}
	return s.submit(ctx, req.WorkflowID, job.OpEnhance, params, req.Force)
}

// submit starts the workflow step and creates + dispatches the job as
// one logical operation.
func (s *Service) submit(ctx context.Context, workflowID string, op job.Operation, params map[string]any, force bool) (*job.Job, error) {
	if s.exec.IsDraining() {
		return nil, executor.ErrDraining
	}
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if _, err := s.workflows.StartStep(workflowID, op.Step(), force); err != nil {
		return nil, err
	}
	j, err := s.jobs.Create(ctx, workflowID, op, params)
	if err != nil {
		s.abortStep(workflowID, op.Step(), err)
		return nil, err
	}
	if err := s.exec.Submit(j); err != nil {
		s.jobs.SetError(ctx, j.ID, err)
		s.abortStep(workflowID, op.Step(), err)
		return nil, err
	}
	s.logger.Info("job submitted",
		"workflow_id", workflowID, "job_id", j.ID, "operation", op, "force", force)
	return j, nil
}

// abortStep backs out a step start whose job never got off the ground.
func (s *Service) abortStep(workflowID string, step workflow.StepName, cause error) {
	je := vferrors.Classify(cause)
	if _, err := s.workflows.FailStep(workflowID, step, string(je.Code), je.Message, nil); err != nil {
		s.logger.Warn("failed to back out step start",
			"workflow_id", workflowID, "step", step, "error", err)
	}
}

// AnalyzeKind names an immediate analysis.
type AnalyzeKind string

const (
	AnalyzeSummary   AnalyzeKind = "summarize_content"
	AnalyzeKeyPoints AnalyzeKind = "extract_key_points"
	AnalyzeSentiment AnalyzeKind = "analyze_sentiment"
	AnalyzeTopics    AnalyzeKind = "identify_topics"
)

// analysisSteps maps each analysis to the workflow step it records.
var analysisSteps = map[AnalyzeKind]workflow.StepName{
	AnalyzeSummary:   workflow.StepSummarize,
	AnalyzeKeyPoints: workflow.StepKeyPoints,
	AnalyzeSentiment: workflow.StepSentiment,
	AnalyzeTopics:    workflow.StepTopics,
}

// AnalyzeRequest runs an immediate analysis.
type AnalyzeRequest struct {
	WorkflowID string
	// Text overrides the workflow's enhanced/raw transcription.
	Text string
}

// Analyze runs a synchronous analysis, records its result into the
// workflow, and returns the payload.
func (s *Service) Analyze(ctx context.Context, kind AnalyzeKind, req AnalyzeRequest) (map[string]any, error) {
	step, ok := analysisSteps[kind]
	if !ok {
		return nil, &vferrors.ValidationError{Field: "operation", Message: fmt.Sprintf("unknown analysis %q", kind)}
	}
	if s.analyzer == nil {
		return nil, &vferrors.ValidationError{
			Field:      "workflow_id",
			Message:    "analysis is not configured",
			Suggestion: "configure azure_openai",
		}
	}

	text, err := s.analysisText(req)
	if err != nil {
		return nil, err
	}

	var result any
	var payload map[string]any
	switch kind {
	case AnalyzeSummary:
		summary, err := s.analyzer.Summarize(ctx, text)
		if err != nil {
			return nil, err
		}
		result = workflow.SummaryResult{Summary: summary, Model: s.analyzer.Model()}
		payload = map[string]any{"summary": summary}
	case AnalyzeKeyPoints:
		points, err := s.analyzer.KeyPoints(ctx, text)
		if err != nil {
			return nil, err
		}
		result = workflow.KeyPointsResult{KeyPoints: points, Model: s.analyzer.Model()}
		payload = map[string]any{"key_points": points}
	case AnalyzeSentiment:
		sentiment, err := s.analyzer.AnalyzeSentiment(ctx, text)
		if err != nil {
			return nil, err
		}
		result = workflow.SentimentResult{
			Sentiment:  sentiment.Sentiment,
			Confidence: sentiment.Confidence,
			Rationale:  sentiment.Rationale,
			Model:      s.analyzer.Model(),
		}
		payload = map[string]any{"sentiment": sentiment.Sentiment, "confidence": sentiment.Confidence}
	case AnalyzeTopics:
		topics, err := s.analyzer.IdentifyTopics(ctx, text)
		if err != nil {
			return nil, err
		}
		result = workflow.TopicsResult{Topics: topics, Model: s.analyzer.Model()}
		payload = map[string]any{"topics": topics}
	}

	if _, err := s.workflows.SetStepResult(req.WorkflowID, step, result); err != nil {
		return nil, err
	}
	return payload, nil
}

// analysisText picks the analysis input: request override, else the
// enhanced text, else the raw transcription.
func (s *Service) analysisText(req AnalyzeRequest) (string, error) {
	if strings.TrimSpace(req.Text) != "" {
		return req.Text, nil
	}
	w, err := s.workflows.Get(req.WorkflowID)
	if err != nil {
		return "", err
	}
	if st := w.StepState(workflow.StepEnhance); st.Status == workflow.StatusCompleted {
		if res, err := workflow.DecodeResult[workflow.EnhancementResult](st.Result); err == nil && res.EnhancedText != "" {
			return res.EnhancedText, nil
		}
	}
	if st := w.StepState(workflow.StepTranscribe); st.Status == workflow.StatusCompleted {
		if res, err := workflow.DecodeResult[workflow.TranscriptionResult](st.Result); err == nil && res.Text != "" {
			return res.Text, nil
		}
	}
	return "", &vferrors.JobError{
		Code:    vferrors.CodeNoTextToEnhance,
		Message: "no text available: provide text or transcribe the workflow first",
	}
}
