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
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/voxflow/voxflow/internal/pipeline"
)

// registerTools wires every voxflow tool onto the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.Tool{
		Name:        "create_workflow",
		Description: "Create a new empty video workflow. Returns the workflow_id to pass to the pipeline tools.",
		InputSchema: objectSchema(map[string]any{
			"input": strProp("Optional note recording what this workflow processes"),
		}),
	}, s.handleCreateWorkflow)

	s.mcp.AddTool(mcp.Tool{
		Name:        "get_workflow",
		Description: "Fetch a workflow's full state: every step's status, result, and error. Supports an optional jq expression to project the state.",
		InputSchema: objectSchema(map[string]any{
			"workflow_id": strProp("The workflow to fetch"),
			"select":      strProp("Optional jq expression applied to the state, e.g. .steps.transcribe_audio.status"),
		}, "workflow_id"),
	}, s.handleGetWorkflow)

	s.mcp.AddTool(mcp.Tool{
		Name:        "upload_video",
		Description: "Start the upload_video stage: fetch a video from an http(s)/s3 URL or local path into the workflow. Returns a job_id to poll with get_job. Omit workflow_id to create a workflow implicitly.",
		InputSchema: objectSchema(map[string]any{
			"source_url":  strProp("http(s)/s3 URL or local file path of the video"),
			"workflow_id": strProp("Optional existing workflow to upload into"),
			"force":       boolProp("Re-run the stage even if it already completed"),
		}, "source_url"),
	}, s.handleUploadVideo)

	s.mcp.AddTool(mcp.Tool{
		Name:        "extract_audio",
		Description: "Start the extract_audio stage: demux the uploaded video to mono 16kHz WAV. Requires upload_video to be completed. Returns a job_id to poll.",
		InputSchema: objectSchema(map[string]any{
			"workflow_id": strProp("The workflow whose video to process"),
			"force":       boolProp("Re-run the stage even if it already completed"),
		}, "workflow_id"),
	}, s.handleExtractAudio)

	s.mcp.AddTool(mcp.Tool{
		Name:        "transcribe_audio",
		Description: "Start the transcribe_audio stage. Requires extract_audio to be completed. Returns a job_id to poll.",
		InputSchema: objectSchema(map[string]any{
			"workflow_id": strProp("The workflow whose audio to transcribe"),
			"quality":     strProp("Transcription quality: fast, balanced, accurate, or best (default balanced)"),
			"language":    strProp("Optional BCP-47 language hint, e.g. en or de-DE"),
			"use_azure":   boolProp("Use the cloud recognizer as primary instead of local whisper"),
			"force":       boolProp("Re-run the stage even if it already completed"),
		}, "workflow_id"),
	}, s.handleTranscribeAudio)

	s.mcp.AddTool(mcp.Tool{
		Name:        "enhance_transcription",
		Description: "Start the enhance_transcription stage: clean up the raw transcription with the configured language model. Returns a job_id to poll.",
		InputSchema: objectSchema(map[string]any{
			"workflow_id": strProp("The workflow whose transcription to enhance"),
			"raw_text":    strProp("Optional text to enhance instead of the workflow's transcription"),
			"force":       boolProp("Re-run the stage even if it already completed"),
		}, "workflow_id"),
	}, s.handleEnhanceTranscription)

	for _, a := range []struct {
		name, desc string
		kind       pipeline.AnalyzeKind
	}{
		{"summarize_content", "Summarize the workflow's transcript (immediate, no job). Uses text if given, else the enhanced or raw transcription.", pipeline.AnalyzeSummary},
		{"extract_key_points", "Extract the key points from the workflow's transcript (immediate, no job).", pipeline.AnalyzeKeyPoints},
		{"analyze_sentiment", "Classify the overall sentiment of the workflow's transcript (immediate, no job).", pipeline.AnalyzeSentiment},
		{"identify_topics", "Identify the main topics of the workflow's transcript (immediate, no job).", pipeline.AnalyzeTopics},
	} {
		s.mcp.AddTool(mcp.Tool{
			Name:        a.name,
			Description: a.desc,
			InputSchema: objectSchema(map[string]any{
				"workflow_id": strProp("The workflow to analyze"),
				"text":        strProp("Optional text to analyze instead of the workflow's transcript"),
			}, "workflow_id"),
		}, s.analyzeHandler(a.kind))
	}

	s.mcp.AddTool(mcp.Tool{
		Name:        "get_job",
		Description: "Fetch a job's status, progress, result, and error. Poll this after submitting a pipeline stage.",
		InputSchema: objectSchema(map[string]any{
			"job_id": strProp("The job to fetch"),
			"select": strProp("Optional jq expression applied to the job record"),
		}, "job_id"),
	}, s.handleGetJob)

	s.mcp.AddTool(mcp.Tool{
		Name:        "cancel_job",
		Description: "Request cancellation of a queued or running job. Cancelling a finished job reports it as already terminal.",
		InputSchema: objectSchema(map[string]any{
			"job_id": strProp("The job to cancel"),
			"reason": strProp("Optional reason recorded on the job"),
		}, "job_id"),
	}, s.handleCancelJob)
}

func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	w, err := s.pipeline.CreateWorkflow(request.GetString("input", ""), nil)
	if err != nil {
		return errResult(err), nil
	}
	return jsonResult(map[string]any{"workflow_id": w.ID}), nil
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return errResult(err), nil
	}
	w, err := s.pipeline.GetWorkflow(id)
	if err != nil {
		return errResult(err), nil
	}
	if expr := request.GetString("select", ""); expr != "" {
		selected, err := s.selector.Apply(ctx, expr, w)
		if err != nil {
			return errResult(err), nil
		}
		return jsonResult(selected), nil
	}
	return jsonResult(w), nil
}

func (s *Server) handleUploadVideo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := request.RequireString("source_url")
	if err != nil {
		return errResult(err), nil
	}
	j, err := s.pipeline.SubmitUpload(ctx, pipeline.UploadRequest{
		WorkflowID: request.GetString("workflow_id", ""),
		SourceURL:  source,
		Force:      request.GetBool("force", false),
	})
	if err != nil {
		return errResult(err), nil
	}
	return submittedResult(j.ID, j.WorkflowID), nil
}

func (s *Server) handleExtractAudio(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return errResult(err), nil
	}
	j, err := s.pipeline.SubmitExtract(ctx, pipeline.ExtractRequest{
		WorkflowID: id,
		Force:      request.GetBool("force", false),
	})
	if err != nil {
		return errResult(err), nil
	}
	return submittedResult(j.ID, j.WorkflowID), nil
}

func (s *Server) handleTranscribeAudio(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return errResult(err), nil
	}
	j, err := s.pipeline.SubmitTranscribe(ctx, pipeline.TranscribeRequest{
		WorkflowID: id,
		Quality:    request.GetString("quality", ""),
		Language:   request.GetString("language", ""),
		UseAzure:   request.GetBool("use_azure", false),
		Force:      request.GetBool("force", false),
	})
	if err != nil {
		return errResult(err), nil
	}
	return submittedResult(j.ID, j.WorkflowID), nil
}

func (s *Server) handleEnhanceTranscription(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("workflow_id")
	if err != nil {
		return errResult(err), nil
	}
	j, err := s.pipeline.SubmitEnhance(ctx, pipeline.EnhanceRequest{
		WorkflowID: id,
		RawText:    request.GetString("raw_text", ""),
		Force:      request.GetBool("force", false),
	})
	if err != nil {
		return errResult(err), nil
	}
	return submittedResult(j.ID, j.WorkflowID), nil
}

func (s *Server) analyzeHandler(kind pipeline.AnalyzeKind) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("workflow_id")
		if err != nil {
			return errResult(err), nil
		}
		payload, err := s.pipeline.Analyze(ctx, kind, pipeline.AnalyzeRequest{
			WorkflowID: id,
			Text:       request.GetString("text", ""),
		})
		if err != nil {
			return errResult(err), nil
		}
		payload["workflow_id"] = id
		return jsonResult(payload), nil
	}
}

func (s *Server) handleGetJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("job_id")
	if err != nil {
		return errResult(err), nil
	}
	j, err := s.pipeline.GetJob(ctx, id)
	if err != nil {
		return errResult(err), nil
	}
	if expr := request.GetString("select", ""); expr != "" {
		selected, err := s.selector.Apply(ctx, expr, j)
		if err != nil {
			return errResult(err), nil
		}
		return jsonResult(selected), nil
	}
	return jsonResult(j), nil
}

func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("job_id")
	if err != nil {
		return errResult(err), nil
	}
	cancelled, err := s.pipeline.CancelJob(ctx, id, request.GetString("reason", ""))
	if err != nil {
		return errResult(err), nil
	}
	if !cancelled {
		return errResult(fmt.Errorf("job %s is already terminal", id)), nil
	}
	return jsonResult(map[string]any{"job_id": id, "status": "cancelled"}), nil
}

// submittedResult is the common response for job-submitting tools.
func submittedResult(jobID, workflowID string) *mcp.CallToolResult {
	return jsonResult(map[string]any{
		"job_id":      jobID,
		"workflow_id": workflowID,
		"status":      "queued",
		"next_action": "poll get_job with this job_id until the status is terminal",
	})
}
