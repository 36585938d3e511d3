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

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/voxflow/voxflow/internal/daemon/httputil"
	"github.com/voxflow/voxflow/internal/executor"
	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/pipeline"
)

// writeAccepted answers a successful job submission.
func writeAccepted(w http.ResponseWriter, j *job.Job) {
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      j.ID,
		"status":      job.StatusQueued,
		"workflow_id": j.WorkflowID,
		"next_action": fmt.Sprintf("poll GET /jobs/%s until terminal", j.ID),
	})
}

// writeSubmitError maps submission failures, catching the draining
// condition before the generic taxonomy mapping.
func writeSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, executor.ErrDraining) {
		writeDraining(w)
		return
	}
	httputil.WriteError(w, err)
}

// uploadVideoRequest is the POST /upload-video body.
type uploadVideoRequest struct {
	SourceURL  string `json:"source_url"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

func (rt *Router) uploadVideo(w http.ResponseWriter, r *http.Request) {
	var req uploadVideoRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := checkWorkflowID(req.WorkflowID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	j, err := rt.pipeline.SubmitUpload(r.Context(), pipeline.UploadRequest{
		WorkflowID: req.WorkflowID,
		SourceURL:  req.SourceURL,
		Force:      req.Force,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeAccepted(w, j)
}

// extractAudioRequest is the POST /extract-audio body.
type extractAudioRequest struct {
	WorkflowID string `json:"workflow_id"`
	Force      bool   `json:"force,omitempty"`
}

func (rt *Router) extractAudio(w http.ResponseWriter, r *http.Request) {
	var req extractAudioRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := requireWorkflowID(req.WorkflowID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	j, err := rt.pipeline.SubmitExtract(r.Context(), pipeline.ExtractRequest{
		WorkflowID: req.WorkflowID,
		Force:      req.Force,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeAccepted(w, j)
}

// transcribeAudioRequest is the POST /transcribe-audio body.
type transcribeAudioRequest struct {
	WorkflowID string `json:"workflow_id"`
	Quality    string `json:"quality,omitempty"`
	Language   string `json:"language,omitempty"`
	UseAzure   bool   `json:"use_azure,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

func (rt *Router) transcribeAudio(w http.ResponseWriter, r *http.Request) {
	var req transcribeAudioRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := requireWorkflowID(req.WorkflowID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	j, err := rt.pipeline.SubmitTranscribe(r.Context(), pipeline.TranscribeRequest{
		WorkflowID: req.WorkflowID,
		Quality:    req.Quality,
		Language:   req.Language,
		UseAzure:   req.UseAzure,
		Force:      req.Force,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeAccepted(w, j)
}

// enhanceTranscriptionRequest is the POST /enhance-transcription body.
type enhanceTranscriptionRequest struct {
	WorkflowID string `json:"workflow_id"`
	RawText    string `json:"raw_text,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

func (rt *Router) enhanceTranscription(w http.ResponseWriter, r *http.Request) {
	var req enhanceTranscriptionRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := requireWorkflowID(req.WorkflowID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	j, err := rt.pipeline.SubmitEnhance(r.Context(), pipeline.EnhanceRequest{
		WorkflowID: req.WorkflowID,
		RawText:    req.RawText,
		Force:      req.Force,
	})
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeAccepted(w, j)
}

// analyzeRequest is the body shared by the four immediate analysis
// endpoints.
type analyzeRequest struct {
	WorkflowID string `json:"workflow_id"`
	Text       string `json:"text,omitempty"`
}

// analyze builds the handler for one immediate analysis. The result is
// recorded into the workflow step and returned inline.
func (rt *Router) analyze(kind pipeline.AnalyzeKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, err)
			return
		}
		if err := requireWorkflowID(req.WorkflowID); err != nil {
			httputil.WriteError(w, err)
			return
		}

		payload, err := rt.pipeline.Analyze(r.Context(), kind, pipeline.AnalyzeRequest{
			WorkflowID: req.WorkflowID,
			Text:       req.Text,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		resp := make(map[string]any, len(payload)+2)
		for k, v := range payload {
			resp[k] = v
		}
		resp["workflow_id"] = req.WorkflowID
		resp["next_action"] = fmt.Sprintf("GET /workflow/%s for the recorded result", req.WorkflowID)
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}
