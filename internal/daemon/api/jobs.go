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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/voxflow/voxflow/internal/daemon/httputil"
	"github.com/voxflow/voxflow/internal/job"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// opEndpoints maps each background operation to the endpoint that
// submits it, for next_action hints.
var opEndpoints = map[job.Operation]string{
	job.OpUploadVideo:  "/upload-video",
	job.OpExtractAudio: "/extract-audio",
	job.OpTranscribe:   "/transcribe-audio",
	job.OpEnhance:      "/enhance-transcription",
}

// nextEndpoints maps each operation to the stage that usually follows.
var nextEndpoints = map[job.Operation]string{
	job.OpUploadVideo:  "POST /extract-audio",
	job.OpExtractAudio: "POST /transcribe-audio",
	job.OpTranscribe:   "POST /enhance-transcription, or an analysis endpoint",
	job.OpEnhance:      "POST /summarize-content or another analysis endpoint",
}

// jobNextAction tells a polling agent what to do next given the job's
// current state.
func jobNextAction(j *job.Job) string {
	switch j.Status {
	case job.StatusQueued, job.StatusRunning:
		return fmt.Sprintf("poll GET /jobs/%s until terminal", j.ID)
	case job.StatusCompleted:
		return nextEndpoints[j.Operation]
	case job.StatusFailed:
		if j.Error != nil && j.Error.Retryable {
			return fmt.Sprintf("retry POST %s for this workflow", opEndpoints[j.Operation])
		}
		return "inspect the error; the failure will not clear on retry"
	case job.StatusCancelled:
		return fmt.Sprintf("resubmit POST %s if the stage is still wanted", opEndpoints[j.Operation])
	}
	return ""
}

// jobView flattens a job record into the response map and attaches the
// next_action hint.
func jobView(j *job.Job) (map[string]any, error) {
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	view := map[string]any{}
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, err
	}
	view["next_action"] = jobNextAction(j)
	return view, nil
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	if !job.IDPattern.MatchString(id) {
		httputil.WriteError(w, &vferrors.ValidationError{
			Field:   "job_id",
			Message: "job_id must be job_ followed by a UUID",
		})
		return
	}

	j, err := rt.pipeline.GetJob(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	view, err := jobView(j)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rt.writeSelected(w, r, view)
}

// cancelJobRequest is the optional POST /jobs/{id}/cancel body.
type cancelJobRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (rt *Router) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	if !job.IDPattern.MatchString(id) {
		httputil.WriteError(w, &vferrors.ValidationError{
			Field:   "job_id",
			Message: "job_id must be job_ followed by a UUID",
		})
		return
	}

	var req cancelJobRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	cancelled, err := rt.pipeline.CancelJob(r.Context(), id, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !cancelled {
		httputil.WriteJSON(w, http.StatusConflict, map[string]any{
			"error": httputil.ErrorBody{
				Message:    fmt.Sprintf("job %s is already terminal", id),
				Suggestion: fmt.Sprintf("GET /jobs/%s for its final state", id),
			},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"job_id":      id,
		"status":      job.StatusCancelled,
		"next_action": fmt.Sprintf("poll GET /jobs/%s to confirm the worker stopped", id),
	})
}
