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
	"net/http"

	"github.com/voxflow/voxflow/internal/daemon/httputil"
	vflog "github.com/voxflow/voxflow/internal/log"
)

// createWorkflowRequest is the optional POST /workflow body.
type createWorkflowRequest struct {
	Input   string         `json:"input,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

func (rt *Router) createWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := decodeBody(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	wf, err := rt.pipeline.CreateWorkflow(req.Input, req.Options)
	if err != nil {
		rt.logger.Error("workflow create failed", vflog.Error(err))
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflow_id": wf.ID,
		"next_action": "POST /upload-video with this workflow_id and a source_url",
	})
}

func (rt *Router) getWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("workflow_id")
	if err := requireWorkflowID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	wf, err := rt.pipeline.GetWorkflow(id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rt.writeSelected(w, r, wf)
}

func (rt *Router) listWorkflowJobs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("workflow_id")
	if err := requireWorkflowID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	jobs, err := rt.pipeline.ListJobs(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (rt *Router) deleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("workflow_id")
	if err := requireWorkflowID(id); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := rt.pipeline.DeleteWorkflow(id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"workflow_id": id,
		"deleted":     true,
	})
}
