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

// Package httputil holds the shared response envelope for the API:
// JSON encoding, and the single place where the error taxonomy is
// translated into HTTP statuses and bodies.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/voxflow/voxflow/internal/job"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
// Encoding failures are logged; headers are already gone by then.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds
}

// WriteMessage writes a bare error message with no taxonomy code.
// Used for conditions that are not part of the job error code set,
// such as failed authentication.
func WriteMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]any{"error": ErrorBody{Message: message}})
}

// WriteError translates err into the coded taxonomy and writes the
// matching status and body. Statuses follow the error's type:
// validation 400, not found 404, precondition and duplicate submission
// 409, everything else 500. Bodies never include stack traces or
// wrapped causes.
func WriteError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	WriteJSON(w, status, map[string]any{"error": body})
}

func errorResponse(err error) (int, ErrorBody) {
	var validationErr *vferrors.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, ErrorBody{
			Code:       string(vferrors.CodeValidation),
			Message:    validationErr.Error(),
			Suggestion: validationErr.Suggestion,
		}
	}

	var notFoundErr *vferrors.NotFoundError
	if errors.As(err, &notFoundErr) {
		code := vferrors.CodeValidation
		suggestion := ""
		if notFoundErr.Resource == "workflow" {
			code = vferrors.CodeWorkflowNotFound
			suggestion = "create a workflow first or check the workflow_id"
		}
		return http.StatusNotFound, ErrorBody{
			Code:       string(code),
			Message:    notFoundErr.Error(),
			Suggestion: suggestion,
		}
	}

	var preconditionErr *vferrors.PreconditionError
	if errors.As(err, &preconditionErr) {
		return http.StatusConflict, ErrorBody{
			Code:       string(vferrors.CodeStepPrecondition),
			Message:    preconditionErr.Error(),
			Suggestion: "complete the upstream step first, or pass force to re-run a completed step",
		}
	}

	var conflictErr *job.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, ErrorBody{
			Code:       string(vferrors.CodeStepPrecondition),
			Message:    conflictErr.Error(),
			Suggestion: "poll the existing job or cancel it before resubmitting",
		}
	}

	je := vferrors.Classify(err)
	body := ErrorBody{
		Code:      string(je.Code),
		Message:   je.Message,
		Retryable: je.Retryable,
	}
	if je.RetryAfter > 0 {
		body.RetryAfter = int(je.RetryAfter / time.Second)
	}
	status := http.StatusInternalServerError
	switch je.Code {
	case vferrors.CodeValidation:
		status = http.StatusBadRequest
	case vferrors.CodeWorkflowNotFound:
		status = http.StatusNotFound
	case vferrors.CodeStepPrecondition, vferrors.CodeNoTextToEnhance:
		status = http.StatusConflict
	}
	return status, body
}
