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

// Package job tracks background pipeline jobs: one record per
// submitted operation, persisted through a pluggable backend, with
// in-memory cancellation handles owned by the store front.
package job

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// IDPattern validates job identifiers: "job_" plus a lowercase UUID.
var IDPattern = regexp.MustCompile(`^job_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// NewID returns a fresh job identifier.
func NewID() string {
	return "job_" + uuid.NewString()
}

// Operation names the pipeline step a job executes. The set matches
// the workflow steps that run in the background.
type Operation string

const (
	OpUploadVideo  Operation = Operation(workflow.StepUploadVideo)
	OpExtractAudio Operation = Operation(workflow.StepExtractAudio)
	OpTranscribe   Operation = Operation(workflow.StepTranscribe)
	OpEnhance      Operation = Operation(workflow.StepEnhance)
)

// Operations lists every background operation kind.
var Operations = []Operation{OpUploadVideo, OpExtractAudio, OpTranscribe, OpEnhance}

// KnownOperation reports whether op is a background operation.
func KnownOperation(op Operation) bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Step returns the workflow step a job operation drives.
func (o Operation) Step() workflow.StepName {
	return workflow.StepName(o)
}

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions lists the statuses reachable from each state. Terminal
// states admit nothing.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrorDetail is the persisted error shape on a failed job.
type ErrorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds
}

// ErrorDetailFrom converts any error into the persisted shape,
// classifying untyped errors on the way.
func ErrorDetailFrom(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	je := vferrors.Classify(err)
	detail := &ErrorDetail{
		Code:      string(je.Code),
		Message:   je.Message,
		Retryable: je.Retryable,
	}
	if je.RetryAfter > 0 {
		// Round up so a sub-second hint survives the conversion.
		detail.RetryAfter = int((je.RetryAfter + time.Second - 1) / time.Second)
	}
	return detail
}

// Job is one background operation record.
type Job struct {
	ID                  string         `json:"job_id"`
	WorkflowID          string         `json:"workflow_id"`
	Operation           Operation      `json:"operation"`
	Status              Status         `json:"status"`
	Progress            float64        `json:"progress"`
	Message             string         `json:"message,omitempty"`
	InputParams         map[string]any `json:"input_params,omitempty"`
	Result              map[string]any `json:"result,omitempty"`
	Error               *ErrorDetail   `json:"error,omitempty"`
	CancelReason        string         `json:"cancel_reason,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	CancelledAt         *time.Time     `json:"cancelled_at,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
}

// Clone returns a deep copy safe to hand past the store boundary.
func (j *Job) Clone() *Job {
	cp := *j
	if j.InputParams != nil {
		cp.InputParams = make(map[string]any, len(j.InputParams))
		for k, v := range j.InputParams {
			cp.InputParams[k] = v
		}
	}
	if j.Result != nil {
		cp.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			cp.Result[k] = v
		}
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.CancelledAt = cloneTime(j.CancelledAt)
	cp.EstimatedCompletion = cloneTime(j.EstimatedCompletion)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// ConflictError reports a duplicate submission: a non-terminal job
// already exists for the same workflow and operation.
type ConflictError struct {
	WorkflowID    string
	Operation     Operation
	ExistingJobID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a %s job (%s) is already active for workflow %s",
		e.Operation, e.ExistingJobID, e.WorkflowID)
}
