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

// Package workflow persists per-workflow pipeline state: which steps
// have run, what they produced, and what the original request was.
// One JSON file per workflow, written whole via temp-then-rename; a
// per-workflow lock serializes mutations so step transitions never
// interleave.
package workflow

import (
	"encoding/json"
	"time"
)

// SchemaVersion is embedded in every persisted record so result shapes
// can evolve without breaking old state directories.
const SchemaVersion = 1

// StepName identifies one pipeline step. The set is closed.
type StepName string

const (
	StepUploadVideo    StepName = "upload_video"
	StepExtractAudio   StepName = "extract_audio"
	StepTranscribe     StepName = "transcribe_audio"
	StepEnhance        StepName = "enhance_transcription"
	StepSummarize      StepName = "summarize_content"
	StepKeyPoints      StepName = "extract_key_points"
	StepSentiment      StepName = "analyze_sentiment"
	StepTopics         StepName = "identify_topics"
)

// StepNames lists every known step, in pipeline order.
var StepNames = []StepName{
	StepUploadVideo,
	StepExtractAudio,
	StepTranscribe,
	StepEnhance,
	StepSummarize,
	StepKeyPoints,
	StepSentiment,
	StepTopics,
}

// dependencies maps each step to the step that must be completed first.
// upload_video has no dependency.
var dependencies = map[StepName]StepName{
	StepExtractAudio: StepUploadVideo,
	StepTranscribe:   StepExtractAudio,
	StepEnhance:      StepTranscribe,
	StepSummarize:    StepTranscribe,
	StepKeyPoints:    StepTranscribe,
	StepSentiment:    StepTranscribe,
	StepTopics:       StepTranscribe,
}

// Known reports whether name is a member of the closed step set.
func Known(name StepName) bool {
	for _, s := range StepNames {
		if s == name {
			return true
		}
	}
	return false
}

// DependencyOf returns the upstream step that must complete before the
// given step may start, or "" for the pipeline root.
func DependencyOf(step StepName) StepName {
	return dependencies[step]
}

// StepStatus is the lifecycle state of one step.
type StepStatus string

const (
	StatusPending   StepStatus = "pending"
	StatusRunning   StepStatus = "running"
	StatusCompleted StepStatus = "completed"
	StatusFailed    StepStatus = "failed"
	StatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status admits no further transitions
// short of a forced restart.
func (s StepStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// StepError is the persisted error shape on a failed step.
type StepError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Step is one step's persisted record. Result holds the step-specific
// payload (see results.go) serialized as a JSON object.
type Step struct {
	Status      StepStatus      `json:"status"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	FailedAt    *time.Time      `json:"failed_at,omitempty"`
	Error       *StepError      `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Workflow is the persisted per-workflow record.
type Workflow struct {
	ID              string              `json:"workflow_id"`
	SchemaVersion   int                 `json:"schema_version"`
	CreatedAt       time.Time           `json:"created_at"`
	LastUpdated     time.Time           `json:"last_updated"`
	OriginalInput   string              `json:"original_input,omitempty"`
	OriginalOptions map[string]any      `json:"original_options,omitempty"`
	Steps           map[StepName]*Step  `json:"steps"`
}

// StepState returns the named step's record, synthesizing a pending
// record for steps that have never been touched.
func (w *Workflow) StepState(name StepName) *Step {
	if s, ok := w.Steps[name]; ok {
		return s
	}
	return &Step{Status: StatusPending}
}

// StepCompleted reports whether the named step has completed.
func (w *Workflow) StepCompleted(name StepName) bool {
	return w.StepState(name).Status == StatusCompleted
}

// Patch holds the top-level fields Update may merge. Nil fields are
// left untouched.
type Patch struct {
	OriginalInput   *string
	OriginalOptions map[string]any
}
