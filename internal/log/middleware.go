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

package log

import (
	"log/slog"
	"time"
)

// ServiceCall describes one outbound call to an external collaborator
// (demuxer, recognizer, enhancer) for logging purposes.
type ServiceCall struct {
	// Service is the collaborator name (e.g., "whisper", "azure_speech", "azure_openai", "ffmpeg").
	Service string

	// Operation is the pipeline operation on whose behalf the call is made.
	Operation string

	// WorkflowID is the owning workflow, if any.
	WorkflowID string

	// JobID is the owning job, if any.
	JobID string

	// Metadata contains additional call metadata (model name, audio size, ...).
	Metadata map[string]any
}

// ServiceResult describes the outcome of a collaborator call.
type ServiceResult struct {
	// Success indicates whether the call succeeded.
	Success bool

	// Error is the error message if the call failed.
	Error string

	// DurationMs is the call duration in milliseconds.
	DurationMs int64

	// Metadata contains additional result metadata.
	Metadata map[string]any
}

// LogServiceCall logs the start of a collaborator call.
func LogServiceCall(logger *slog.Logger, call *ServiceCall) {
	attrs := []any{
		EventKey, "service_call",
		ServiceKey, call.Service,
	}

	if call.Operation != "" {
		attrs = append(attrs, OperationKey, call.Operation)
	}
	if call.WorkflowID != "" {
		attrs = append(attrs, WorkflowIDKey, call.WorkflowID)
	}
	if call.JobID != "" {
		attrs = append(attrs, JobIDKey, call.JobID)
	}

	for k, v := range call.Metadata {
		attrs = append(attrs, k, v)
	}

	logger.Info("service call started", attrs...)
}

// LogServiceResult logs the outcome of a collaborator call.
func LogServiceResult(logger *slog.Logger, call *ServiceCall, result *ServiceResult) {
	attrs := []any{
		EventKey, "service_result",
		ServiceKey, call.Service,
		"success", result.Success,
		DurationKey, result.DurationMs,
	}

	if call.Operation != "" {
		attrs = append(attrs, OperationKey, call.Operation)
	}
	if call.WorkflowID != "" {
		attrs = append(attrs, WorkflowIDKey, call.WorkflowID)
	}
	if call.JobID != "" {
		attrs = append(attrs, JobIDKey, call.JobID)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}

	for k, v := range result.Metadata {
		attrs = append(attrs, k, v)
	}

	level := slog.LevelInfo
	message := "service call completed"

	if !result.Success {
		level = slog.LevelWarn
		message = "service call failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// ServiceMiddleware wraps collaborator calls with start/result logging.
type ServiceMiddleware struct {
	logger *slog.Logger
}

// NewServiceMiddleware creates a new collaborator-call logging middleware.
func NewServiceMiddleware(logger *slog.Logger) *ServiceMiddleware {
	return &ServiceMiddleware{
		logger: logger,
	}
}

// Handler wraps a function that performs a collaborator call.
// It logs the call and its outcome automatically.
func (m *ServiceMiddleware) Handler(call *ServiceCall, handler func() error) error {
	start := time.Now()

	LogServiceCall(m.logger, call)

	err := handler()

	result := &ServiceResult{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}

	LogServiceResult(m.logger, call, result)

	return err
}

// HandlerWithMetadata wraps a collaborator call that reports result
// metadata (model used, confidence, output size).
func (m *ServiceMiddleware) HandlerWithMetadata(call *ServiceCall, handler func() (map[string]any, error)) (map[string]any, error) {
	start := time.Now()

	LogServiceCall(m.logger, call)

	metadata, err := handler()

	result := &ServiceResult{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
		Metadata:   metadata,
	}
	if err != nil {
		result.Error = err.Error()
	}

	LogServiceResult(m.logger, call, result)

	return metadata, err
}
