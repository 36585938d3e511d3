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

package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Code identifies an error category in API responses and persisted
// job/step error records. The set is closed; clients switch on it.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeWorkflowNotFound    Code = "WORKFLOW_NOT_FOUND"
	CodeStepPrecondition    Code = "STEP_PRECONDITION"
	CodeSourceUnreachable   Code = "SOURCE_UNREACHABLE"
	CodeSourceTooLarge      Code = "SOURCE_TOO_LARGE"
	CodeNoAudioReference    Code = "NO_AUDIO_REFERENCE"
	CodeAudioFileNotFound   Code = "AUDIO_FILE_NOT_FOUND"
	CodeTranscriptionFailed Code = "TRANSCRIPTION_FAILED"
	CodeNoTextToEnhance     Code = "NO_TEXT_TO_ENHANCE"
	CodeCancelled           Code = "CANCELLED"
	CodeTimeout             Code = "TIMEOUT"
	CodeRestartInterrupted  Code = "RESTART_INTERRUPTED"
	CodeInternal            Code = "INTERNAL"
)

// DefaultRetryAfter is the retry hint attached to transient collaborator
// failures that carry no hint of their own.
const DefaultRetryAfter = 60 * time.Second

// JobError is the coded error shape persisted on jobs and workflow steps
// and returned to API clients. Retryable tells the caller whether simply
// reissuing the operation can succeed.
type JobError struct {
	Code       Code
	Message    string
	Retryable  bool
	RetryAfter time.Duration
	Cause      error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *JobError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *JobError) ErrorType() string {
	return string(e.Code)
}

// IsRetryable implements ErrorClassifier.
func (e *JobError) IsRetryable() bool {
	return e.Retryable
}

// NewJobError builds a non-retryable JobError with the given code.
func NewJobError(code Code, format string, args ...any) *JobError {
	return &JobError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewRetryableError builds a retryable JobError with the default retry hint.
func NewRetryableError(code Code, format string, args ...any) *JobError {
	return &JobError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		Retryable:  true,
		RetryAfter: DefaultRetryAfter,
	}
}

// Classify translates any error into the coded taxonomy. It is called at
// the handler boundary before the error is persisted or returned to a
// client. Errors that already carry a code pass through unchanged.
func Classify(err error) *JobError {
	if err == nil {
		return nil
	}

	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return &JobError{Code: CodeValidation, Message: validationErr.Error(), Cause: err}
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		code := CodeInternal
		if notFoundErr.Resource == "workflow" {
			code = CodeWorkflowNotFound
		}
		return &JobError{Code: code, Message: notFoundErr.Error(), Cause: err}
	}

	var preconditionErr *PreconditionError
	if errors.As(err, &preconditionErr) {
		return &JobError{Code: CodeStepPrecondition, Message: preconditionErr.Error(), Cause: err}
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return &JobError{
			Code:       CodeTimeout,
			Message:    timeoutErr.Error(),
			Retryable:  true,
			RetryAfter: timeoutErr.Duration,
			Cause:      err,
		}
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		if serviceErr.Permanent {
			return &JobError{Code: CodeInternal, Message: serviceErr.Error(), Cause: err}
		}
		return &JobError{
			Code:       CodeInternal,
			Message:    serviceErr.Error(),
			Retryable:  true,
			RetryAfter: DefaultRetryAfter,
			Cause:      err,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &JobError{Code: CodeTimeout, Message: "operation timed out", Retryable: true, RetryAfter: DefaultRetryAfter, Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &JobError{Code: CodeCancelled, Message: "operation cancelled", Cause: err}
	}

	return &JobError{Code: CodeInternal, Message: err.Error(), Cause: err}
}
