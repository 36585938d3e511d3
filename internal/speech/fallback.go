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

package speech

import (
	"context"
	"fmt"
	"log/slog"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Fallback tries a primary recognizer and, when it fails for a reason
// other than cancellation, retries through the secondary. A result
// rescued by the secondary carries "<name>_fallback" as its service.
type Fallback struct {
	primary   Recognizer
	secondary Recognizer
	logger    *slog.Logger
}

var _ Recognizer = (*Fallback)(nil)

// NewFallback composes two recognizers. secondary may be nil, in which
// case primary failures are final.
func NewFallback(primary, secondary Recognizer, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Name() string { return f.primary.Name() }

func (f *Fallback) Transcribe(ctx context.Context, req Request) (*Result, error) {
	result, primaryErr := f.primary.Transcribe(ctx, req)
	if primaryErr == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}
	if f.secondary == nil {
		return nil, primaryErr
	}

	f.logger.Warn("primary recognizer failed, falling back",
		"primary", f.primary.Name(),
		"fallback", f.secondary.Name(),
		"error", primaryErr)

	result, secondaryErr := f.secondary.Transcribe(ctx, req)
	if secondaryErr != nil {
		return nil, &vferrors.JobError{
			Code: vferrors.CodeTranscriptionFailed,
			Message: fmt.Sprintf("all recognizers failed: %s: %v; %s: %v",
				f.primary.Name(), primaryErr, f.secondary.Name(), secondaryErr),
			Retryable: true,
			Cause:     secondaryErr,
		}
	}
	result.ServiceUsed = f.secondary.Name() + "_fallback"
	return result, nil
}
