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

// Package speech turns audio files into text. Two recognizers are
// provided, a local whisper runner and the Azure Speech REST API,
// plus a fallback composition the transcribe stage depends on.
package speech

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Quality selects the accuracy/speed tradeoff.
type Quality string

const (
	QualityFast     Quality = "fast"
	QualityBalanced Quality = "balanced"
	QualityAccurate Quality = "accurate"
	QualityBest     Quality = "best"
)

// qualityModels maps each quality tier to a whisper model name.
var qualityModels = map[Quality]string{
	QualityFast:     "tiny",
	QualityBalanced: "base",
	QualityAccurate: "medium",
	QualityBest:     "large",
}

// ParseQuality validates a quality string, defaulting empty to
// balanced.
func ParseQuality(s string) (Quality, error) {
	if s == "" {
		return QualityBalanced, nil
	}
	q := Quality(s)
	if _, ok := qualityModels[q]; !ok {
		return "", &vferrors.ValidationError{
			Field:      "quality",
			Message:    fmt.Sprintf("unknown quality %q", s),
			Suggestion: "use one of: fast, balanced, accurate, best",
		}
	}
	return q, nil
}

// Model returns the whisper model for the quality tier.
func (q Quality) Model() string {
	return qualityModels[q]
}

// ValidateLanguage checks a transcription language hint is a valid
// BCP-47 tag. Empty means auto-detect and is always valid.
func ValidateLanguage(tag string) error {
	if tag == "" {
		return nil
	}
	if _, err := language.Parse(tag); err != nil {
		return &vferrors.ValidationError{
			Field:      "language",
			Message:    fmt.Sprintf("invalid language tag %q", tag),
			Suggestion: "use a BCP-47 tag such as en, en-US, or de",
		}
	}
	return nil
}

// Request is one transcription request.
type Request struct {
	// AudioPath is a local mono 16kHz WAV file.
	AudioPath string
	Quality   Quality
	// Language is an optional BCP-47 hint; empty auto-detects.
	Language string
}

// Result is a completed transcription.
type Result struct {
	Text        string
	Language    string
	Segments    []workflow.Segment
	Confidence  float64
	Duration    time.Duration
	ServiceUsed string
	Quality     Quality
}

// Recognizer converts audio to text.
type Recognizer interface {
	// Name identifies the service in results and logs.
	Name() string
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
