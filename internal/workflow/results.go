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

package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// UploadResult is the upload_video step payload.
type UploadResult struct {
	VideoURL  string `json:"video_url"`
	Size      int64  `json:"size"`
	Format    string `json:"format,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
}

// ExtractAudioResult is the extract_audio step payload.
type ExtractAudioResult struct {
	AudioURL       string  `json:"audio_url"`
	AudioSize      int64   `json:"audio_size"`
	DurationS      float64 `json:"duration_seconds,omitempty"`
	SampleRate     int     `json:"sample_rate,omitempty"`
	Channels       int     `json:"channels,omitempty"`
	VideoCleaned   bool    `json:"video_cleaned"`
	ExtractionTime float64 `json:"extraction_time"`
}

// Segment is one timed span of a transcription.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is the transcribe_audio step payload.
type TranscriptionResult struct {
	Text         string    `json:"raw_text"`
	Language     string    `json:"language,omitempty"`
	Segments     []Segment `json:"segments,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	ServiceUsed  string    `json:"service_used"`
	Quality      string    `json:"quality_used,omitempty"`
	AudioCleaned bool      `json:"audio_cleaned"`
}

// EnhancementResult is the enhance_transcription step payload.
type EnhancementResult struct {
	EnhancedText string   `json:"enhanced_text"`
	Summary      string   `json:"summary,omitempty"`
	KeyPoints    []string `json:"key_points,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	Sentiment    string   `json:"sentiment,omitempty"`
	Model        string   `json:"model_used,omitempty"`
}

// SummaryResult is the summarize_content step payload.
type SummaryResult struct {
	Summary string `json:"summary"`
	Model   string `json:"model,omitempty"`
}

// KeyPointsResult is the extract_key_points step payload.
type KeyPointsResult struct {
	KeyPoints []string `json:"key_points"`
	Model     string   `json:"model,omitempty"`
}

// SentimentResult is the analyze_sentiment step payload.
type SentimentResult struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// TopicsResult is the identify_topics step payload.
type TopicsResult struct {
	Topics []string `json:"topics"`
	Model  string   `json:"model,omitempty"`
}

// resultTypes pins each step to its payload type, so a caller cannot
// persist a mismatched result under the wrong step.
var resultTypes = map[StepName]reflect.Type{
	StepUploadVideo:  reflect.TypeOf(UploadResult{}),
	StepExtractAudio: reflect.TypeOf(ExtractAudioResult{}),
	StepTranscribe:   reflect.TypeOf(TranscriptionResult{}),
	StepEnhance:      reflect.TypeOf(EnhancementResult{}),
	StepSummarize:    reflect.TypeOf(SummaryResult{}),
	StepKeyPoints:    reflect.TypeOf(KeyPointsResult{}),
	StepSentiment:    reflect.TypeOf(SentimentResult{}),
	StepTopics:       reflect.TypeOf(TopicsResult{}),
}

// encodeResult validates the result against the step's expected type
// and serializes it. Pointer and value forms are both accepted.
func encodeResult(step StepName, result any) (json.RawMessage, error) {
	want, ok := resultTypes[step]
	if !ok {
		return nil, &vferrors.ValidationError{Field: "step", Message: fmt.Sprintf("unknown step %q", step)}
	}
	got := reflect.TypeOf(result)
	if got != nil && got.Kind() == reflect.Pointer {
		got = got.Elem()
	}
	if got != want {
		return nil, &vferrors.ValidationError{
			Field:   "result",
			Message: fmt.Sprintf("step %s expects %s result, got %v", step, want.Name(), reflect.TypeOf(result)),
		}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", step, err)
	}
	return raw, nil
}

// DecodeResult deserializes a persisted step result into its typed
// form. T must match the step that produced raw.
func DecodeResult[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no result recorded")
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding step result: %w", err)
	}
	return &out, nil
}
