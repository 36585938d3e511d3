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

package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"time"

	"github.com/voxflow/voxflow/internal/artifact"
	"github.com/voxflow/voxflow/internal/executor"
	"github.com/voxflow/voxflow/internal/job"
	"github.com/voxflow/voxflow/internal/speech"
	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// runUpload fetches the source video into the artifact store.
//
// Download progress is mapped into [5,90]; storing metadata and
// completing the step fill the rest.
func (s *Service) runUpload(ctx context.Context, j *job.Job, report executor.ProgressFunc) (map[string]any, error) {
	source := paramString(j.InputParams, "source_url")
	report(5, "fetching source video")

	var uri string
	var err error
	if isRemote(source) {
		uri, err = s.artifacts.StoreFromURL(ctx, source, j.WorkflowID, func(p artifact.Progress) {
			if p.Total > 0 {
				report(5+p.Percent*0.85, "downloading video")
			}
		})
	} else {
		uri, err = s.artifacts.StoreFromPath(source, j.WorkflowID)
	}
	if err != nil {
		return nil, err
	}
	report(90, "video stored")

	info, err := s.artifacts.FileInfo(uri)
	if err != nil {
		return nil, err
	}
	s.metrics.ArtifactStored(ctx, info.Size)

	result := workflow.UploadResult{
		VideoURL:  uri,
		Size:      info.Size,
		Format:    info.ContentType,
		SourceURL: source,
	}
	if _, err := s.workflows.CompleteStep(j.WorkflowID, workflow.StepUploadVideo, result); err != nil {
		return nil, err
	}
	return payloadOf(result)
}

// runExtract pulls the mono 16kHz WAV track out of the stored video
// and replaces the video with it.
func (s *Service) runExtract(ctx context.Context, j *job.Job, report executor.ProgressFunc) (map[string]any, error) {
	upload, err := stepResult[workflow.UploadResult](s.workflows, j.WorkflowID, workflow.StepUploadVideo)
	if err != nil {
		return nil, err
	}

	videoPath, err := s.artifacts.Resolve(upload.VideoURL)
	if err != nil {
		return nil, err
	}

	report(10, "extracting audio")
	start := time.Now()
	audio, err := s.extractor.Extract(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	defer os.Remove(audio.Path)
	report(70, "audio extracted")

	audioURI, err := s.artifacts.StoreFromPath(audio.Path, j.WorkflowID)
	if err != nil {
		return nil, err
	}
	s.metrics.ArtifactStored(ctx, audio.SizeBytes)

	// The video is only an intermediate; reclaim its space now that the
	// audio is safely stored.
	cleanup, err := s.artifacts.Cleanup(upload.VideoURL)
	if err != nil {
		s.logger.Warn("video cleanup failed",
			"workflow_id", j.WorkflowID, "uri", upload.VideoURL, "error", err)
	}
	s.metrics.ArtifactCleaned(ctx, cleanup.FreedBytes)
	report(90, "video cleaned up")

	result := workflow.ExtractAudioResult{
		AudioURL:       audioURI,
		AudioSize:      audio.SizeBytes,
		DurationS:      audio.Duration.Seconds(),
		SampleRate:     audio.SampleRate,
		Channels:       audio.Channels,
		VideoCleaned:   cleanup.Success,
		ExtractionTime: time.Since(start).Seconds(),
	}
	if _, err := s.workflows.CompleteStep(j.WorkflowID, workflow.StepExtractAudio, result); err != nil {
		return nil, err
	}
	return payloadOf(result)
}

// runTranscribe turns the stored audio into text, falling back to the
// cloud recognizer when the local one fails.
func (s *Service) runTranscribe(ctx context.Context, j *job.Job, report executor.ProgressFunc) (map[string]any, error) {
	extract, err := stepResult[workflow.ExtractAudioResult](s.workflows, j.WorkflowID, workflow.StepExtractAudio)
	if err != nil {
		return nil, err
	}
	if extract.AudioURL == "" {
		return nil, vferrors.NewJobError(vferrors.CodeNoAudioReference,
			"extract_audio completed without an audio reference")
	}

	audioPath, err := s.artifacts.Resolve(extract.AudioURL)
	if err != nil {
		var nf *vferrors.NotFoundError
		if vferrors.As(err, &nf) {
			return nil, vferrors.NewJobError(vferrors.CodeAudioFileNotFound,
				"audio artifact is gone: %s", extract.AudioURL)
		}
		return nil, err
	}

	quality, err := speech.ParseQuality(paramString(j.InputParams, "quality"))
	if err != nil {
		return nil, err
	}

	recognizer := s.pickRecognizer(paramBool(j.InputParams, "use_azure"))
	report(10, "transcribing audio")

	res, err := recognizer.Transcribe(ctx, speech.Request{
		AudioPath: audioPath,
		Quality:   quality,
		Language:  paramString(j.InputParams, "language"),
	})
	if err != nil {
		return nil, err
	}
	report(90, "transcription complete")

	// The audio served its purpose; the text is the durable artifact.
	cleanup, err := s.artifacts.Cleanup(extract.AudioURL)
	if err != nil {
		s.logger.Warn("audio cleanup failed",
			"workflow_id", j.WorkflowID, "uri", extract.AudioURL, "error", err)
	}
	s.metrics.ArtifactCleaned(ctx, cleanup.FreedBytes)

	result := workflow.TranscriptionResult{
		Text:         res.Text,
		Language:     res.Language,
		Segments:     res.Segments,
		Confidence:   res.Confidence,
		Duration:     res.Duration.Seconds(),
		ServiceUsed:  res.ServiceUsed,
		Quality:      string(res.Quality),
		AudioCleaned: cleanup.Success,
	}
	if _, err := s.workflows.CompleteStep(j.WorkflowID, workflow.StepTranscribe, result); err != nil {
		return nil, err
	}
	return payloadOf(result)
}

// pickRecognizer chooses the transcription backend for one job.
func (s *Service) pickRecognizer(useAzure bool) speech.Recognizer {
	if useAzure && s.cloud != nil {
		return s.cloud
	}
	if s.cloud != nil {
		return speech.NewFallback(s.local, s.cloud, s.logger)
	}
	return s.local
}

// runEnhance rewrites the transcription with the language model.
func (s *Service) runEnhance(ctx context.Context, j *job.Job, report executor.ProgressFunc) (map[string]any, error) {
	text := paramString(j.InputParams, "raw_text")
	if text == "" {
		tr, err := stepResult[workflow.TranscriptionResult](s.workflows, j.WorkflowID, workflow.StepTranscribe)
		if err != nil {
			return nil, err
		}
		text = tr.Text
	}
	if text == "" {
		return nil, vferrors.NewJobError(vferrors.CodeNoTextToEnhance,
			"no text available: provide raw_text or transcribe the workflow first")
	}

	report(10, "enhancing transcription")
	enh, err := s.analyzer.Enhance(ctx, text)
	if err != nil {
		return nil, err
	}
	report(90, "enhancement complete")

	result := workflow.EnhancementResult{
		EnhancedText: enh.EnhancedText,
		Summary:      enh.Summary,
		KeyPoints:    enh.KeyPoints,
		Topics:       enh.Topics,
		Sentiment:    enh.Sentiment,
		Model:        enh.Model,
	}
	if _, err := s.workflows.CompleteStep(j.WorkflowID, workflow.StepEnhance, result); err != nil {
		return nil, err
	}
	return payloadOf(result)
}

// payloadOf mirrors a step result into the job result payload, so the
// terminal job record and the workflow step record never diverge.
func payloadOf(result any) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// stepResult loads and decodes a completed step's typed result.
func stepResult[T any](store *workflow.Store, workflowID string, step workflow.StepName) (*T, error) {
	raw, err := store.StepResult(workflowID, step)
	if err != nil {
		return nil, err
	}
	return workflow.DecodeResult[T](raw)
}

// isRemote reports whether the source should be fetched over the
// network rather than copied from the local filesystem.
func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "s3":
		return true
	}
	return false
}

func paramString(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func paramBool(params map[string]any, key string) bool {
	v, _ := params[key].(bool)
	return v
}
