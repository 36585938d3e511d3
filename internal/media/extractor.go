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

// Package media demuxes audio out of video files. The default
// implementation shells out to ffmpeg and produces mono 16kHz WAV,
// the format the speech recognizers expect.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Target audio format for speech recognition.
const (
	SampleRate = 16000
	Channels   = 1
	// bytesPerSecond for 16-bit mono PCM at SampleRate.
	bytesPerSecond = SampleRate * Channels * 2
	// wavHeaderSize is the canonical RIFF/WAVE header length ffmpeg emits.
	wavHeaderSize = 44
)

// Audio describes an extracted audio file. Path points at a temporary
// file the caller owns and must remove after storing it.
type Audio struct {
	Path       string
	SizeBytes  int64
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Extractor turns a video file into a transcription-ready audio file.
type Extractor interface {
	Extract(ctx context.Context, videoPath string) (*Audio, error)
}

// FFmpeg extracts audio by invoking the ffmpeg binary.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// Option configures an FFmpeg extractor.
type Option func(*FFmpeg)

// WithBinary overrides the ffmpeg executable path.
func WithBinary(path string) Option {
	return func(f *FFmpeg) { f.binary = path }
}

// NewFFmpeg returns an extractor that shells out to ffmpeg.
func NewFFmpeg(logger *slog.Logger, opts ...Option) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FFmpeg{binary: "ffmpeg", logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Extract demuxes videoPath into a temporary mono 16kHz WAV file.
func (f *FFmpeg) Extract(ctx context.Context, videoPath string) (*Audio, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, &vferrors.JobError{
			Code:    vferrors.CodeAudioFileNotFound,
			Message: fmt.Sprintf("video file not found: %s", filepath.Base(videoPath)),
			Cause:   err,
		}
	}

	out, err := os.CreateTemp("", "voxflow-audio-*.wav")
	if err != nil {
		return nil, fmt.Errorf("creating audio temp file: %w", err)
	}
	outPath := out.Name()
	out.Close()

	args := extractArgs(videoPath, outPath)
	start := time.Now()
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("ffmpeg failed",
			"video", filepath.Base(videoPath),
			"stderr", truncate(stderr.String(), 2048))
		return nil, &vferrors.JobError{
			Code:    vferrors.CodeInternal,
			Message: fmt.Sprintf("audio extraction failed: %s", lastLine(stderr.String())),
			Cause:   err,
		}
	}

	info, err := os.Stat(outPath)
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("reading extracted audio: %w", err)
	}
	audio := &Audio{
		Path:       outPath,
		SizeBytes:  info.Size(),
		Duration:   wavDuration(info.Size()),
		SampleRate: SampleRate,
		Channels:   Channels,
	}
	f.logger.Debug("audio extracted",
		"video", filepath.Base(videoPath),
		"size_bytes", audio.SizeBytes,
		"duration", audio.Duration,
		"elapsed", time.Since(start))
	return audio, nil
}

// extractArgs builds the ffmpeg invocation: no video, mono, 16kHz,
// 16-bit PCM WAV, overwrite the (already created) output file.
func extractArgs(videoPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-i", videoPath,
		"-vn",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"-y", outPath,
	}
}

// wavDuration derives play time from the PCM payload size.
func wavDuration(fileSize int64) time.Duration {
	payload := fileSize - wavHeaderSize
	if payload <= 0 {
		return 0
	}
	return time.Duration(float64(payload) / bytesPerSecond * float64(time.Second))
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
