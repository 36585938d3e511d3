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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/workflow"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Whisper runs the local whisper CLI and parses its JSON output.
type Whisper struct {
	binary   string
	modelDir string
	logger   *slog.Logger
}

var _ Recognizer = (*Whisper)(nil)

// NewWhisper builds a local recognizer from config.
func NewWhisper(cfg config.WhisperConfig, logger *slog.Logger) *Whisper {
	if logger == nil {
		logger = slog.Default()
	}
	binary := cfg.Binary
	if binary == "" {
		binary = "whisper"
	}
	return &Whisper{binary: binary, modelDir: cfg.ModelDir, logger: logger}
}

func (w *Whisper) Name() string { return "whisper" }

// whisperOutput mirrors the CLI's JSON output file.
type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (w *Whisper) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if _, err := os.Stat(req.AudioPath); err != nil {
		return nil, &vferrors.JobError{
			Code:    vferrors.CodeAudioFileNotFound,
			Message: fmt.Sprintf("audio file not found: %s", filepath.Base(req.AudioPath)),
			Cause:   err,
		}
	}

	outDir, err := os.MkdirTemp("", "voxflow-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("creating whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	args := []string{
		req.AudioPath,
		"--model", req.Quality.Model(),
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if w.modelDir != "" {
		args = append(args, "--model_dir", w.modelDir)
	}
	if req.Language != "" {
		args = append(args, "--language", req.Language)
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, w.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.logger.Warn("whisper failed",
			"audio", filepath.Base(req.AudioPath),
			"model", req.Quality.Model(),
			"stderr", trimOutput(stderr.String()))
		return nil, &vferrors.JobError{
			Code:      vferrors.CodeTranscriptionFailed,
			Message:   fmt.Sprintf("whisper exited with error: %s", trimOutput(stderr.String())),
			Retryable: true,
			Cause:     err,
		}
	}

	out, err := w.readOutput(outDir, req.AudioPath)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Text:        strings.TrimSpace(out.Text),
		Language:    out.Language,
		ServiceUsed: w.Name(),
		Quality:     req.Quality,
		Duration:    time.Since(start),
	}
	for _, s := range out.Segments {
		result.Segments = append(result.Segments, workflow.Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}
	return result, nil
}

// readOutput locates and parses the JSON file whisper writes next to
// the audio file's stem.
func (w *Whisper) readOutput(outDir, audioPath string) (*whisperOutput, error) {
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	path := filepath.Join(outDir, stem+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &vferrors.JobError{
			Code:      vferrors.CodeTranscriptionFailed,
			Message:   "whisper produced no output file",
			Retryable: true,
			Cause:     err,
		}
	}
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &vferrors.JobError{
			Code:      vferrors.CodeTranscriptionFailed,
			Message:   "whisper output was not valid JSON",
			Retryable: true,
			Cause:     err,
		}
	}
	return &out, nil
}

func trimOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		s = s[len(s)-512:]
	}
	return s
}
