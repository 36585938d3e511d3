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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/log"
	"github.com/voxflow/voxflow/pkg/httpclient"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// azureTick is the API's duration unit (100ns ticks).
const azureTick = 100 * time.Nanosecond

// AzureSpeech transcribes through the Azure Speech short-audio REST
// API. It serves as the fallback recognizer, or primary when a request
// asks for it.
type AzureSpeech struct {
	endpoint string
	key      string
	client   *http.Client
	logger   *slog.Logger
	calls    *log.ServiceMiddleware
}

var _ Recognizer = (*AzureSpeech)(nil)

// NewAzureSpeech builds the REST recognizer. The endpoint derives from
// the region unless overridden.
func NewAzureSpeech(cfg config.AzureSpeechConfig, logger *slog.Logger) (*AzureSpeech, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("azure speech: key is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region == "" {
			return nil, fmt.Errorf("azure speech: region or endpoint is required")
		}
		endpoint = fmt.Sprintf("https://%s.stt.speech.microsoft.com", cfg.Region)
	}
	if logger == nil {
		logger = slog.Default()
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = 5 * time.Minute // long audio uploads
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("azure speech: building http client: %w", err)
	}
	return &AzureSpeech{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      cfg.Key,
		client:   client,
		logger:   logger,
		calls:    log.NewServiceMiddleware(logger),
	}, nil
}

func (a *AzureSpeech) Name() string { return "azure" }

// azureResponse mirrors the detailed-format recognition response.
type azureResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
	NBest              []struct {
		Confidence float64 `json:"Confidence"`
		Display    string  `json:"Display"`
	} `json:"NBest"`
}

func (a *AzureSpeech) Transcribe(ctx context.Context, req Request) (*Result, error) {
	audio, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, &vferrors.JobError{
			Code:    vferrors.CodeAudioFileNotFound,
			Message: fmt.Sprintf("audio file not found: %s", filepath.Base(req.AudioPath)),
			Cause:   err,
		}
	}
	defer audio.Close()

	lang := req.Language
	if lang == "" {
		lang = "en-US"
	}

	var result *Result
	call := &log.ServiceCall{Service: "azure_speech", Operation: "recognize"}
	err = a.calls.Handler(call, func() error {
		var innerErr error
		result, innerErr = a.recognize(ctx, audio, lang)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	result.Quality = req.Quality
	return result, nil
}

func (a *AzureSpeech) recognize(ctx context.Context, audio io.Reader, lang string) (*Result, error) {
	u := fmt.Sprintf("%s/speech/recognition/conversation/cognitiveservices/v1?%s",
		a.endpoint, url.Values{"language": {lang}, "format": {"detailed"}}.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, audio)
	if err != nil {
		return nil, fmt.Errorf("azure speech: building request: %w", err)
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.key)
	httpReq.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &vferrors.JobError{
			Code:      vferrors.CodeTranscriptionFailed,
			Message:   "azure speech request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("azure speech: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &vferrors.ServiceError{
			Service:    "azure_speech",
			StatusCode: resp.StatusCode,
			Message:    trimOutput(string(body)),
			Permanent:  resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
		}
	}

	var ar azureResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, &vferrors.JobError{
			Code:      vferrors.CodeTranscriptionFailed,
			Message:   "azure speech returned malformed JSON",
			Retryable: true,
			Cause:     err,
		}
	}
	if ar.RecognitionStatus != "Success" {
		return nil, &vferrors.JobError{
			Code:      vferrors.CodeTranscriptionFailed,
			Message:   fmt.Sprintf("azure speech recognition status: %s", ar.RecognitionStatus),
			Retryable: true,
		}
	}

	result := &Result{
		Text:        ar.DisplayText,
		Language:    lang,
		ServiceUsed: a.Name(),
		Duration:    time.Duration(ar.Duration) * azureTick,
	}
	if len(ar.NBest) > 0 {
		result.Confidence = ar.NBest[0].Confidence
		if result.Text == "" {
			result.Text = ar.NBest[0].Display
		}
	}
	return result, nil
}
