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
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/voxflow/voxflow/internal/config"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

type fakeRecognizer struct {
	name   string
	result *Result
	err    error
	calls  int
}

func (f *fakeRecognizer) Name() string { return f.name }

func (f *fakeRecognizer) Transcribe(ctx context.Context, req Request) (*Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	r.ServiceUsed = f.name
	return &r, nil
}

func TestParseQuality(t *testing.T) {
	cases := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"", QualityBalanced, false},
		{"fast", QualityFast, false},
		{"balanced", QualityBalanced, false},
		{"accurate", QualityAccurate, false},
		{"best", QualityBest, false},
		{"ultra", "", true},
		{"FAST", "", true},
	}
	for _, tc := range cases {
		got, err := ParseQuality(tc.in)
		if tc.wantErr {
			var ve *vferrors.ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("ParseQuality(%q) err = %v, want ValidationError", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseQuality(%q) = (%v, %v), want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestQualityModelMap(t *testing.T) {
	want := map[Quality]string{
		QualityFast:     "tiny",
		QualityBalanced: "base",
		QualityAccurate: "medium",
		QualityBest:     "large",
	}
	for q, model := range want {
		if got := q.Model(); got != model {
			t.Errorf("%s.Model() = %q, want %q", q, got, model)
		}
	}
}

func TestValidateLanguage(t *testing.T) {
	for _, ok := range []string{"", "en", "en-US", "de", "pt-BR", "zh-Hans"} {
		if err := ValidateLanguage(ok); err != nil {
			t.Errorf("ValidateLanguage(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"not a tag", "!!", "e"} {
		if err := ValidateLanguage(bad); err == nil {
			t.Errorf("ValidateLanguage(%q) = nil, want error", bad)
		}
	}
}

func TestFallbackPrimarySucceeds(t *testing.T) {
	primary := &fakeRecognizer{name: "whisper", result: &Result{Text: "hello"}}
	secondary := &fakeRecognizer{name: "azure", result: &Result{Text: "hi"}}
	f := NewFallback(primary, secondary, slog.New(slog.DiscardHandler))

	got, err := f.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.ServiceUsed != "whisper" || got.Text != "hello" {
		t.Errorf("result = %+v", got)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.calls)
	}
}

func TestFallbackRescues(t *testing.T) {
	primary := &fakeRecognizer{name: "whisper", err: errors.New("model load failed")}
	secondary := &fakeRecognizer{name: "azure", result: &Result{Text: "rescued"}}
	f := NewFallback(primary, secondary, slog.New(slog.DiscardHandler))

	got, err := f.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.ServiceUsed != "azure_fallback" {
		t.Errorf("ServiceUsed = %q, want azure_fallback", got.ServiceUsed)
	}
	if got.Text != "rescued" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestFallbackBothFail(t *testing.T) {
	primary := &fakeRecognizer{name: "whisper", err: errors.New("no model")}
	secondary := &fakeRecognizer{name: "azure", err: errors.New("401")}
	f := NewFallback(primary, secondary, slog.New(slog.DiscardHandler))

	_, err := f.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	var je *vferrors.JobError
	if !errors.As(err, &je) {
		t.Fatalf("err = %v, want JobError", err)
	}
	if je.Code != vferrors.CodeTranscriptionFailed || !je.Retryable {
		t.Errorf("JobError = %+v, want retryable TRANSCRIPTION_FAILED", je)
	}
}

func TestFallbackSkippedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := &fakeRecognizer{name: "whisper", err: context.Canceled}
	secondary := &fakeRecognizer{name: "azure", result: &Result{Text: "never"}}
	f := NewFallback(primary, secondary, slog.New(slog.DiscardHandler))

	cancel()
	_, err := f.Transcribe(ctx, Request{AudioPath: "a.wav"})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called after cancellation")
	}
}

func TestFallbackWithoutSecondary(t *testing.T) {
	primary := &fakeRecognizer{name: "whisper", err: errors.New("broken")}
	f := NewFallback(primary, nil, slog.New(slog.DiscardHandler))

	_, err := f.Transcribe(context.Background(), Request{AudioPath: "a.wav"})
	if err == nil || err.Error() != "broken" {
		t.Errorf("err = %v, want primary error passed through", err)
	}
}

func TestAzureSpeechTranscribe(t *testing.T) {
	var gotPath, gotKey, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"RecognitionStatus": "Success",
			"DisplayText": "hello world",
			"Duration": 20000000,
			"NBest": [{"Confidence": 0.93, "Display": "hello world"}]
		}`))
	}))
	defer server.Close()

	audio := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(audio, []byte("RIFFdata"), 0o600); err != nil {
		t.Fatal(err)
	}

	rec, err := NewAzureSpeech(config.AzureSpeechConfig{Endpoint: server.URL, Key: "secret"}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewAzureSpeech: %v", err)
	}
	got, err := rec.Transcribe(context.Background(), Request{AudioPath: audio, Quality: QualityBalanced, Language: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Text != "hello world" || got.ServiceUsed != "azure" {
		t.Errorf("result = %+v", got)
	}
	if got.Confidence != 0.93 {
		t.Errorf("Confidence = %v", got.Confidence)
	}
	if gotPath != "/speech/recognition/conversation/cognitiveservices/v1" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("subscription key header = %q", gotKey)
	}
	if gotContentType == "" {
		t.Error("Content-Type header missing")
	}
}

func TestAzureSpeechRecognitionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"RecognitionStatus": "InitialSilenceTimeout"}`))
	}))
	defer server.Close()

	audio := filepath.Join(t.TempDir(), "a.wav")
	os.WriteFile(audio, []byte("RIFFdata"), 0o600)

	rec, err := NewAzureSpeech(config.AzureSpeechConfig{Endpoint: server.URL, Key: "k"}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewAzureSpeech: %v", err)
	}
	_, err = rec.Transcribe(context.Background(), Request{AudioPath: audio, Quality: QualityFast})
	var je *vferrors.JobError
	if !errors.As(err, &je) || je.Code != vferrors.CodeTranscriptionFailed {
		t.Fatalf("err = %v, want TRANSCRIPTION_FAILED", err)
	}
}

func TestNewAzureSpeechRequiresKey(t *testing.T) {
	_, err := NewAzureSpeech(config.AzureSpeechConfig{Region: "westus2"}, nil)
	if err == nil {
		t.Fatal("expected error without key")
	}
}
