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

package enhance

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/voxflow/voxflow/internal/log"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// fakeService builds a Service whose chat function returns canned
// content.
func fakeService(content string, err error) *Service {
	logger := slog.New(slog.DiscardHandler)
	return &Service{
		deployment: "gpt-4o-mini",
		logger:     logger,
		calls:      log.NewServiceMiddleware(logger),
		chat: func(ctx context.Context, system, user string) (string, error) {
			return content, err
		},
	}
}

func TestEnhance(t *testing.T) {
	s := fakeService(`{
		"enhanced_text": "Hello, world.",
		"summary": "A greeting.",
		"key_points": ["greets the world"],
		"topics": ["greetings"],
		"sentiment": "positive"
	}`, nil)

	got, err := s.Enhance(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got.EnhancedText != "Hello, world." {
		t.Errorf("EnhancedText = %q", got.EnhancedText)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", got.Model)
	}
	if len(got.KeyPoints) != 1 || got.Sentiment != "positive" {
		t.Errorf("payload = %+v", got)
	}
}

func TestEnhanceStripsCodeFence(t *testing.T) {
	s := fakeService("```json\n{\"enhanced_text\": \"x\", \"summary\": \"y\", \"key_points\": [], \"topics\": [], \"sentiment\": \"neutral\"}\n```", nil)
	got, err := s.Enhance(context.Background(), "x")
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if got.EnhancedText != "x" {
		t.Errorf("EnhancedText = %q", got.EnhancedText)
	}
}

func TestAnalyses(t *testing.T) {
	t.Run("summarize", func(t *testing.T) {
		s := fakeService(`{"summary": "short"}`, nil)
		got, err := s.Summarize(context.Background(), "long text")
		if err != nil || got != "short" {
			t.Errorf("Summarize = (%q, %v)", got, err)
		}
	})
	t.Run("key points", func(t *testing.T) {
		s := fakeService(`{"key_points": ["a", "b"]}`, nil)
		got, err := s.KeyPoints(context.Background(), "text")
		if err != nil || len(got) != 2 {
			t.Errorf("KeyPoints = (%v, %v)", got, err)
		}
	})
	t.Run("sentiment", func(t *testing.T) {
		s := fakeService(`{"sentiment": "negative", "confidence": 0.8, "rationale": "complaints"}`, nil)
		got, err := s.AnalyzeSentiment(context.Background(), "text")
		if err != nil || got.Sentiment != "negative" || got.Confidence != 0.8 {
			t.Errorf("AnalyzeSentiment = (%+v, %v)", got, err)
		}
	})
	t.Run("topics", func(t *testing.T) {
		s := fakeService(`{"topics": ["go", "testing"]}`, nil)
		got, err := s.IdentifyTopics(context.Background(), "text")
		if err != nil || len(got) != 2 {
			t.Errorf("IdentifyTopics = (%v, %v)", got, err)
		}
	})
}

func TestMalformedJSON(t *testing.T) {
	s := fakeService("I'd be happy to help!", nil)
	_, err := s.Enhance(context.Background(), "text")
	var se *vferrors.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ServiceError", err)
	}
	if se.Service != "azure_openai" {
		t.Errorf("Service = %q", se.Service)
	}
}

func TestChatFailure(t *testing.T) {
	s := fakeService("", errors.New("429 too many requests"))
	_, err := s.Summarize(context.Background(), "text")
	var se *vferrors.ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want ServiceError", err)
	}
}

func TestStripFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripFences(tc.in); got != tc.want {
			t.Errorf("stripFences(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
