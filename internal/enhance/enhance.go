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

// Package enhance improves raw transcriptions and runs text analyses
// through an Azure OpenAI chat deployment. Every operation asks the
// model for strict JSON and parses it into typed results.
package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"

	"github.com/voxflow/voxflow/internal/config"
	"github.com/voxflow/voxflow/internal/log"
	vferrors "github.com/voxflow/voxflow/pkg/errors"
)

// Enhancement is the full enhancement payload.
type Enhancement struct {
	EnhancedText string   `json:"enhanced_text"`
	Summary      string   `json:"summary"`
	KeyPoints    []string `json:"key_points"`
	Topics       []string `json:"topics"`
	Sentiment    string   `json:"sentiment"`
	Model        string   `json:"model_used"`
}

// Sentiment is the sentiment analysis payload.
type Sentiment struct {
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// chatFunc issues one chat completion. Narrowed out of the azopenai
// client so tests can substitute a fake.
type chatFunc func(ctx context.Context, system, user string) (string, error)

// Service talks to the chat deployment.
type Service struct {
	chat       chatFunc
	deployment string
	logger     *slog.Logger
	calls      *log.ServiceMiddleware
}

// New builds the service from config. A configured key selects API-key
// auth; otherwise the client-credentials token source is used.
func New(cfg config.AzureOpenAIConfig, logger *slog.Logger) (*Service, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure openai: endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var client *azopenai.Client
	var err error
	if cfg.Key != "" {
		client, err = azopenai.NewClientWithKeyCredential(cfg.Endpoint, azcore.NewKeyCredential(cfg.Key), nil)
	} else {
		var cred azcore.TokenCredential
		cred, err = newClientCredential()
		if err == nil {
			client, err = azopenai.NewClient(cfg.Endpoint, cred, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("azure openai: creating client: %w", err)
	}

	s := &Service{
		deployment: cfg.Deployment,
		logger:     logger,
		calls:      log.NewServiceMiddleware(logger),
	}
	s.chat = func(ctx context.Context, system, user string) (string, error) {
		resp, err := client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
			DeploymentName: to.Ptr(s.deployment),
			Messages: []azopenai.ChatRequestMessageClassification{
				&azopenai.ChatRequestSystemMessage{
					Content: azopenai.NewChatRequestSystemMessageContent(system),
				},
				&azopenai.ChatRequestUserMessage{
					Content: azopenai.NewChatRequestUserMessageContent(user),
				},
			},
		}, nil)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
			return "", fmt.Errorf("no completion received")
		}
		return *resp.Choices[0].Message.Content, nil
	}
	return s, nil
}

// Model returns the deployment name results are attributed to.
func (s *Service) Model() string { return s.deployment }

const enhanceSystem = `You clean up raw speech-to-text transcriptions.
Fix punctuation, casing, and obvious recognition mistakes without
changing meaning. Respond with a JSON object only, no prose, with
keys: enhanced_text (string), summary (string), key_points (array of
strings), topics (array of strings), sentiment (one of "positive",
"neutral", "negative").`

// Enhance cleans up a raw transcription and returns the full payload.
func (s *Service) Enhance(ctx context.Context, rawText string) (*Enhancement, error) {
	var out Enhancement
	if err := s.completeJSON(ctx, "enhance", enhanceSystem, rawText, &out); err != nil {
		return nil, err
	}
	out.Model = s.deployment
	return &out, nil
}

// Summarize produces a concise summary of the text.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	system := `Summarize the user's text in a few sentences. Respond
with a JSON object only: {"summary": "..."}.`
	if err := s.completeJSON(ctx, "summarize", system, text, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

// KeyPoints extracts the main points of the text.
func (s *Service) KeyPoints(ctx context.Context, text string) ([]string, error) {
	var out struct {
		KeyPoints []string `json:"key_points"`
	}
	system := `Extract the key points of the user's text. Respond with
a JSON object only: {"key_points": ["...", "..."]}.`
	if err := s.completeJSON(ctx, "key_points", system, text, &out); err != nil {
		return nil, err
	}
	return out.KeyPoints, nil
}

// AnalyzeSentiment classifies the overall sentiment of the text.
func (s *Service) AnalyzeSentiment(ctx context.Context, text string) (*Sentiment, error) {
	var out Sentiment
	system := `Classify the overall sentiment of the user's text.
Respond with a JSON object only: {"sentiment": "positive"|"neutral"|
"negative", "confidence": 0..1, "rationale": "..."}.`
	if err := s.completeJSON(ctx, "sentiment", system, text, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IdentifyTopics lists the topics the text covers.
func (s *Service) IdentifyTopics(ctx context.Context, text string) ([]string, error) {
	var out struct {
		Topics []string `json:"topics"`
	}
	system := `Identify the topics the user's text covers. Respond with
a JSON object only: {"topics": ["...", "..."]}.`
	if err := s.completeJSON(ctx, "topics", system, text, &out); err != nil {
		return nil, err
	}
	return out.Topics, nil
}

// completeJSON runs one chat call and decodes the JSON reply into out.
func (s *Service) completeJSON(ctx context.Context, operation, system, user string, out any) error {
	call := &log.ServiceCall{Service: "azure_openai", Operation: operation}
	return s.calls.Handler(call, func() error {
		content, err := s.chat(ctx, system, user)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &vferrors.ServiceError{
				Service: "azure_openai",
				Message: fmt.Sprintf("%s request failed", operation),
				Cause:   err,
			}
		}
		if err := json.Unmarshal([]byte(stripFences(content)), out); err != nil {
			return &vferrors.ServiceError{
				Service: "azure_openai",
				Message: fmt.Sprintf("%s returned malformed JSON", operation),
				Cause:   err,
			}
		}
		return nil
	})
}

// stripFences removes a markdown code fence the model may wrap its
// JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
