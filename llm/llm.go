// Package llm turns natural-language prompts into raw filter documents
// through an OpenAI-compatible chat completion API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// ErrBadOutput indicates the model produced non-JSON or structurally
// invalid output.
var ErrBadOutput = errors.New("bad model output")

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4oMini

// Parser produces a raw filter document from a system prompt and the
// user's natural-language input.
type Parser interface {
	Parse(ctx context.Context, systemPrompt, userInput string) (json.RawMessage, error)
}

// Completer is the subset of the completion client the parser calls.
// *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI is a Parser backed by an OpenAI-compatible endpoint.
type OpenAI struct {
	client Completer
	model  string
}

// Option configures an OpenAI parser.
type Option func(*settings)

type settings struct {
	model   string
	baseURL string
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithBaseURL points the client at a compatible non-default endpoint,
// such as a local inference server.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
	}
}

// New creates an OpenAI parser authenticated with apiKey.
func New(apiKey string, opts ...Option) *OpenAI {
	s := settings{model: DefaultModel}
	for _, opt := range opts {
		opt(&s)
	}

	cfg := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  s.model,
	}
}

// NewWithClient creates an OpenAI parser over an existing client.
func NewWithClient(client Completer, model string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}

	return &OpenAI{client: client, model: model}
}

// Parse implements [Parser]. The completion is requested in JSON mode
// at temperature zero so identical prompts parse identically.
func (o *OpenAI) Parse(ctx context.Context, systemPrompt, userInput string) (json.RawMessage, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userInput},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrBadOutput)
	}

	return ExtractJSON(resp.Choices[0].Message.Content)
}

// ExtractJSON strips markdown code fences from a completion and
// returns the JSON object inside. Models occasionally fence their
// output even in JSON mode.
func ExtractJSON(content string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(content)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("%w: not a JSON document", ErrBadOutput)
	}

	return json.RawMessage(trimmed), nil
}
