// Package openai provides a model.Generator backed by the OpenAI chat
// completions API (or any OpenAI-compatible endpoint via WithBaseURL).
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/talentloop/interviewgraph/model"
)

// Generator implements model.Generator over the OpenAI chat API.
type Generator struct {
	client openai.Client
	name   string
}

// Option configures a Generator.
type Option func(*options)

type options struct {
	apiKey        string
	baseURL       string
	openaiOptions []openaiopt.RequestOption
}

// WithAPIKey sets the API key. When unset the client falls back to the
// OPENAI_API_KEY environment variable.
func WithAPIKey(apiKey string) Option {
	return func(o *options) { o.apiKey = apiKey }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

// WithOpenAIOptions appends raw client options, applied last.
func WithOpenAIOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.openaiOptions = append(o.openaiOptions, opts...) }
}

// New creates an OpenAI-backed generator for the named model.
func New(name string, opts ...Option) *Generator {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.apiKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.apiKey))
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.openaiOptions...)
	return &Generator{
		client: openai.NewClient(clientOpts...),
		name:   name,
	}
}

// Info implements the model.Generator interface.
func (g *Generator) Info() model.Info {
	return model.Info{Name: g.name}
}

// GenerateText implements the model.Generator interface.
func (g *Generator) GenerateText(ctx context.Context, prompt string, history []model.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(prompt))
	for _, m := range history {
		switch m.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	completion, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.name),
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("no choices in completion response")
	}
	return completion.Choices[0].Message.Content, nil
}
