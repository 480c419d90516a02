package provider

import (
	"context"
	"errors"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"

	"github.com/teilomillet/campusgate/conversation"
)

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Generator is the part of gollm.LLM the backend uses.
type Generator interface {
	Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error)
}

// GollmBackend sends conversations through a gollm client (OpenAI, Anthropic, Ollama and the
// other providers gollm supports).
type GollmBackend struct {
	name        string
	llm         Generator
	constraints conversation.ProviderConstraints
}

// NewGollmBackend wraps a gollm client.
func NewGollmBackend(name string, llm Generator, c conversation.ProviderConstraints) *GollmBackend {
	return &GollmBackend{name: name, llm: llm, constraints: c}
}

func (b *GollmBackend) Name() string { return b.name }

func (b *GollmBackend) Constraints() conversation.ProviderConstraints { return b.constraints }

// Complete sends the system prompt, the retained turns and the new message as one prompt.
func (b *GollmBackend) Complete(ctx context.Context, req *conversation.AssembledRequest) (string, error) {
	out, err := b.llm.Generate(ctx, Prompt(req))
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// Prompt converts an assembled request into a gollm prompt. The system prompt goes in
// SystemPrompt, which gollm sends as the provider's system instruction.
func Prompt(req *conversation.AssembledRequest) *gollm.Prompt {
	turns := req.Messages()
	messages := make([]gollm.PromptMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, gollm.PromptMessage{Role: string(t.Role), Content: t.Text})
	}
	return &gollm.Prompt{SystemPrompt: req.SystemPrompt, Messages: messages}
}
