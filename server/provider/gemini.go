package provider

import (
	"context"

	"google.golang.org/genai"

	"github.com/teilomillet/campusgate/conversation"
)

// ContentGenerator is the part of *genai.Models the Gemini backend uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiBackend talks to the Gemini API through the genai SDK.
type GeminiBackend struct {
	name        string
	model       string
	models      ContentGenerator
	constraints conversation.ProviderConstraints
	opts        GenerationOptions
}

// NewGeminiBackend creates a backend for model. models is usually client.Models.
func NewGeminiBackend(name, model string, models ContentGenerator, c conversation.ProviderConstraints, opts GenerationOptions) *GeminiBackend {
	return &GeminiBackend{
		name:        name,
		model:       model,
		models:      models,
		constraints: c,
		opts:        opts,
	}
}

func (b *GeminiBackend) Name() string { return b.name }

func (b *GeminiBackend) Constraints() conversation.ProviderConstraints { return b.constraints }

// Complete sends the turns as user/model contents with the system prompt as the system
// instruction.
func (b *GeminiBackend) Complete(ctx context.Context, req *conversation.AssembledRequest) (string, error) {
	res, err := b.models.GenerateContent(ctx, b.model, Contents(req), b.config(req))
	if err != nil {
		return "", err
	}
	text := res.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (b *GeminiBackend) config(req *conversation.AssembledRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if b.opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*b.opts.Temperature))
	}
	if b.opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(b.opts.MaxTokens)
	}
	return cfg
}

// Contents converts an assembled request into genai contents, new message last.
func Contents(req *conversation.AssembledRequest) []*genai.Content {
	turns := req.Messages()
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == conversation.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(t.Text, role))
	}
	return out
}
