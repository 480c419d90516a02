// Package provider implements the model backends and the manager that fails over between them.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/conversation"
)

// Backend is one model endpoint. Complete sends an assembled conversation and returns the
// model's text.
type Backend interface {
	Name() string
	Constraints() conversation.ProviderConstraints
	Complete(ctx context.Context, req *conversation.AssembledRequest) (string, error)
}

// DefaultConstraints returns the turn-sequence rules a backend type is known to enforce.
// Gemini and Anthropic reject histories that start with the model or repeat a role.
func DefaultConstraints(providerType string) conversation.ProviderConstraints {
	switch strings.ToLower(providerType) {
	case "gemini", "google", "anthropic":
		return conversation.ProviderConstraints{
			RequiresLeadingUser:          true,
			ForbidsAdjacentDuplicateRole: true,
		}
	default:
		return conversation.ProviderConstraints{}
	}
}

// GenerationOptions are the sampling parameters sent with each request.
type GenerationOptions struct {
	Temperature *float64
	MaxTokens   int
}

// optionsFrom reads generation options from the llm section, overridden per provider.
func optionsFrom(defaults, overrides map[string]interface{}) GenerationOptions {
	merged := make(map[string]interface{}, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	var opts GenerationOptions
	if t, ok := toFloat(merged["temperature"]); ok {
		opts.Temperature = &t
	}
	if n, ok := toFloat(merged["max_tokens"]); ok && n > 0 {
		opts.MaxTokens = int(n)
	}
	return opts
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// NewBackends builds a backend for every configured provider, in preference order.
// Gemini providers use the genai SDK; every other type goes through gollm.
func NewBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]Backend, error) {
	named := cfg.Backends()
	backends := make([]Backend, 0, len(named))
	for _, p := range named {
		constraints := DefaultConstraints(p.Type)
		if p.Constraints != nil {
			constraints = *p.Constraints
		}
		opts := optionsFrom(cfg.LLM.Options, p.Options)

		var (
			b   Backend
			err error
		)
		switch strings.ToLower(p.Type) {
		case "gemini", "google":
			b, err = newGeminiFromConfig(ctx, p, constraints, opts)
		default:
			b, err = newGollmFromConfig(p, constraints, opts)
		}
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}

		logger.Info("backend configured",
			zap.String("provider", p.Name),
			zap.String("type", p.Type),
			zap.String("model", p.Model),
			zap.Bool("requires_leading_user", constraints.RequiresLeadingUser),
			zap.Bool("forbids_adjacent_duplicate_role", constraints.ForbidsAdjacentDuplicateRole),
		)
		backends = append(backends, b)
	}
	return backends, nil
}

func newGeminiFromConfig(ctx context.Context, p config.NamedProvider, c conversation.ProviderConstraints, opts GenerationOptions) (Backend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiBackend(p.Name, p.Model, client.Models, c, opts), nil
}

func newGollmFromConfig(p config.NamedProvider, c conversation.ProviderConstraints, opts GenerationOptions) (Backend, error) {
	settings := []gollm.ConfigOption{
		gollm.SetProvider(p.Type),
		gollm.SetModel(p.Model),
		gollm.SetAPIKey(p.APIKey),
	}
	if opts.Temperature != nil {
		settings = append(settings, gollm.SetTemperature(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		settings = append(settings, gollm.SetMaxTokens(opts.MaxTokens))
	}
	if p.Endpoint != "" {
		settings = append(settings, gollm.SetOllamaEndpoint(p.Endpoint))
	}

	llm, err := gollm.NewLLM(settings...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", p.Type, err)
	}
	return NewGollmBackend(p.Name, llm, c), nil
}
