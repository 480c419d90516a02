package processing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"text/template"
	"unicode/utf8"

	"github.com/teilomillet/gollm"
	"go.uber.org/zap"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/conversation"
	"github.com/teilomillet/campusgate/server/metrics"
	"github.com/teilomillet/campusgate/server/provider"
)

// Executor runs requests against the model backends. *provider.Manager implements it.
type Executor interface {
	Execute(ctx context.Context, key string, op provider.Op) (provider.Result, error)
	Backend(name string) (provider.Backend, bool)
}

// Processor assembles conversations, renders prompt templates, sends both through the
// Executor and formats the replies.
type Processor struct {
	exec       Executor
	templates  map[string]*template.Template
	formatting config.ResponseFormattingConfig
	assembler  atomic.Pointer[conversation.Assembler]
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewProcessor creates a processor. Templates from cfg replace built-in templates of the same
// name; every template is compiled here so a bad one fails at startup. m may be nil.
func NewProcessor(cfg *config.ProcessingConfig, exec Executor, asm conversation.Assembler, logger *zap.Logger, m *metrics.Metrics) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("processing config is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}

	sources := make(map[string]string, len(builtinTemplates)+len(cfg.RequestTemplates))
	for name, src := range builtinTemplates {
		sources[name] = src
	}
	for name, src := range cfg.RequestTemplates {
		sources[name] = src
	}

	templates := make(map[string]*template.Template, len(sources))
	for name, src := range sources {
		t, err := template.New(name).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = t
	}

	p := &Processor{
		exec:       exec,
		templates:  templates,
		formatting: cfg.ResponseFormatting,
		logger:     logger,
		metrics:    m,
	}
	p.SetAssembler(asm)
	return p, nil
}

// SetAssembler replaces the assembler used by later requests.
func (p *Processor) SetAssembler(a conversation.Assembler) {
	p.assembler.Store(&a)
}

// Assembler returns the current assembler.
func (p *Processor) Assembler() conversation.Assembler {
	return *p.assembler.Load()
}

// Chat answers message given the client's raw history. The history is assembled separately
// for each backend tried, since backends differ in the turn sequences they accept.
//
// An empty message fails with conversation.ErrInvalidInput before any backend is called.
func (p *Processor) Chat(ctx context.Context, raw []conversation.RawTurn, message string, persona conversation.PersonaConfig) (*ChatResult, error) {
	asm := p.Assembler()
	if _, err := asm.Assemble(raw, message, persona); err != nil {
		return nil, err
	}

	op := func(ctx context.Context, b provider.Backend) (string, error) {
		req, err := asm.Assemble(raw, message, persona.WithConstraints(b.Constraints()))
		if err != nil {
			return "", err
		}
		return b.Complete(ctx, req)
	}

	res, err := p.exec.Execute(ctx, chatKey(persona.SystemPrompt, raw, message), op)
	if err != nil {
		return nil, err
	}

	// Assembly is deterministic, so this is exactly what the answering backend received.
	var constraints conversation.ProviderConstraints
	if b, ok := p.exec.Backend(res.Provider); ok {
		constraints = b.Constraints()
	}
	req, err := asm.Assemble(raw, message, persona.WithConstraints(constraints))
	if err != nil {
		return nil, err
	}
	p.recordRepairs(res.Provider, len(raw), req)

	return &ChatResult{
		Reply:     p.formatResponse(res.Text),
		Provider:  res.Provider,
		TurnsUsed: len(req.Turns),
		Repairs:   req.Repairs,
	}, nil
}

func (p *Processor) recordRepairs(providerName string, received int, req *conversation.AssembledRequest) {
	r := req.Repairs
	if p.metrics != nil {
		for reason, n := range map[string]int{
			"sentinel":  r.Sentinels,
			"empty":     r.Empty,
			"truncated": r.Truncated,
			"leading":   r.Leading,
			"adjacent":  r.Adjacent,
		} {
			if n > 0 {
				p.metrics.TurnsDropped.WithLabelValues(reason).Add(float64(n))
			}
		}
	}
	if r.Total() > 0 {
		p.logger.Debug("history repaired",
			zap.String("provider", providerName),
			zap.Int("received", received),
			zap.Int("retained", len(req.Turns)),
			zap.Int("sentinels", r.Sentinels),
			zap.Int("empty", r.Empty),
			zap.Int("truncated", r.Truncated),
			zap.Int("leading", r.Leading),
			zap.Int("adjacent", r.Adjacent),
		)
	}
}

// Generate renders the named template with data and sends it as a single-turn request.
// The reply is only trimmed: callers parse it.
func (p *Processor) Generate(ctx context.Context, name string, data interface{}) (*Response, error) {
	tmpl, ok := p.templates[name]
	if !ok {
		return nil, fmt.Errorf("no template named %q", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template execution failed: %w", err)
	}
	prompt := strings.TrimSpace(buf.String())
	if prompt == "" {
		return nil, fmt.Errorf("template %s rendered an empty prompt", name)
	}

	req := &conversation.AssembledRequest{
		SystemPrompt: systemPrompts[name],
		NewMessage:   prompt,
	}
	res, err := p.exec.Execute(ctx, hashKey(name, req.SystemPrompt, prompt), func(ctx context.Context, b provider.Backend) (string, error) {
		return b.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return &Response{Content: strings.TrimSpace(res.Text), Provider: res.Provider}, nil
}

// formatResponse applies configured formatting options to a chat reply:
// 1. Cleans JSON if enabled
// 2. Trims whitespace if enabled
// 3. Truncates to max length (in runes) if configured
func (p *Processor) formatResponse(content string) string {
	if p.formatting.CleanJSON {
		content = gollm.CleanResponse(content)
	}
	if p.formatting.TrimWhitespace {
		content = strings.TrimSpace(content)
	}
	if limit := p.formatting.MaxLength; limit > 0 && utf8.RuneCountInString(content) > limit {
		content = string([]rune(content)[:limit])
	}
	return content
}

func chatKey(systemPrompt string, raw []conversation.RawTurn, message string) string {
	parts := make([]string, 0, 2*len(raw)+3)
	parts = append(parts, "chat", systemPrompt)
	for _, t := range raw {
		parts = append(parts, t.Role, t.Payload())
	}
	parts = append(parts, message)
	return hashKey(parts...)
}

// hashKey identifies identical requests for deduplication.
func hashKey(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%d:%s", len(part), part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
