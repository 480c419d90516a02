// Package persona turns a chat mode and the client's persona selection into the
// conversation.PersonaConfig handed to the assembler.
//
// A Table holds personalities, keyed by a small integer chosen in the UI, and chat modes.
// Each mode has a system prompt template and the greeting markers of the welcome message
// the UI shows for it. An unknown personality id falls back to the table's default
// personality, which is 1 unless configured otherwise.
package persona

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/teilomillet/campusgate/config"
	"github.com/teilomillet/campusgate/conversation"
)

// DefaultPersonality is the personality used when a request names none or an unknown one.
const DefaultPersonality = 1

// ErrUnknownMode matches every UnknownModeError.
var ErrUnknownMode = errors.New("persona: unknown chat mode")

// UnknownModeError is returned by Resolve for a mode the table does not define.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown chat mode %q", e.Mode)
}

func (e *UnknownModeError) Is(target error) bool { return target == ErrUnknownMode }

// NotFound marks the error as a missing resource for the HTTP layer.
func (e *UnknownModeError) NotFound() bool { return true }

// SelectionError is returned by Resolve when a field the mode needs is missing.
// It matches conversation.ErrInvalidInput.
type SelectionError struct {
	Mode  string
	Field string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("chat mode %s requires %s", e.Mode, e.Field)
}

func (e *SelectionError) Is(target error) bool { return target == conversation.ErrInvalidInput }

// InvalidInput marks the error as a client mistake for the HTTP layer.
func (e *SelectionError) InvalidInput() bool { return true }

// Selection is the persona part of a chat request.
type Selection struct {
	Personality int
	Topic       string
	University  string
	PeerID      string
}

func (s Selection) field(name string) string {
	switch name {
	case "topic":
		return s.Topic
	case "university":
		return s.University
	case "peer_id":
		return s.PeerID
	}
	return ""
}

// promptData is what mode templates see.
type promptData struct {
	Topic       string
	University  string
	PeerID      string
	Personality string
}

// Mode is a compiled chat mode.
type Mode struct {
	Name            string
	GreetingMarkers []string
	Requires        []string
	prompt          *template.Template
}

// Table resolves personas. It is immutable once built and safe for concurrent use.
type Table struct {
	defaultPersonality int
	personalities      map[int]string
	modes              map[string]*Mode
}

// Default returns the built-in table.
func Default() *Table {
	t, err := New(config.PersonasConfig{})
	if err != nil {
		// The built-in templates are constants; failing here is a programming error.
		panic(err)
	}
	return t
}

// New builds the built-in table and overlays cfg on it. Configured personalities and
// modes replace built-in ones with the same key and add the rest.
func New(cfg config.PersonasConfig) (*Table, error) {
	t := &Table{
		defaultPersonality: DefaultPersonality,
		personalities:      make(map[int]string, len(builtinPersonalities)+len(cfg.Personalities)),
		modes:              make(map[string]*Mode, len(builtinModes)+len(cfg.Modes)),
	}

	for id, text := range builtinPersonalities {
		t.personalities[id] = text
	}
	for id, text := range cfg.Personalities {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("personality %d is empty", id)
		}
		t.personalities[id] = text
	}

	if cfg.DefaultPersonality != 0 {
		t.defaultPersonality = cfg.DefaultPersonality
	}
	if _, ok := t.personalities[t.defaultPersonality]; !ok {
		return nil, fmt.Errorf("default personality %d is not defined", t.defaultPersonality)
	}

	for name, mc := range builtinModes {
		if err := t.addMode(name, mc); err != nil {
			return nil, err
		}
	}
	for name, mc := range cfg.Modes {
		if err := t.addMode(name, mc); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) addMode(name string, mc config.ModeConfig) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return errors.New("chat mode with empty name")
	}
	if strings.TrimSpace(mc.Prompt) == "" {
		return fmt.Errorf("chat mode %s: empty prompt", name)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(mc.Prompt)
	if err != nil {
		return fmt.Errorf("chat mode %s: parse prompt: %w", name, err)
	}
	t.modes[name] = &Mode{
		Name:            name,
		GreetingMarkers: append([]string(nil), mc.GreetingMarkers...),
		Requires:        append([]string(nil), mc.Requires...),
		prompt:          tmpl,
	}
	return nil
}

// Personality returns the id actually used for the requested one and its instruction.
// Unknown ids, including zero, fall back to the default personality.
func (t *Table) Personality(id int) (int, string) {
	if text, ok := t.personalities[id]; ok {
		return id, text
	}
	return t.defaultPersonality, t.personalities[t.defaultPersonality]
}

// Modes returns the defined mode names in sorted order.
func (t *Table) Modes() []string {
	out := make([]string, 0, len(t.modes))
	for name := range t.modes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Mode returns the named mode.
func (t *Table) Mode(name string) (*Mode, bool) {
	m, ok := t.modes[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// Resolve renders the system prompt for mode and sel. The returned PersonaConfig carries
// no provider constraints; the caller sets them for the backend it targets.
func (t *Table) Resolve(mode string, sel Selection) (conversation.PersonaConfig, error) {
	m, ok := t.Mode(mode)
	if !ok {
		return conversation.PersonaConfig{}, &UnknownModeError{Mode: mode}
	}

	for _, field := range m.Requires {
		if strings.TrimSpace(sel.field(field)) == "" {
			return conversation.PersonaConfig{}, &SelectionError{Mode: m.Name, Field: field}
		}
	}

	_, style := t.Personality(sel.Personality)
	var b strings.Builder
	err := m.prompt.Execute(&b, promptData{
		Topic:       strings.TrimSpace(sel.Topic),
		University:  strings.TrimSpace(sel.University),
		PeerID:      strings.TrimSpace(sel.PeerID),
		Personality: style,
	})
	if err != nil {
		return conversation.PersonaConfig{}, fmt.Errorf("chat mode %s: render prompt: %w", m.Name, err)
	}

	return conversation.PersonaConfig{
		SystemPrompt:    strings.TrimSpace(b.String()),
		GreetingMarkers: append([]string(nil), m.GreetingMarkers...),
	}, nil
}
