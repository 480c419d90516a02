// Package conversation turns client-supplied chat history into a turn sequence that a model
// backend will accept.
//
// Chat endpoints receive the whole conversation from the browser on every request. That history
// may contain the UI's injected welcome message, empty entries, roles spelled in various ways and
// more context than we want to send. The Assembler cleans it up in a fixed, documented order and
// hands back an AssembledRequest that respects the structural rules of the target backend.
package conversation

import "strings"

// Role identifies the speaker of a turn. Only RoleUser and RoleAssistant are ever emitted.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one normalized message in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// RawTurn is a history entry as the client sent it. Clients disagree on field names, so both
// "text" and "content" are accepted; Text wins when both are set.
type RawTurn struct {
	Role    string `json:"role"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// Payload returns the text carried by the raw turn.
func (r RawTurn) Payload() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Content
}

// NormalizeRole maps a client role indicator onto user or assistant.
// Anything that is not recognizably the user is treated as the assistant, so an odd role value
// never silently removes a turn.
func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "human", "student":
		return RoleUser
	default:
		return RoleAssistant
	}
}

// ProviderConstraints are the structural rules a backend imposes on a turn sequence.
// They are declared per backend, never per request.
type ProviderConstraints struct {
	// RequiresLeadingUser means the history must start with a user turn.
	RequiresLeadingUser bool `json:"requires_leading_user" yaml:"requires_leading_user"`

	// ForbidsAdjacentDuplicateRole means two consecutive turns may not share a role.
	ForbidsAdjacentDuplicateRole bool `json:"forbids_adjacent_duplicate_role" yaml:"forbids_adjacent_duplicate_role"`
}

// PersonaConfig is the per-request persona: the system prompt, the greeting markers that
// identify UI-injected welcome messages, and the constraints of the backend being targeted.
type PersonaConfig struct {
	SystemPrompt        string
	GreetingMarkers     []string
	ProviderConstraints ProviderConstraints
}

// WithConstraints returns a copy of the persona targeting a backend with the given constraints.
func (p PersonaConfig) WithConstraints(c ProviderConstraints) PersonaConfig {
	p.ProviderConstraints = c
	return p
}

// Repairs counts the turns removed at each assembly step.
type Repairs struct {
	Sentinels int `json:"sentinels"`
	Empty     int `json:"empty"`
	Truncated int `json:"truncated"`
	Leading   int `json:"leading"`
	Adjacent  int `json:"adjacent"`
}

// Total returns the number of dropped turns.
func (r Repairs) Total() int {
	return r.Sentinels + r.Empty + r.Truncated + r.Leading + r.Adjacent
}

// AssembledRequest is the output of the Assembler. NewMessage is kept apart from Turns so a
// backend can either append it as the final turn or send it with a separate call.
type AssembledRequest struct {
	SystemPrompt string  `json:"system_prompt"`
	Turns        []Turn  `json:"turns"`
	NewMessage   string  `json:"new_message"`
	Repairs      Repairs `json:"-"`
}

// Messages returns the retained turns followed by the new message as a user turn. When the
// turns end on an unanswered user turn, its text and the new message are joined into one user
// turn so the sequence still alternates.
func (r *AssembledRequest) Messages() []Turn {
	out := make([]Turn, 0, len(r.Turns)+1)
	out = append(out, r.Turns...)
	if n := len(out); n > 0 && out[n-1].Role == RoleUser {
		out[n-1].Text += "\n\n" + r.NewMessage
		return out
	}
	return append(out, Turn{Role: RoleUser, Text: r.NewMessage})
}
