package conversation

import (
	"errors"
	"strings"
)

// DefaultMaxTurns is the number of history turns kept when an Assembler does not say otherwise.
const DefaultMaxTurns = 10

// ErrInvalidInput is returned when the new user message is empty.
var ErrInvalidInput = errors.New("conversation: new message is empty")

// Assembler builds AssembledRequests. The zero value keeps DefaultMaxTurns turns.
// An Assembler holds no state between calls and is safe for concurrent use.
type Assembler struct {
	MaxTurns int
}

// Assemble runs the zero-value Assembler.
func Assemble(raw []RawTurn, newMessage string, persona PersonaConfig) (*AssembledRequest, error) {
	return Assembler{}.Assemble(raw, newMessage, persona)
}

// Assemble normalizes raw history for the backend described by persona.ProviderConstraints.
//
// The steps run in this order:
//  1. drop turns containing one of the persona's greeting markers
//  2. map roles onto user/assistant and drop turns without text
//  3. keep only the last MaxTurns turns
//  4. if a leading user turn is required, drop assistant turns from the front
//  5. if adjacent duplicate roles are forbidden, keep only the later turn of each same-role pair
//
// A history ending on a user turn keeps that turn; Messages joins it with the new message.
//
// Turns are only ever dropped, never reordered or rewritten. The result depends on the
// arguments alone.
func (a Assembler) Assemble(raw []RawTurn, newMessage string, persona PersonaConfig) (*AssembledRequest, error) {
	if strings.TrimSpace(newMessage) == "" {
		return nil, ErrInvalidInput
	}

	var rep Repairs
	turns := make([]Turn, 0, len(raw))
	for _, r := range raw {
		text := r.Payload()
		if isSentinel(text, persona.GreetingMarkers) {
			rep.Sentinels++
			continue
		}
		if strings.TrimSpace(text) == "" {
			rep.Empty++
			continue
		}
		turns = append(turns, Turn{Role: NormalizeRole(r.Role), Text: text})
	}

	if limit := a.maxTurns(); len(turns) > limit {
		rep.Truncated = len(turns) - limit
		turns = turns[len(turns)-limit:]
	}

	c := persona.ProviderConstraints
	if c.RequiresLeadingUser {
		start := 0
		for start < len(turns) && turns[start].Role != RoleUser {
			start++
		}
		rep.Leading = start
		turns = turns[start:]
	}

	if c.ForbidsAdjacentDuplicateRole {
		kept := make([]Turn, 0, len(turns))
		for _, t := range turns {
			if n := len(kept); n > 0 && kept[n-1].Role == t.Role {
				kept[n-1] = t
				rep.Adjacent++
				continue
			}
			kept = append(kept, t)
		}
		turns = kept
	}

	return &AssembledRequest{
		SystemPrompt: persona.SystemPrompt,
		Turns:        turns,
		NewMessage:   newMessage,
		Repairs:      rep,
	}, nil
}

func (a Assembler) maxTurns() int {
	if a.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return a.MaxTurns
}

func isSentinel(text string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}
