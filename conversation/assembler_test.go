package conversation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var strict = ProviderConstraints{RequiresLeadingUser: true, ForbidsAdjacentDuplicateRole: true}

func raw(pairs ...string) []RawTurn {
	out := make([]RawTurn, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, RawTurn{Role: pairs[i], Text: pairs[i+1]})
	}
	return out
}

func TestAssembleRejectsEmptyMessage(t *testing.T) {
	for _, msg := range []string{"", "   ", "\n\t"} {
		req, err := Assemble(nil, msg, PersonaConfig{})
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, req)
	}
}

func TestAssembleEmptyHistory(t *testing.T) {
	req, err := Assemble(nil, "Hello", PersonaConfig{SystemPrompt: "be nice", ProviderConstraints: strict})
	require.NoError(t, err)
	assert.Empty(t, req.Turns)
	assert.Equal(t, "Hello", req.NewMessage)
	assert.Equal(t, "be nice", req.SystemPrompt)
	assert.Equal(t, []Turn{{Role: RoleUser, Text: "Hello"}}, req.Messages())
}

func TestMessagesJoinsUnansweredUserTurn(t *testing.T) {
	req, err := Assemble(raw("user", "a", "assistant", "x", "user", "c"), "b", PersonaConfig{ProviderConstraints: strict})
	require.NoError(t, err)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "a"},
		{Role: RoleAssistant, Text: "x"},
		{Role: RoleUser, Text: "c"},
	}, req.Turns)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "a"},
		{Role: RoleAssistant, Text: "x"},
		{Role: RoleUser, Text: "c\n\nb"},
	}, req.Messages())
	assert.Equal(t, "c", req.Turns[2].Text)
}

func TestAssemble(t *testing.T) {
	tests := []struct {
		name        string
		history     []RawTurn
		persona     PersonaConfig
		want        []Turn
		wantRepairs Repairs
	}{
		{
			name:    "later turn of each same-role run wins",
			history: raw("user", "a", "user", "b", "assistant", "c", "assistant", "d"),
			persona: PersonaConfig{ProviderConstraints: ProviderConstraints{ForbidsAdjacentDuplicateRole: true}},
			want: []Turn{
				{Role: RoleUser, Text: "b"},
				{Role: RoleAssistant, Text: "d"},
			},
			wantRepairs: Repairs{Adjacent: 2},
		},
		{
			name:    "leading assistant turns are dropped",
			history: raw("assistant", "hi", "model", "hello again", "user", "question", "assistant", "answer"),
			persona: PersonaConfig{ProviderConstraints: ProviderConstraints{RequiresLeadingUser: true}},
			want: []Turn{
				{Role: RoleUser, Text: "question"},
				{Role: RoleAssistant, Text: "answer"},
			},
			wantRepairs: Repairs{Leading: 2},
		},
		{
			name:        "only assistant turns with leading user required",
			history:     raw("assistant", "one", "bot", "two"),
			persona:     PersonaConfig{ProviderConstraints: ProviderConstraints{RequiresLeadingUser: true}},
			want:        []Turn{},
			wantRepairs: Repairs{Leading: 2},
		},
		{
			name:    "greeting sentinel removed wherever it appears",
			history: raw("assistant", "Hi! I'm Campus Buddy, ask me anything.", "user", "where is the library", "assistant", "north wing", "assistant", "Hi! I'm Campus Buddy, again"),
			persona: PersonaConfig{GreetingMarkers: []string{"I'm Campus Buddy"}},
			want: []Turn{
				{Role: RoleUser, Text: "where is the library"},
				{Role: RoleAssistant, Text: "north wing"},
			},
			wantRepairs: Repairs{Sentinels: 2},
		},
		{
			name: "empty and missing text discarded",
			history: []RawTurn{
				{Role: "user", Text: "first"},
				{Role: "assistant"},
				{Role: "user", Text: "  "},
				{Role: "assistant", Content: "from content field"},
			},
			want: []Turn{
				{Role: RoleUser, Text: "first"},
				{Role: RoleAssistant, Text: "from content field"},
			},
			wantRepairs: Repairs{Empty: 2},
		},
		{
			name:    "unknown roles become assistant",
			history: raw("user", "q", "system", "sys", "", "blank role", "USER", "loud"),
			want: []Turn{
				{Role: RoleUser, Text: "q"},
				{Role: RoleAssistant, Text: "sys"},
				{Role: RoleAssistant, Text: "blank role"},
				{Role: RoleUser, Text: "loud"},
			},
		},
		{
			name:    "trailing user turn survives adjacency repair",
			history: raw("user", "q1", "assistant", "a1", "user", "q2 never answered"),
			persona: PersonaConfig{ProviderConstraints: strict},
			want: []Turn{
				{Role: RoleUser, Text: "q1"},
				{Role: RoleAssistant, Text: "a1"},
				{Role: RoleUser, Text: "q2 never answered"},
			},
		},
		{
			name:    "single user turn with adjacency rule",
			history: raw("user", "a"),
			persona: PersonaConfig{ProviderConstraints: ProviderConstraints{ForbidsAdjacentDuplicateRole: true}},
			want:    []Turn{{Role: RoleUser, Text: "a"}},
		},
		{
			name:    "trailing user turn kept without adjacency rule",
			history: raw("user", "q1", "assistant", "a1", "user", "q2"),
			persona: PersonaConfig{ProviderConstraints: ProviderConstraints{RequiresLeadingUser: true}},
			want: []Turn{
				{Role: RoleUser, Text: "q1"},
				{Role: RoleAssistant, Text: "a1"},
				{Role: RoleUser, Text: "q2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Assemble(tt.history, "next", tt.persona)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.Turns)
			assert.Equal(t, tt.wantRepairs, req.Repairs)
			assert.Equal(t, "next", req.NewMessage)
		})
	}
}

func TestAssembleTruncatesToLastTen(t *testing.T) {
	var history []RawTurn
	for i := 0; i < 12; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, RawTurn{Role: role, Text: fmt.Sprintf("turn %d", i)})
	}

	req, err := Assemble(history, "go on", PersonaConfig{})
	require.NoError(t, err)
	require.Len(t, req.Turns, 10)
	for i, turn := range req.Turns {
		assert.Equal(t, fmt.Sprintf("turn %d", i+2), turn.Text)
	}
	assert.Equal(t, 2, req.Repairs.Truncated)
}

func TestAssemblerMaxTurns(t *testing.T) {
	history := raw("user", "1", "assistant", "2", "user", "3", "assistant", "4")

	req, err := Assembler{MaxTurns: 2}.Assemble(history, "5", PersonaConfig{})
	require.NoError(t, err)
	assert.Equal(t, []Turn{{Role: RoleUser, Text: "3"}, {Role: RoleAssistant, Text: "4"}}, req.Turns)
}

// Truncation runs before leading-role repair, so a window that opens on an assistant turn
// loses that turn as well.
func TestAssembleTruncateThenRepairLeading(t *testing.T) {
	history := raw("user", "1", "assistant", "2", "user", "3", "assistant", "4")

	req, err := Assembler{MaxTurns: 3}.Assemble(history, "5", PersonaConfig{ProviderConstraints: strict})
	require.NoError(t, err)
	assert.Equal(t, []Turn{{Role: RoleUser, Text: "3"}, {Role: RoleAssistant, Text: "4"}}, req.Turns)
	assert.Equal(t, Repairs{Truncated: 1, Leading: 1}, req.Repairs)
}

func TestAssembleProperties(t *testing.T) {
	roles := []string{"user", "assistant", "model", "weird"}
	texts := []string{"hello", "", "Welcome to StudyBot!", "notes", "   "}
	persona := PersonaConfig{
		SystemPrompt:        "sys",
		GreetingMarkers:     []string{"Welcome to StudyBot"},
		ProviderConstraints: strict,
	}

	// Deterministic pseudo-random histories; no seed so runs are reproducible.
	x := uint32(7)
	next := func(n int) int {
		x = x*1664525 + 1013904223
		return int(x>>16) % n
	}

	for i := 0; i < 300; i++ {
		n := next(25)
		history := make([]RawTurn, n)
		for j := range history {
			history[j] = RawTurn{Role: roles[next(len(roles))], Text: texts[next(len(texts))]}
		}

		first, err := Assemble(history, "msg", persona)
		require.NoError(t, err)
		second, err := Assemble(history, "msg", persona)
		require.NoError(t, err)
		require.Equal(t, first, second, "assemble must be deterministic")

		turns := first.Turns
		assert.LessOrEqual(t, len(turns), DefaultMaxTurns)
		if len(turns) > 0 {
			assert.Equal(t, RoleUser, turns[0].Role)
		}

		msgs := first.Messages()
		last := msgs[len(msgs)-1]
		assert.Equal(t, RoleUser, last.Role)
		assert.True(t, strings.HasSuffix(last.Text, "msg"))
		for j := 1; j < len(msgs); j++ {
			assert.NotEqual(t, msgs[j-1].Role, msgs[j].Role)
		}
		for j, turn := range turns {
			assert.NotContains(t, turn.Text, "Welcome to StudyBot")
			assert.NotEmpty(t, turn.Text)
			if j > 0 {
				assert.NotEqual(t, turns[j-1].Role, turn.Role)
			}
		}
		assert.Equal(t, n, len(turns)+first.Repairs.Total())
	}
}

func TestAssembleDoesNotAliasInput(t *testing.T) {
	history := raw("user", "a", "assistant", "b")
	req, err := Assemble(history, "c", PersonaConfig{})
	require.NoError(t, err)

	history[0].Text = "mutated"
	assert.Equal(t, "a", req.Turns[0].Text)
}
