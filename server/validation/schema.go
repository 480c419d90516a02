package validation

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teilomillet/campusgate/conversation"
)

// Tokenizer defines the interface for token counting
type Tokenizer interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
	Decode(tokens []int) string
	CountTokens(text string) int
}

// tiktokenWrapper wraps tiktoken to implement our Tokenizer interface
type tiktokenWrapper struct {
	*tiktoken.Tiktoken
}

func (t *tiktokenWrapper) CountTokens(text string) int {
	return len(t.Encode(text, nil, nil))
}

// ChatRequest is the body of POST /v1/chat/{mode}. The message is not required here: an
// empty message is reported by the assembler as invalid input.
type ChatRequest struct {
	Message     string                 `json:"message"`
	History     []conversation.RawTurn `json:"history"`
	Personality int                    `json:"personality"`
	Topic       string                 `json:"topic" validate:"max=200"`
	University  string                 `json:"university" validate:"max=200"`
	PeerID      string                 `json:"peer_id" validate:"max=100"`
}

// TokenCounter handles token counting using tiktoken
type TokenCounter struct {
	encoding Tokenizer
}

// NewTokenCounter creates a token counter for the encoding tiktoken uses for model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding for model %s: %w", model, err)
	}
	return &TokenCounter{encoding: &tiktokenWrapper{encoding}}, nil
}

// NewTokenCounterWith creates a counter over any Tokenizer.
func NewTokenCounterWith(t Tokenizer) *TokenCounter {
	return &TokenCounter{encoding: t}
}

// CountTokens counts the tokens of text.
func (tc *TokenCounter) CountTokens(text string) int {
	return tc.encoding.CountTokens(text)
}
