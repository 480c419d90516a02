// Package schedule parses the schedule documents produced by the schedule-generation workflow.
//
// The model is asked for strict JSON. Extract removes a surrounding Markdown code fence if the
// model added one and decodes the rest. Anything that is not the expected document is a
// ParseError; malformed output is never repaired.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultExcerptLimit bounds the excerpt carried by a ParseError, in runes.
const DefaultExcerptLimit = 200

// ErrParseFailure matches every ParseError with errors.Is.
var ErrParseFailure = errors.New("schedule: model output is not a schedule document")

// Event is one entry of an optimized schedule.
type Event struct {
	Title     string `json:"title"`
	Type      string `json:"type,omitempty"`
	Day       string `json:"day,omitempty"`
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
	Location  string `json:"location,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Color     string `json:"color,omitempty"`
}

// Document is the schedule returned by the model. Every key is optional but no other
// top-level key is accepted.
type Document struct {
	OptimizedSchedule []Event   `json:"optimizedSchedule,omitempty"`
	Analysis          *Analysis `json:"analysis,omitempty"`
	Recommendations   []string  `json:"recommendations,omitempty"`
	Tips              []string  `json:"tips,omitempty"`
	Warnings          []string  `json:"warnings,omitempty"`
}

// Analysis is free-form: the model decides which metrics it reports.
type Analysis map[string]any

var documentKeys = map[string]bool{
	"optimizedSchedule": true,
	"analysis":          true,
	"recommendations":   true,
	"tips":              true,
	"warnings":          true,
}

// ParseError reports model output that could not be read as a Document.
type ParseError struct {
	// Excerpt is the start of the offending text, at most the extractor's limit in runes.
	Excerpt string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schedule: parse model output: %v (excerpt %q)", e.Err, e.Excerpt)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParseFailure) true for every ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParseFailure }

// Extractor parses model output. The zero value uses DefaultExcerptLimit.
type Extractor struct {
	ExcerptLimit int
}

// Extract runs the zero-value Extractor.
func Extract(raw string) (*Document, error) {
	return Extractor{}.Extract(raw)
}

// Extract strips an optional code fence from raw and decodes the remainder as a Document.
func (x Extractor) Extract(raw string) (*Document, error) {
	body := StripFence(raw)
	if body == "" {
		return nil, x.fail(raw, errors.New("empty output"))
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return nil, x.fail(raw, err)
	}
	if top == nil {
		return nil, x.fail(raw, errors.New("output is not a JSON object"))
	}
	if unknown := unknownKeys(top); len(unknown) > 0 {
		return nil, x.fail(raw, fmt.Errorf("unexpected top-level keys %v", unknown))
	}

	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, x.fail(raw, err)
	}
	return &doc, nil
}

// StripFence removes a leading ``` or ```json and a trailing ``` from s, then trims
// surrounding whitespace. The json info word is removed whether or not a newline follows it.
// Text without a fence is only trimmed.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		// Drop the info string, e.g. "json".
		s = s[nl+1:]
	} else if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (x Extractor) fail(raw string, err error) *ParseError {
	limit := x.ExcerptLimit
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}
	return &ParseError{Excerpt: excerpt(raw, limit), Err: err}
}

func excerpt(s string, limit int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "<empty>"
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}

func unknownKeys(top map[string]json.RawMessage) []string {
	var out []string
	for k := range top {
		if !documentKeys[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
