package config

// ProcessingConfig defines how prompts are built and how model replies are post-processed.
type ProcessingConfig struct {
	// RequestTemplates overrides built-in prompt templates by name. The schedule workflow
	// renders the "schedule" template.
	RequestTemplates map[string]string `yaml:"request_templates"`

	// ResponseFormatting configures how chat replies are formatted
	ResponseFormatting ResponseFormattingConfig `yaml:"response_formatting"`
}

// ResponseFormattingConfig defines response formatting options
type ResponseFormattingConfig struct {
	// CleanJSON runs chat replies through gollm's response cleaner. Schedule output is
	// never cleaned: it must already be valid JSON.
	CleanJSON bool `yaml:"clean_json"`

	// TrimWhitespace removes surrounding whitespace from replies
	TrimWhitespace bool `yaml:"trim_whitespace"`

	// MaxLength limits the reply length in runes. Zero means no limit.
	MaxLength int `yaml:"max_length"`
}
