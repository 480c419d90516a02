// Package config provides configuration management for the campusgate server.
// It covers the model backends and their failover order, the chat personas,
// conversation assembly limits and the HTTP surface.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teilomillet/campusgate/conversation"
)

// Config represents the complete server configuration.
type Config struct {
	Server             ServerConfig              `yaml:"server"`
	LLM                LLMConfig                 `yaml:"llm"`
	Providers          map[string]ProviderConfig `yaml:"providers"`
	ProviderPreference []string                  `yaml:"provider_preference"` // Order of provider preference
	Assembler          AssemblerConfig           `yaml:"assembler"`
	Personas           PersonasConfig            `yaml:"personas"`
	Schedule           ScheduleConfig            `yaml:"schedule"`
	Processing         ProcessingConfig          `yaml:"processing"`
	Logging            LoggingConfig             `yaml:"logging"`
	Routes             []RouteConfig             `yaml:"routes"`
	CircuitBreaker     CircuitBreakerConfig      `yaml:"circuit_breaker"`
	Queue              QueueConfig               `yaml:"queue"`
	RateLimit          RateLimitConfig           `yaml:"rate_limit"`
	Auth               AuthConfig                `yaml:"auth"`
	Validation         ValidationConfig          `yaml:"validation"`
	TestMode           bool                      `yaml:"-"` // Skip backend initialization in tests
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// It must leave room for llm.timeout (default: 45s)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 2MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxBodyBytes caps request bodies (default: 1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// RequestTimeout bounds the handling of one request, failover and retries
	// included. Zero disables it (default: 40s)
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists the CORS origins. Empty means any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig holds the defaults shared by every backend.
type LLMConfig struct {
	// Provider and Model describe the backend used when no providers are configured.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`

	// APIKey is the authentication key for the default provider.
	// Use environment variables (e.g., ${GEMINI_API_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// Endpoint is the API endpoint URL. Only Ollama uses it.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds every upstream call (default: 30s)
	Timeout time.Duration `yaml:"timeout"`

	// Options contains generation parameters applied to every backend
	// (temperature, max_tokens, top_p).
	Options map[string]interface{} `yaml:"options"`

	// Retry configuration (optional)
	Retry *RetryConfig `yaml:"retry,omitempty"`

	// HealthCheck defines provider health monitoring settings (optional)
	HealthCheck *ProviderHealthCheck `yaml:"health_check,omitempty"`
}

// ProviderHealthCheck defines health check settings
type ProviderHealthCheck struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// RetryConfig defines the retry behavior for failed upstream calls on one backend
// before the manager moves on to the next.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 2)
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the delay before the first retry (default: 200ms)
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries (default: 2s)
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier increases the delay after each retry (default: 2)
	Multiplier float64 `yaml:"multiplier"`
}

// ProviderConfig holds configuration for one named backend.
type ProviderConfig struct {
	Type     string                 `yaml:"type"`     // gemini, openai, anthropic, ollama, mistral, groq
	Model    string                 `yaml:"model"`    // Model name
	APIKey   string                 `yaml:"api_key"`  // API key for authentication
	Endpoint string                 `yaml:"endpoint"` // Ollama base URL
	Options  map[string]interface{} `yaml:"options"`  // Overrides llm.options

	// Constraints overrides the turn-sequence rules implied by Type.
	Constraints *conversation.ProviderConstraints `yaml:"constraints,omitempty"`
}

// AssemblerConfig controls conversation history assembly.
type AssemblerConfig struct {
	// MaxTurns is the number of history turns forwarded upstream (default: 10)
	MaxTurns int `yaml:"max_turns"`
}

// PersonasConfig overrides the built-in persona table.
type PersonasConfig struct {
	// DefaultPersonality is used when a request names an unknown personality (default: 1)
	DefaultPersonality int `yaml:"default_personality"`

	// Personalities maps a personality id to its style instruction.
	Personalities map[int]string `yaml:"personalities"`

	// Modes maps a chat mode name to its prompt template and greeting markers.
	Modes map[string]ModeConfig `yaml:"modes"`
}

// ModeConfig defines one chat mode.
type ModeConfig struct {
	// Prompt is a text/template over .Topic, .University, .PeerID and .Personality.
	Prompt string `yaml:"prompt"`

	// GreetingMarkers identify the welcome message the UI injects for this mode.
	GreetingMarkers []string `yaml:"greeting_markers"`

	// Requires names the selection fields that must be present: topic, university, peer_id.
	Requires []string `yaml:"requires"`
}

// ScheduleConfig controls the schedule-generation workflow.
type ScheduleConfig struct {
	// ExcerptLimit bounds the raw-output excerpt reported on parse failures (default: 200)
	ExcerptLimit int `yaml:"excerpt_limit"`

	// MaxEvents caps the number of events accepted in one request (default: 200)
	MaxEvents int `yaml:"max_events"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// RouteConfig holds route-specific configuration.
type RouteConfig struct {
	// Path is the URL path to match
	Path string `yaml:"path"`

	// Handler specifies which handler to use for this route: chat, schedule, health, metrics
	Handler string `yaml:"handler"`

	// Version specifies the API version (e.g., "v1")
	Version string `yaml:"version"`

	// Methods specifies the allowed HTTP methods for this route
	Methods []string `yaml:"methods"`

	// Headers specifies the required headers for this route
	Headers map[string]string `yaml:"headers,omitempty"`

	// Middleware specifies the route-specific middleware
	Middleware []string `yaml:"middleware,omitempty"`
}

type CircuitBreakerConfig struct {
	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// TestMode indicates whether to skip Prometheus metric registration (for testing)
	TestMode bool `yaml:"test_mode"`
}

// QueueConfig defines the configuration for the request queue middleware.
type QueueConfig struct {
	// Enabled determines if the queue middleware is active
	Enabled bool `yaml:"enabled"`

	// InitialSize is the maximum number of requests waiting for a slot
	InitialSize int64 `yaml:"initial_size"`

	// Concurrency is the number of requests processed at once (default: 16)
	Concurrency int `yaml:"concurrency"`
}

// RateLimitConfig configures the per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	TTL               time.Duration `yaml:"ttl"` // Idle limiters are forgotten after TTL
}

// AuthConfig lists the API keys accepted by the auth middleware.
// An empty list disables authentication.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// ValidationConfig bounds incoming requests.
type ValidationConfig struct {
	// MaxMessageTokens caps the new message length in tokens. Zero disables the check.
	MaxMessageTokens int `yaml:"max_message_tokens"`

	// TokenizerModel selects the tiktoken encoding (default: gpt-4)
	TokenizerModel string `yaml:"tokenizer_model"`

	// MaxHistory caps the number of raw history entries accepted (default: 200)
	MaxHistory int `yaml:"max_history"`
}

// DefaultConfig returns the configuration used for every key the file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    45 * time.Second,
			MaxHeaderBytes:  2 << 20, // 2MB for larger headers
			MaxBodyBytes:    1 << 20,
			RequestTimeout:  40 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			APIKey:   "${GEMINI_API_KEY}",
			Timeout:  30 * time.Second,

			HealthCheck: &ProviderHealthCheck{
				Enabled:          false,
				Interval:         30 * time.Second,
				Timeout:          5 * time.Second,
				FailureThreshold: 2,
			},

			Retry: &RetryConfig{
				MaxRetries:   2,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
				Multiplier:   2,
			},

			Options: map[string]interface{}{
				"temperature": 0.7,
				"max_tokens":  1024,
			},
		},

		Assembler: AssemblerConfig{
			MaxTurns: conversation.DefaultMaxTurns,
		},

		Personas: PersonasConfig{
			DefaultPersonality: 1,
		},

		Schedule: ScheduleConfig{
			ExcerptLimit: 200,
			MaxEvents:    200,
		},

		Processing: ProcessingConfig{
			ResponseFormatting: ResponseFormattingConfig{
				TrimWhitespace: true,
			},
		},

		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      1,
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Routes: []RouteConfig{
			{
				Path:       "/v1/chat/{mode}",
				Handler:    "chat",
				Version:    "v1",
				Methods:    []string{"POST", "OPTIONS"},
				Middleware: []string{"auth", "rate-limit", "queue"},
			},
			{
				Path:       "/v1/schedule",
				Handler:    "schedule",
				Version:    "v1",
				Methods:    []string{"POST", "OPTIONS"},
				Middleware: []string{"auth", "rate-limit", "queue"},
			},
			{
				Path:    "/health",
				Handler: "health",
				Version: "v1",
				Methods: []string{"GET"},
			},
			{
				Path:       "/metrics",
				Handler:    "metrics",
				Version:    "v1",
				Methods:    []string{"GET"},
				Middleware: []string{"auth"},
			},
		},

		Queue: QueueConfig{
			Enabled:     false,
			InitialSize: 1000,
			Concurrency: 16,
		},

		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 2,
			Burst:             10,
			TTL:               10 * time.Minute,
		},

		Validation: ValidationConfig{
			MaxMessageTokens: 0,
			TokenizerModel:   "gpt-4",
			MaxHistory:       200,
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references. A variable that is unset
// or empty takes its default, or the empty string when none is given. Values are expanded
// until they stop changing so a variable may refer to another one.
func expandEnvVars(s string) (string, error) {
	if err := checkReferences(s); err != nil {
		return "", err
	}

	lookup := func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}

	result := os.Expand(s, lookup)
	for i := 0; i < 8 && strings.Contains(result, "${"); i++ {
		next := os.Expand(result, lookup)
		if next == result {
			break
		}
		result = next
	}
	return result, nil
}

// checkReferences rejects a "${" that is never closed.
func checkReferences(s string) error {
	for i := 0; ; {
		j := strings.Index(s[i:], "${")
		if j < 0 {
			return nil
		}
		start := i + j
		end := strings.IndexByte(s[start:], '}')
		if end < 0 || strings.ContainsAny(s[start:start+end], "\n") {
			return fmt.Errorf("unterminated variable reference at offset %d", start)
		}
		i = start + end + 1
	}
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	cfg := DefaultConfig()

	// Decode YAML on top of defaults
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.APIKey = expandDefault(cfg.LLM.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// expandDefault resolves references that come from DefaultConfig rather than the file.
func expandDefault(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	out, err := expandEnvVars(s)
	if err != nil {
		return s
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("negative max body bytes: %d", c.Server.MaxBodyBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	// LLM validation
	if len(c.Providers) == 0 {
		if c.LLM.Provider == "" {
			return fmt.Errorf("empty LLM provider")
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("empty LLM model")
		}
	}
	if c.LLM.Timeout < 0 {
		return fmt.Errorf("negative llm timeout: %v", c.LLM.Timeout)
	}
	if r := c.LLM.Retry; r != nil {
		if r.MaxRetries < 0 {
			return fmt.Errorf("negative max retries: %d", r.MaxRetries)
		}
		if r.Multiplier != 0 && r.Multiplier < 1 {
			return fmt.Errorf("retry multiplier must be at least 1: %v", r.Multiplier)
		}
	}

	for name, p := range c.Providers {
		if p.Type == "" {
			return fmt.Errorf("provider %s: empty type", name)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s: empty model", name)
		}
	}
	for _, name := range c.ProviderPreference {
		if len(c.Providers) > 0 {
			if _, ok := c.Providers[name]; !ok {
				return fmt.Errorf("provider preference names unknown provider %q", name)
			}
		}
	}

	// Assembly and personas
	if c.Assembler.MaxTurns < 0 {
		return fmt.Errorf("negative assembler max turns: %d", c.Assembler.MaxTurns)
	}
	if c.Personas.DefaultPersonality < 0 {
		return fmt.Errorf("negative default personality: %d", c.Personas.DefaultPersonality)
	}
	for name, m := range c.Personas.Modes {
		if strings.TrimSpace(m.Prompt) == "" {
			return fmt.Errorf("persona mode %s: empty prompt", name)
		}
		for _, field := range m.Requires {
			switch field {
			case "topic", "university", "peer_id":
			default:
				return fmt.Errorf("persona mode %s: unknown required field %q", name, field)
			}
		}
	}
	if c.Schedule.ExcerptLimit < 0 {
		return fmt.Errorf("negative schedule excerpt limit: %d", c.Schedule.ExcerptLimit)
	}
	if c.Schedule.MaxEvents < 0 {
		return fmt.Errorf("negative schedule max events: %d", c.Schedule.MaxEvents)
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Route validation
	for i, route := range c.Routes {
		if route.Path == "" {
			return fmt.Errorf("empty path in route %d", i)
		}
		if route.Handler == "" {
			return fmt.Errorf("empty handler in route %d", i)
		}
		if route.Version == "" {
			return fmt.Errorf("empty version in route %d", i)
		}
		for _, mw := range route.Middleware {
			if !knownMiddleware[mw] {
				return fmt.Errorf("route %s: unknown middleware %q", route.Path, mw)
			}
		}
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit enabled with non-positive rate: %v", c.RateLimit.RequestsPerSecond)
	}
	if c.Queue.Enabled && c.Queue.InitialSize <= 0 {
		return fmt.Errorf("queue enabled with non-positive size: %d", c.Queue.InitialSize)
	}
	if c.Validation.MaxMessageTokens < 0 {
		return fmt.Errorf("negative max message tokens: %d", c.Validation.MaxMessageTokens)
	}

	return nil
}

var knownMiddleware = map[string]bool{
	"auth":       true,
	"rate-limit": true,
	"ratelimit":  true,
	"queue":      true,
}

// Backends returns the configured backends in preference order. Without a providers
// section the llm section describes a single backend named after its provider.
func (c *Config) Backends() []NamedProvider {
	if len(c.Providers) == 0 {
		return []NamedProvider{{
			Name: c.LLM.Provider,
			ProviderConfig: ProviderConfig{
				Type:     c.LLM.Provider,
				Model:    c.LLM.Model,
				APIKey:   c.LLM.APIKey,
				Endpoint: c.LLM.Endpoint,
			},
		}}
	}

	out := make([]NamedProvider, 0, len(c.Providers))
	seen := make(map[string]bool, len(c.Providers))
	for _, name := range c.ProviderPreference {
		if p, ok := c.Providers[name]; ok && !seen[name] {
			out = append(out, NamedProvider{Name: name, ProviderConfig: p})
			seen[name] = true
		}
	}
	// Providers missing from the preference list go last, in name order.
	rest := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, NamedProvider{Name: name, ProviderConfig: c.Providers[name]})
	}
	return out
}

// NamedProvider is a ProviderConfig with its key from the providers map.
type NamedProvider struct {
	Name string
	ProviderConfig
}
