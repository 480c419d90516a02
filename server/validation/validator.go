// Package validation decodes and checks request bodies before they reach the handlers.
package validation

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/teilomillet/campusgate/config"
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error reports a request body that failed decoding or validation.
type Error struct {
	Message string
	Fields  []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// ValidationMessage returns the client-facing summary.
func (e *Error) ValidationMessage() string { return e.Message }

// ValidationDetails returns the per-field errors for the JSON error response.
func (e *Error) ValidationDetails() map[string]interface{} {
	if len(e.Fields) == 0 {
		return nil
	}
	return map[string]interface{}{"fields": e.Fields}
}

// Validator decodes JSON bodies and enforces the configured request bounds.
type Validator struct {
	validate         *validator.Validate
	counter          *TokenCounter
	maxMessageTokens int
	maxHistory       int
	maxEvents        int
}

// New creates a Validator. A token counter is only built when cfg sets a token limit.
func New(cfg config.ValidationConfig, schedule config.ScheduleConfig) (*Validator, error) {
	v := &Validator{
		validate:         newValidate(),
		maxMessageTokens: cfg.MaxMessageTokens,
		maxHistory:       cfg.MaxHistory,
		maxEvents:        schedule.MaxEvents,
	}
	if cfg.MaxMessageTokens > 0 {
		model := cfg.TokenizerModel
		if model == "" {
			model = "gpt-4"
		}
		counter, err := NewTokenCounter(model)
		if err != nil {
			return nil, err
		}
		v.counter = counter
	}
	return v, nil
}

// WithTokenCounter replaces the token counter.
func (v *Validator) WithTokenCounter(tc *TokenCounter) *Validator {
	v.counter = tc
	return v
}

func newValidate() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// Decode reads r's JSON body into dst and validates it against its struct tags.
func (v *Validator) Decode(r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return &Error{
				Message: "Invalid Content-Type header",
				Fields:  []FieldError{{Field: "header:Content-Type", Message: "Content-Type must be application/json", Code: "invalid_content_type"}},
			}
		}
	}

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			return &Error{
				Message: "Request body too large",
				Fields:  []FieldError{{Field: "body", Message: fmt.Sprintf("body exceeds %d bytes", maxErr.Limit), Code: "body_too_large"}},
			}
		case stderrors.Is(err, io.EOF):
			return &Error{
				Message: "Request body is empty",
				Fields:  []FieldError{{Field: "body", Message: "a JSON object is required", Code: "invalid_json"}},
			}
		default:
			return &Error{
				Message: "Invalid request format",
				Fields:  []FieldError{{Field: "body", Message: err.Error(), Code: "invalid_json"}},
			}
		}
	}

	return v.Struct(dst)
}

// Struct validates s against its struct tags.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return fmt.Errorf("validate request: %w", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Message: fieldMessage(fe),
			Code:    fe.Tag() + "_validation_failed",
		})
	}
	return &Error{Message: "Request validation failed", Fields: fields}
}

// Chat checks the bounds that depend on configuration rather than struct tags.
func (v *Validator) Chat(req *ChatRequest) error {
	var fields []FieldError
	if v.maxHistory > 0 && len(req.History) > v.maxHistory {
		fields = append(fields, FieldError{
			Field:   "history",
			Message: fmt.Sprintf("at most %d history entries are accepted", v.maxHistory),
			Code:    "max_validation_failed",
		})
	}
	if v.counter != nil && v.maxMessageTokens > 0 {
		if n := v.counter.CountTokens(req.Message); n > v.maxMessageTokens {
			fields = append(fields, FieldError{
				Field:   "message",
				Message: fmt.Sprintf("message is %d tokens, the limit is %d", n, v.maxMessageTokens),
				Code:    "token_limit_exceeded",
			})
		}
	}
	if len(fields) > 0 {
		return &Error{Message: "Request validation failed", Fields: fields}
	}
	return nil
}

// Events checks the number of schedule events against the configured maximum.
func (v *Validator) Events(n int) error {
	if v.maxEvents > 0 && n > v.maxEvents {
		return &Error{
			Message: "Request validation failed",
			Fields: []FieldError{{
				Field:   "events",
				Message: fmt.Sprintf("at most %d events are accepted", v.maxEvents),
				Code:    "max_validation_failed",
			}},
		}
	}
	return nil
}

// fieldPath drops the struct name from a validator namespace: "ChatRequest.history[0].role"
// becomes "history[0].role".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return "must contain at least " + fe.Param() + " item(s)"
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	}
	return fmt.Sprintf("failed on the %s rule", fe.Tag())
}
