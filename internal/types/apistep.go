package types

import (
	"fmt"
	"strings"
	"time"
)

// HTTP methods accepted by an API step.
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodPatch  = "PATCH"
	MethodDelete = "DELETE"
)

// API step defaults.
const (
	DefaultAPITimeout    = 30 * time.Second
	DefaultAPIMaxRetries = 3
)

// APIStepConfig describes an outbound HTTP call attached to a step or rule.
// URL, header values and any string inside Body may hold {{placeholders}}.
// ResponseMapping maps an output variable name to a path expression
// evaluated against the JSON response.
type APIStepConfig struct {
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            any               `json:"body,omitempty"`
	ResponseMapping map[string]string `json:"response_mapping,omitempty"`
	TimeoutMS       int               `json:"timeout_ms,omitempty"`
	RetryOnFailure  bool              `json:"retry_on_failure,omitempty"`
	MaxRetries      int               `json:"max_retries,omitempty"`
}

// Validate checks the method and URL template.
func (c *APIStepConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidAPIConfig)
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidAPIConfig)
	}
	switch strings.ToUpper(c.Method) {
	case "", MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidAPIConfig, c.Method)
	}
	if c.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must be non-negative", ErrInvalidAPIConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be non-negative", ErrInvalidAPIConfig)
	}
	return nil
}

// NormalizedMethod returns the upper-cased method, GET when unset.
func (c *APIStepConfig) NormalizedMethod() string {
	m := strings.ToUpper(strings.TrimSpace(c.Method))
	if m == "" {
		return MethodGet
	}
	return m
}

// Timeout returns the per-attempt timeout, falling back to def when unset.
func (c *APIStepConfig) Timeout(def time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	if def > 0 {
		return def
	}
	return DefaultAPITimeout
}

// Attempts returns how many times the call may be tried: MaxRetries (or
// def, or DefaultAPIMaxRetries) when RetryOnFailure is set, otherwise 1.
func (c *APIStepConfig) Attempts(def int) int {
	if !c.RetryOnFailure {
		return 1
	}
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	if def > 0 {
		return def
	}
	return DefaultAPIMaxRetries
}
