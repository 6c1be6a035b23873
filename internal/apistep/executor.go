// Package apistep executes outbound HTTP calls configured on flow steps.
//
// Execute never returns a Go error: every failure is folded into a Result
// carrying an ErrorKind and HTTP-shaped status (0 for network failures, 408
// for timeouts) so the dialog layer can decide whether to advance, re-prompt
// or hand the conversation to a human.
package apistep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/solatis/flowkeeper/internal/core/logging"
	"github.com/solatis/flowkeeper/internal/core/metrics"
	"github.com/solatis/flowkeeper/internal/types"
	"github.com/solatis/flowkeeper/internal/variables"
)

// DefaultBackoffUnit is multiplied by the attempt number between retries.
const DefaultBackoffUnit = time.Second

// maxResponseBytes bounds how much of a response body is kept.
const maxResponseBytes = 10 << 20

// Metadata describes how a call was made.
type Metadata struct {
	URL       string        `json:"url"`
	Method    string        `json:"method"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
}

// Result is the outcome of Execute. Parsed is nil when the body is not
// JSON; its numbers are json.Number so large integers keep every digit,
// and mapped outputs carry the same json.Number values.
// Outputs holds one entry per ResponseMapping key. Truncated means Raw was
// cut at maxResponseBytes and the body was not parsed.
type Result struct {
	Success    bool           `json:"success"`
	Status     int            `json:"status"`
	StatusText string         `json:"status_text,omitempty"`
	Raw        string         `json:"raw,omitempty"`
	Truncated  bool           `json:"truncated,omitempty"`
	Parsed     any            `json:"parsed,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Metadata   Metadata       `json:"metadata"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs API steps. It holds no per-call state.
type Executor struct {
	client         *http.Client
	sleep          SleepFunc
	now            func() time.Time
	backoffUnit    time.Duration
	defaultTimeout time.Duration
	defaultRetries int
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the HTTP client. Per-attempt timeouts are applied
// through the request context, so the client's own Timeout may stay zero.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithSleep replaces the backoff sleep (tests record instead of waiting).
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithBackoffUnit sets the linear backoff unit.
func WithBackoffUnit(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.backoffUnit = d
		}
	}
}

// WithDefaults sets the timeout and retry count used when a step config
// leaves them unset.
func WithDefaults(timeout time.Duration, maxRetries int) Option {
	return func(e *Executor) {
		if timeout > 0 {
			e.defaultTimeout = timeout
		}
		if maxRetries > 0 {
			e.defaultRetries = maxRetries
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables attempt and duration metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		client:         &http.Client{},
		sleep:          sleepContext,
		now:            time.Now,
		backoffUnit:    DefaultBackoffUnit,
		defaultTimeout: types.DefaultAPITimeout,
		defaultRetries: types.DefaultAPIMaxRetries,
		logger:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// preparedCall is a config with every placeholder resolved.
type preparedCall struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// Execute performs the call described by cfg with vars substituted.
func (e *Executor) Execute(ctx context.Context, cfg *types.APIStepConfig, vars types.Variables) Result {
	start := e.now()
	res := Result{Metadata: Metadata{Timestamp: start}}

	if err := cfg.Validate(); err != nil {
		return e.finish(res, start, ErrorUnknown, statusNetworkFailure, err.Error())
	}

	call, err := prepare(cfg, vars)
	res.Metadata.URL = call.url
	res.Metadata.Method = call.method
	if err != nil {
		return e.finish(res, start, ErrorUnknown, statusNetworkFailure, err.Error())
	}

	attempts := cfg.Attempts(e.defaultRetries)
	timeout := cfg.Timeout(e.defaultTimeout)

	var last attempt
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			wait := e.backoffUnit * time.Duration(n-1)
			e.logger.Warn("retrying api step",
				"url", call.url,
				"attempt", n,
				"backoff", wait,
				"previous_error", last.errKind)
			if err := e.sleep(ctx, wait); err != nil {
				break
			}
		}

		last = e.attempt(ctx, call, timeout)
		res.Metadata.Attempts = n
		e.metrics.ObserveAPIAttempt(attemptOutcome(last.errKind))
		e.logger.Debug("api step attempt",
			"url", call.url,
			"method", call.method,
			"attempt", n,
			"status", last.status,
			"outcome", attemptOutcome(last.errKind))

		if last.errKind == "" || !last.retryable {
			break
		}
	}

	res.Status = last.status
	res.StatusText = http.StatusText(last.status)
	res.Raw = last.raw
	res.Truncated = last.truncated

	if last.errKind != "" {
		return e.finish(res, start, last.errKind, last.status, last.errMsg)
	}

	res.Success = true
	if last.truncated {
		res.Outputs = e.mapOutputs(cfg.ResponseMapping, nil)
		return e.finish(res, start, "", last.status, "")
	}
	if parsed, ok := decodeJSON(last.raw); ok {
		res.Parsed = parsed
	}
	res.Outputs = e.mapOutputs(cfg.ResponseMapping, res.Parsed)
	return e.finish(res, start, "", last.status, "")
}

func (e *Executor) finish(res Result, start time.Time, kind ErrorKind, status int, msg string) Result {
	res.Metadata.Duration = e.now().Sub(start)
	if kind != "" {
		res.Success = false
		res.ErrorKind = kind
		res.Status = status
		res.StatusText = http.StatusText(status)
		res.Error = msg
	}
	e.metrics.ObserveAPICall(attemptOutcome(kind), res.Metadata.Duration)
	return res
}

// mapOutputs extracts every mapped field. Extraction failures yield nil.
func (e *Executor) mapOutputs(mapping map[string]string, parsed any) map[string]any {
	if len(mapping) == 0 {
		return nil
	}
	out := make(map[string]any, len(mapping))
	for name, path := range mapping {
		if parsed == nil {
			out[name] = nil
			continue
		}
		v, err := Extract(path, parsed)
		if err != nil {
			e.logger.Debug("response mapping failed", "output", name, "path", path, "error", err)
			v = nil
		}
		out[name] = v
	}
	return out
}

// attempt is the outcome of one HTTP exchange.
type attempt struct {
	status    int
	raw       string
	errKind   ErrorKind
	errMsg    string
	retryable bool
	truncated bool
}

func (e *Executor) attempt(ctx context.Context, call preparedCall, timeout time.Duration) attempt {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if call.body != nil {
		body = bytes.NewReader(call.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, call.method, call.url, body)
	if err != nil {
		return attempt{errKind: ErrorUnknown, errMsg: err.Error()}
	}
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		kind, status, retryable := classifyTransport(err, attemptCtx)
		return attempt{status: status, errKind: kind, errMsg: err.Error(), retryable: retryable}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		kind, status, retryable := classifyTransport(err, attemptCtx)
		return attempt{status: status, errKind: kind, errMsg: err.Error(), retryable: retryable}
	}
	truncated := len(raw) > maxResponseBytes
	if truncated {
		raw = raw[:maxResponseBytes]
		e.logger.Warn("api step response truncated",
			"url", call.url,
			"status", resp.StatusCode,
			"limit_bytes", maxResponseBytes)
	}

	out := attempt{status: resp.StatusCode, raw: string(raw), truncated: truncated}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return out
	}
	out.errKind, out.retryable = classifyStatus(resp.StatusCode)
	out.errMsg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	return out
}

// prepare resolves placeholders and encodes the body.
func prepare(cfg *types.APIStepConfig, vars types.Variables) (preparedCall, error) {
	call := preparedCall{
		method:  cfg.NormalizedMethod(),
		url:     variables.Substitute(cfg.URL, vars),
		headers: make(map[string]string, len(cfg.Headers)+1),
	}

	hasContentType := false
	for k, v := range cfg.Headers {
		call.headers[k] = variables.Substitute(v, vars)
		if strings.EqualFold(k, "Content-Type") {
			hasContentType = true
		}
	}

	if cfg.Body == nil || call.method == types.MethodGet || call.method == types.MethodDelete {
		return call, nil
	}
	switch b := variables.SubstituteValue(cfg.Body, vars).(type) {
	case string:
		call.body = []byte(b)
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return call, fmt.Errorf("encode body: %w", err)
		}
		call.body = encoded
	}
	if !hasContentType {
		call.headers["Content-Type"] = "application/json"
	}
	return call, nil
}

func decodeJSON(raw string) (any, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return v, true
}
