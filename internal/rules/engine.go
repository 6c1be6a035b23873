// internal/rules/engine.go
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/flowkeeper/internal/core/logging"
	"github.com/solatis/flowkeeper/internal/core/metrics"
	"github.com/solatis/flowkeeper/internal/types"
)

/*
 * Rule Resolution Engine.
 *
 * Resolve turns (step, message, mode) into a single selected rule or a
 * typed no-result outcome:
 *
 *   NoRules        the step has no active rule set (never audited)
 *   Matched        a rule was selected
 *   NoMatch        nothing matched; in secondary mode also "no rule set
 *                  produced any verdict" (not audited)
 *   InvalidOption  secondary mode only: a menu was offered and the message
 *                  matched none of its options
 *
 * Audit: one log row per call when both ticket id and flow id are present,
 * except for the two unaudited outcomes above. A failed write aborts the
 * resolution with ErrAuditLog.
 *
 * The engine holds no per-call state; one instance serves all requests.
 */

// Mode names used in logs and metrics.
const (
	ModePrimary   = "primary"
	ModeSecondary = "secondary"
)

// Outcome classifies a resolution.
type Outcome int

const (
	OutcomeNoRules Outcome = iota
	OutcomeMatched
	OutcomeNoMatch
	OutcomeInvalidOption
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoRules:
		return "no_rules"
	case OutcomeMatched:
		return "matched"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeInvalidOption:
		return "invalid_option"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RuleSetLoader loads all active rule sets of a step, each with its active
// rules ordered by ascending priority.
type RuleSetLoader interface {
	LoadRuleSets(ctx context.Context, tenantID types.TenantID, stepID types.StepID) ([]types.RuleSet, error)
}

// AuditLog persists one resolution record.
type AuditLog interface {
	CreateLog(ctx context.Context, entry *types.ResolutionLog) error
}

// Request is the input of Resolve. Message is passed untrimmed.
type Request struct {
	TenantID  types.TenantID
	StepID    types.StepID
	Message   string
	TicketID  string
	FlowID    types.FlowID
	Secondary bool
}

// Mode returns the request's mode name.
func (r Request) Mode() string {
	if r.Secondary {
		return ModeSecondary
	}
	return ModePrimary
}

// Resolution is the result of Resolve. Rule is set only for OutcomeMatched.
type Resolution struct {
	Outcome   Outcome
	Rule      *types.Rule
	RuleSetID types.RuleSetID
	// Strategy names the secondary-mode strategy that decided, if any.
	Strategy string
	// Audited reports whether a log row was written.
	Audited bool
}

// Engine resolves messages against a step's rule sets.
type Engine struct {
	loader  RuleSetLoader
	audit   AuditLog
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables resolution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. A nil audit disables audit writes, which is
// only meant for dry-run tooling.
func NewEngine(loader RuleSetLoader, audit AuditLog, opts ...Option) (*Engine, error) {
	if loader == nil {
		return nil, fmt.Errorf("rule set loader cannot be nil")
	}
	e := &Engine{
		loader: loader,
		audit:  audit,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Resolve selects the rule for req.Message at req.StepID.
func (e *Engine) Resolve(ctx context.Context, req Request) (Resolution, error) {
	if req.TenantID == "" {
		return Resolution{}, types.ErrMissingTenant
	}
	if req.StepID == "" {
		return Resolution{}, fmt.Errorf("%w: empty step id", types.ErrStepNotFound)
	}

	sets, err := e.loader.LoadRuleSets(ctx, req.TenantID, req.StepID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load rule sets for step %s: %w", req.StepID, err)
	}
	if len(sets) == 0 {
		res := Resolution{Outcome: OutcomeNoRules}
		e.record(req, res)
		return res, nil
	}
	sets = orderedRuleSets(sets)

	var (
		res   Resolution
		audit bool
	)
	if req.Secondary {
		res, audit = resolveSecondary(sets, req.Message)
	} else {
		res, audit = resolvePrimary(sets, req.Message)
	}

	if audit {
		written, err := e.writeAudit(ctx, req, res)
		if err != nil {
			return Resolution{}, err
		}
		res.Audited = written
	}

	e.record(req, res)
	return res, nil
}

func resolvePrimary(sets []types.RuleSet, message string) (Resolution, bool) {
	m, ok := evaluatePrimary(sets, message)
	if !ok {
		return Resolution{Outcome: OutcomeNoMatch}, true
	}
	return Resolution{Outcome: OutcomeMatched, Rule: m.rule, RuleSetID: m.setID}, true
}

func resolveSecondary(sets []types.RuleSet, message string) (Resolution, bool) {
	r, ok := evaluateSecondary(sets, message)
	if !ok {
		return Resolution{Outcome: OutcomeNoMatch}, false
	}
	if r.invalid {
		return Resolution{Outcome: OutcomeInvalidOption, RuleSetID: r.match.setID, Strategy: r.strategy}, true
	}
	return Resolution{Outcome: OutcomeMatched, Rule: r.match.rule, RuleSetID: r.match.setID, Strategy: r.strategy}, true
}

// writeAudit writes the log row when ticket and flow ids are both present.
func (e *Engine) writeAudit(ctx context.Context, req Request, res Resolution) (bool, error) {
	if e.audit == nil || req.TicketID == "" || req.FlowID == "" {
		return false, nil
	}

	entry := &types.ResolutionLog{
		TenantID: req.TenantID,
		TicketID: req.TicketID,
		FlowID:   req.FlowID,
		StepID:   req.StepID,
	}
	if res.Rule != nil {
		id := res.Rule.ID
		entry.RuleID = &id
	}

	if err := e.audit.CreateLog(ctx, entry); err != nil {
		e.metrics.IncAuditFailure()
		e.logger.Error("audit log write failed",
			"tenant_id", req.TenantID,
			"ticket_id", req.TicketID,
			"step_id", req.StepID,
			"error", err)
		return false, fmt.Errorf("%w: %w", types.ErrAuditLog, err)
	}
	return true, nil
}

func (e *Engine) record(req Request, res Resolution) {
	e.metrics.ObserveResolution(req.Mode(), res.Outcome.String())

	attrs := []any{
		"tenant_id", req.TenantID,
		"step_id", req.StepID,
		"mode", req.Mode(),
		"outcome", res.Outcome.String(),
	}
	if res.Rule != nil {
		attrs = append(attrs, "rule_id", res.Rule.ID, "action", res.Rule.Kind())
	}
	if res.Strategy != "" {
		attrs = append(attrs, "strategy", res.Strategy)
	}
	e.logger.Debug("resolved", attrs...)
}
