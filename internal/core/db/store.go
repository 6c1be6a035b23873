package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/flowkeeper/internal/rules"
	"github.com/solatis/flowkeeper/internal/types"
)

// Store persists flows, steps, rule sets, rules and interaction logs.
// It implements rules.RuleSetLoader and rules.AuditLog.
type Store struct {
	db  *sqlx.DB
	q   *Queries
	now func() time.Time
}

// NewStore binds the named queries to db.
func NewStore(db *sqlx.DB) (*Store, error) {
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, q: q, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Row shapes. JSON columns are TEXT on SQLite and JSONB on PostgreSQL;
// both scan into strings.

type flowRow struct {
	FlowID    string    `db:"flow_id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

type stepRow struct {
	StepID    string         `db:"step_id"`
	FlowID    string         `db:"flow_id"`
	TenantID  string         `db:"tenant_id"`
	Kind      string         `db:"kind"`
	Name      string         `db:"name"`
	APIConfig sql.NullString `db:"api_config"`
	CreatedAt time.Time      `db:"created_at"`
}

type ruleSetRow struct {
	RuleSetID string `db:"rule_set_id"`
	StepID    string `db:"step_id"`
	TenantID  string `db:"tenant_id"`
}

type ruleRow struct {
	RuleID    string `db:"rule_id"`
	RuleSetID string `db:"rule_set_id"`
	TenantID  string `db:"tenant_id"`
	Input     string `db:"input"`
	Exact     bool   `db:"exact"`
	Action    string `db:"action"`
	Target    string `db:"target"`
	Priority  int    `db:"priority"`
}

type logRow struct {
	LogID     string         `db:"log_id"`
	TenantID  string         `db:"tenant_id"`
	TicketID  string         `db:"ticket_id"`
	FlowID    string         `db:"flow_id"`
	StepID    string         `db:"step_id"`
	RuleID    sql.NullString `db:"rule_id"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r stepRow) toStep() (types.Step, error) {
	step := types.Step{
		ID:        types.StepID(r.StepID),
		FlowID:    types.FlowID(r.FlowID),
		TenantID:  types.TenantID(r.TenantID),
		Kind:      types.StepKind(r.Kind),
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
	}
	if r.APIConfig.Valid && r.APIConfig.String != "" {
		var cfg types.APIStepConfig
		if err := json.Unmarshal([]byte(r.APIConfig.String), &cfg); err != nil {
			return types.Step{}, fmt.Errorf("step %s: decode api_config: %w", r.StepID, err)
		}
		step.APIConfig = &cfg
	}
	return step, nil
}

func (r ruleRow) toRule() (types.Rule, error) {
	var inputs []string
	if err := json.Unmarshal([]byte(r.Input), &inputs); err != nil {
		return types.Rule{}, fmt.Errorf("%w: rule %s input: %v", types.ErrMalformedRule, r.RuleID, err)
	}
	action, err := types.DecodeAction(types.ActionKind(r.Action), []byte(r.Target))
	if err != nil {
		return types.Rule{}, fmt.Errorf("rule %s: %w", r.RuleID, err)
	}
	return types.Rule{
		ID:        types.RuleID(r.RuleID),
		RuleSetID: types.RuleSetID(r.RuleSetID),
		TenantID:  types.TenantID(r.TenantID),
		Inputs:    inputs,
		Exact:     r.Exact,
		Action:    action,
		Priority:  r.Priority,
	}, nil
}

// notFound maps sql.ErrNoRows to the given sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

// CreateFlow creates a flow.
func (s *Store) CreateFlow(ctx context.Context, tenantID types.TenantID, name string) (types.Flow, error) {
	if tenantID == "" {
		return types.Flow{}, types.ErrMissingTenant
	}
	flow := types.Flow{
		ID:        types.NewFlowID(),
		TenantID:  tenantID,
		Name:      strings.TrimSpace(name),
		CreatedAt: s.now(),
	}
	if _, err := s.q.Exec(ctx, "create-flow", flow.ID, flow.TenantID, flow.Name, flow.CreatedAt); err != nil {
		return types.Flow{}, fmt.Errorf("create flow: %w", err)
	}
	return flow, nil
}

// GetFlow loads an active flow.
func (s *Store) GetFlow(ctx context.Context, tenantID types.TenantID, flowID types.FlowID) (types.Flow, error) {
	var row flowRow
	if err := s.q.Get(ctx, "get-flow", &row, tenantID, flowID); err != nil {
		return types.Flow{}, notFound(err, types.ErrFlowNotFound)
	}
	return types.Flow{
		ID:        types.FlowID(row.FlowID),
		TenantID:  types.TenantID(row.TenantID),
		Name:      row.Name,
		CreatedAt: row.CreatedAt,
	}, nil
}

// CreateStep adds a step to an active flow. ID and CreatedAt are assigned.
func (s *Store) CreateStep(ctx context.Context, step types.Step) (types.Step, error) {
	if step.TenantID == "" {
		return types.Step{}, types.ErrMissingTenant
	}
	if !step.Kind.Valid() {
		return types.Step{}, fmt.Errorf("%w: kind %q", types.ErrInvalidStep, step.Kind)
	}
	if strings.TrimSpace(step.Name) == "" {
		return types.Step{}, fmt.Errorf("%w: name is required", types.ErrInvalidStep)
	}
	if _, err := s.GetFlow(ctx, step.TenantID, step.FlowID); err != nil {
		return types.Step{}, err
	}

	var apiConfig sql.NullString
	if step.APIConfig != nil {
		if err := step.APIConfig.Validate(); err != nil {
			return types.Step{}, err
		}
		b, err := json.Marshal(step.APIConfig)
		if err != nil {
			return types.Step{}, fmt.Errorf("encode api_config: %w", err)
		}
		apiConfig = sql.NullString{String: string(b), Valid: true}
	}

	step.ID = types.NewStepID()
	step.CreatedAt = s.now()
	if _, err := s.q.Exec(ctx, "create-step",
		step.ID, step.FlowID, step.TenantID, step.Kind, step.Name, apiConfig, step.CreatedAt); err != nil {
		return types.Step{}, fmt.Errorf("create step: %w", err)
	}
	return step, nil
}

// GetStep loads an active step.
func (s *Store) GetStep(ctx context.Context, tenantID types.TenantID, stepID types.StepID) (types.Step, error) {
	var row stepRow
	if err := s.q.Get(ctx, "get-step", &row, tenantID, stepID); err != nil {
		return types.Step{}, notFound(err, types.ErrStepNotFound)
	}
	return row.toStep()
}

// SoftDeleteStep marks a step deleted.
func (s *Store) SoftDeleteStep(ctx context.Context, tenantID types.TenantID, stepID types.StepID) error {
	return s.softDelete(ctx, "soft-delete-step", tenantID, string(stepID), types.ErrStepNotFound)
}

// UpsertRuleSet returns the step's active rule set, creating it if needed.
func (s *Store) UpsertRuleSet(ctx context.Context, tenantID types.TenantID, stepID types.StepID) (types.RuleSet, error) {
	if _, err := s.GetStep(ctx, tenantID, stepID); err != nil {
		return types.RuleSet{}, err
	}

	var row ruleSetRow
	err := s.q.Get(ctx, "get-active-rule-set-for-step", &row, tenantID, stepID)
	if err == nil {
		return row.toRuleSet(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.RuleSet{}, fmt.Errorf("load rule set: %w", err)
	}

	set := types.RuleSet{ID: types.NewRuleSetID(), StepID: stepID, TenantID: tenantID}
	if _, err := s.q.Exec(ctx, "create-rule-set", set.ID, set.StepID, set.TenantID, s.now()); err != nil {
		// A concurrent upsert won the unique index; return its row.
		if getErr := s.q.Get(ctx, "get-active-rule-set-for-step", &row, tenantID, stepID); getErr == nil {
			return row.toRuleSet(), nil
		}
		return types.RuleSet{}, fmt.Errorf("create rule set: %w", err)
	}
	return set, nil
}

func (r ruleSetRow) toRuleSet() types.RuleSet {
	return types.RuleSet{
		ID:       types.RuleSetID(r.RuleSetID),
		StepID:   types.StepID(r.StepID),
		TenantID: types.TenantID(r.TenantID),
	}
}

// LoadRuleSets loads every active rule set of the step with its active rules
// ordered by priority, then creation order. Returns ErrStepNotFound for a
// missing or deleted step; a step without rule sets yields an empty slice.
func (s *Store) LoadRuleSets(ctx context.Context, tenantID types.TenantID, stepID types.StepID) ([]types.RuleSet, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only transaction
	q := s.q.WithTx(tx)

	var step stepRow
	if err := q.Get(ctx, "get-step", &step, tenantID, stepID); err != nil {
		return nil, notFound(err, types.ErrStepNotFound)
	}

	var setRows []ruleSetRow
	if err := q.Select(ctx, "list-rule-sets-for-step", &setRows, tenantID, stepID); err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	if len(setRows) == 0 {
		return nil, nil
	}

	var ruleRows []ruleRow
	if err := q.Select(ctx, "list-rules-for-step", &ruleRows, tenantID, stepID); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	sets := make([]types.RuleSet, len(setRows))
	index := make(map[types.RuleSetID]int, len(setRows))
	for i, r := range setRows {
		sets[i] = r.toRuleSet()
		index[sets[i].ID] = i
	}
	for _, r := range ruleRows {
		rule, err := r.toRule()
		if err != nil {
			return nil, err
		}
		if i, ok := index[rule.RuleSetID]; ok {
			sets[i].Rules = append(sets[i].Rules, rule)
		}
	}
	return sets, nil
}

// CreateRule validates spec and inserts it into an active rule set.
func (s *Store) CreateRule(ctx context.Context, spec rules.RuleSpec) (types.Rule, error) {
	if spec.TenantID == "" {
		return types.Rule{}, types.ErrMissingTenant
	}
	var set ruleSetRow
	if err := s.q.Get(ctx, "get-rule-set", &set, spec.TenantID, spec.RuleSetID); err != nil {
		return types.Rule{}, notFound(err, types.ErrRuleSetNotFound)
	}

	spec.ID = ""
	rule, err := rules.NewRule(spec)
	if err != nil {
		return types.Rule{}, err
	}
	input, kind, target, err := encodeRule(rule)
	if err != nil {
		return types.Rule{}, err
	}

	if _, err := s.q.Exec(ctx, "create-rule",
		rule.ID, rule.RuleSetID, rule.TenantID, input, rule.Exact, kind, target, rule.Priority, s.now()); err != nil {
		return types.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// UpdateRule replaces the rule's content. spec.ID selects the rule;
// its rule set cannot change.
func (s *Store) UpdateRule(ctx context.Context, spec rules.RuleSpec) (types.Rule, error) {
	if spec.TenantID == "" {
		return types.Rule{}, types.ErrMissingTenant
	}
	if spec.ID == "" {
		return types.Rule{}, types.ErrRuleNotFound
	}
	current, err := s.GetRule(ctx, spec.TenantID, spec.ID)
	if err != nil {
		return types.Rule{}, err
	}
	spec.RuleSetID = current.RuleSetID

	rule, err := rules.NewRule(spec)
	if err != nil {
		return types.Rule{}, err
	}
	input, kind, target, err := encodeRule(rule)
	if err != nil {
		return types.Rule{}, err
	}

	res, err := s.q.Exec(ctx, "update-rule",
		input, rule.Exact, kind, target, rule.Priority, s.now(), rule.TenantID, rule.ID)
	if err != nil {
		return types.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.Rule{}, types.ErrRuleNotFound
	}
	return rule, nil
}

// GetRule loads an active rule.
func (s *Store) GetRule(ctx context.Context, tenantID types.TenantID, ruleID types.RuleID) (types.Rule, error) {
	var row ruleRow
	if err := s.q.Get(ctx, "get-rule", &row, tenantID, ruleID); err != nil {
		return types.Rule{}, notFound(err, types.ErrRuleNotFound)
	}
	return row.toRule()
}

// SoftDeleteRule marks a rule deleted.
func (s *Store) SoftDeleteRule(ctx context.Context, tenantID types.TenantID, ruleID types.RuleID) error {
	return s.softDelete(ctx, "soft-delete-rule", tenantID, string(ruleID), types.ErrRuleNotFound)
}

func (s *Store) softDelete(ctx context.Context, query string, tenantID types.TenantID, id string, sentinel error) error {
	res, err := s.q.Exec(ctx, query, s.now(), tenantID, id)
	if err != nil {
		return fmt.Errorf("%s: %w", query, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", query, err)
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

func encodeRule(rule types.Rule) (string, types.ActionKind, string, error) {
	inputs := rule.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	input, err := json.Marshal(inputs)
	if err != nil {
		return "", "", "", fmt.Errorf("encode input: %w", err)
	}
	kind, target, err := types.EncodeAction(rule.Action)
	if err != nil {
		return "", "", "", err
	}
	return string(input), kind, string(target), nil
}

// CreateLog writes one resolution audit row, assigning ID and CreatedAt.
func (s *Store) CreateLog(ctx context.Context, entry *types.ResolutionLog) error {
	entry.ID = types.NewLogID()
	entry.CreatedAt = s.now()

	var ruleID sql.NullString
	if entry.RuleID != nil {
		ruleID = sql.NullString{String: string(*entry.RuleID), Valid: true}
	}
	if _, err := s.q.Exec(ctx, "create-log",
		entry.ID, entry.TenantID, entry.TicketID, entry.FlowID, entry.StepID, ruleID, entry.CreatedAt); err != nil {
		return fmt.Errorf("create log: %w", err)
	}
	return nil
}

// ListLogs returns a ticket's audit rows in write order.
func (s *Store) ListLogs(ctx context.Context, tenantID types.TenantID, ticketID string) ([]types.ResolutionLog, error) {
	var rows []logRow
	if err := s.q.Select(ctx, "list-logs-for-ticket", &rows, tenantID, ticketID); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	out := make([]types.ResolutionLog, len(rows))
	for i, r := range rows {
		out[i] = types.ResolutionLog{
			ID:        types.LogID(r.LogID),
			TenantID:  types.TenantID(r.TenantID),
			TicketID:  r.TicketID,
			FlowID:    types.FlowID(r.FlowID),
			StepID:    types.StepID(r.StepID),
			CreatedAt: r.CreatedAt,
		}
		if r.RuleID.Valid {
			id := types.RuleID(r.RuleID.String)
			out[i].RuleID = &id
		}
	}
	return out, nil
}
