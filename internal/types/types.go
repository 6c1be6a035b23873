// Package types provides domain models shared across flowkeeper components.
//
// Zero-dependency design: types.go, rules.go, actions.go and errors.go use only
// the standard library so the rule engine, the store and the transport layer
// can share them without import cycles. ID utilities in ids.go import uuid
// but are isolated from the rest.
package types

import (
	"strings"
	"time"
)

// TenantID identifies the owner of flows, steps and rule sets.
type TenantID string

// FlowID represents a UUIDv7 flow identifier.
type FlowID string

// StepID represents a UUIDv7 step ("etapa") identifier.
type StepID string

// RuleSetID represents a UUIDv7 rule set ("condição") identifier.
type RuleSetID string

// RuleID represents a UUIDv7 rule ("regra") identifier.
// String alias enables type safety while maintaining JSON string serialization.
type RuleID string

// LogID represents a UUIDv7 interaction log identifier.
type LogID string

// StepKind classifies a node of the flow graph.
type StepKind string

const (
	StepStart  StepKind = "START"
	StepDialog StepKind = "DIALOG"
	StepEnd    StepKind = "END"
)

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepStart, StepDialog, StepEnd:
		return true
	default:
		return false
	}
}

// Flow is a tenant-owned dialog graph.
type Flow struct {
	ID        FlowID
	TenantID  TenantID
	Name      string
	CreatedAt time.Time
}

// Step is a node in a Flow. APIConfig is set only for steps that call out to
// an external endpoint.
type Step struct {
	ID        StepID
	FlowID    FlowID
	TenantID  TenantID
	Kind      StepKind
	Name      string
	APIConfig *APIStepConfig
	CreatedAt time.Time
}

// ResolutionLog is the audit row written per resolved transition.
// RuleID is nil when the resolution matched nothing.
type ResolutionLog struct {
	ID        LogID
	TenantID  TenantID
	TicketID  string
	FlowID    FlowID
	StepID    StepID
	RuleID    *RuleID
	CreatedAt time.Time
}

// Variables is the per-conversation variable map.
type Variables map[string]string

// Clone returns an independent copy of v. A nil map clones to an empty map.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// SandboxTicketPrefix marks test conversations that never touch the real
// contact store.
const SandboxTicketPrefix = "test-"

// IsSandboxTicket reports whether ticketID belongs to a sandbox conversation.
func IsSandboxTicket(ticketID string) bool {
	return strings.HasPrefix(ticketID, SandboxTicketPrefix)
}

// System variables merged into every non-sandbox variable map.
const (
	VarTicketID  = "ticket_id"
	VarProtocolo = "protocolo"
)

// Limits enforced at rule construction time.
const (
	// MaxRuleInputs bounds the trigger set of a single rule.
	MaxRuleInputs = 256

	// MaxRuleInputLength bounds a single trigger string.
	MaxRuleInputLength = 1024

	// MaxVariableNameLength bounds variable names after normalization.
	MaxVariableNameLength = 128
)
