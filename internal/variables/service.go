// Package variables resolves per-conversation variable maps and substitutes
// {{placeholders}} in templates.
//
// A conversation whose ticket id starts with "test-" is a sandbox
// conversation: its variables live only in the in-process SandboxCache and the
// real contact store is never read or written for it.
package variables

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/flowkeeper/internal/core/logging"
	"github.com/solatis/flowkeeper/internal/core/metrics"
	"github.com/solatis/flowkeeper/internal/types"
)

// Conversation identifies whose variables are being resolved.
type Conversation struct {
	TenantID  types.TenantID
	ContactID string
	TicketID  string
}

// Sandbox reports whether the conversation is a test conversation.
func (c Conversation) Sandbox() bool {
	return types.IsSandboxTicket(c.TicketID)
}

// Service resolves variable maps from the sandbox cache or the contact store.
// It holds no per-call state.
type Service struct {
	contacts ContactStore
	sandbox  *SandboxCache
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for swallowed lookup failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables lookup-failure counting.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service. contacts may be nil, in which case real
// conversations resolve to the system variables only and writes fail with
// ErrNoContactStore.
func NewService(contacts ContactStore, sandbox *SandboxCache, opts ...Option) (*Service, error) {
	if sandbox == nil {
		return nil, fmt.Errorf("sandbox cache cannot be nil")
	}
	s := &Service{
		contacts: contacts,
		sandbox:  sandbox,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sandbox exposes the sandbox cache for explicit clear operations.
func (s *Service) Sandbox() *SandboxCache {
	return s.sandbox
}

// ResolveMap returns the conversation's variable map.
//
// Sandbox conversations read the sandbox cache only. Real conversations read
// the contact store on every call and get ticket_id/protocolo layered on top.
// A failed lookup yields an empty map: substitution degrades to leaving
// placeholders in place instead of failing the step.
func (s *Service) ResolveMap(ctx context.Context, conv Conversation) types.Variables {
	if conv.Sandbox() {
		vars := s.sandbox.Get(conv.TenantID, conv.ContactID)
		addSystemVariables(vars, conv.TicketID)
		return vars
	}

	vars := types.Variables{}
	if s.contacts != nil && conv.ContactID != "" {
		remote, err := s.contacts.Variables(ctx, conv.TenantID, conv.ContactID)
		if err != nil {
			s.logger.Warn("contact variable lookup failed",
				"store", s.contacts.Name(),
				"tenant_id", conv.TenantID,
				"contact_id", conv.ContactID,
				"error", err)
			s.metrics.IncLookupFailure(s.contacts.Name())
			return types.Variables{}
		}
		for k, v := range remote {
			vars[k] = v
		}
	}
	addSystemVariables(vars, conv.TicketID)
	return vars
}

// Lookup returns one variable by (normalized) name.
func (s *Service) Lookup(ctx context.Context, conv Conversation, name string) (string, bool) {
	val, ok := normalizedLookup(s.ResolveMap(ctx, conv))[NormalizeName(name)]
	return val, ok
}

// Save stores a variable. Sandbox writes stay in the cache and are never
// persisted; real writes go to the contact store.
func (s *Service) Save(ctx context.Context, conv Conversation, name, value string) error {
	normalized := NormalizeName(name)
	if normalized == "" || len(normalized) > types.MaxVariableNameLength {
		return fmt.Errorf("%w: %q", types.ErrInvalidVariableName, name)
	}

	if conv.Sandbox() {
		s.sandbox.Set(conv.TenantID, conv.ContactID, normalized, value)
		return nil
	}
	if s.contacts == nil {
		return ErrNoContactStore
	}
	if err := s.contacts.SetVariable(ctx, conv.TenantID, conv.ContactID, normalized, value); err != nil {
		return fmt.Errorf("save variable %s: %w", normalized, err)
	}
	return nil
}

// SubstituteAll resolves the conversation's map once and substitutes every
// template against it.
func (s *Service) SubstituteAll(ctx context.Context, templates []string, conv Conversation) []string {
	vars := s.ResolveMap(ctx, conv)
	out := make([]string, len(templates))
	for i, tmpl := range templates {
		out[i] = Substitute(tmpl, vars)
	}
	return out
}

// addSystemVariables sets ticket_id and protocolo; they always win over
// contact variables of the same name.
func addSystemVariables(vars types.Variables, ticketID string) {
	if ticketID == "" {
		return
	}
	vars[types.VarTicketID] = ticketID
	vars[types.VarProtocolo] = ticketID
}
