package variables

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/solatis/flowkeeper/internal/core/metrics"
	"github.com/solatis/flowkeeper/internal/types"
)

// DefaultSandboxContacts bounds the sandbox cache when no size is configured.
const DefaultSandboxContacts = 1024

// SandboxCache holds variable maps for sandbox ("test-") conversations.
// It is a test affordance: nothing here is persisted, and the least recently
// used contact is dropped once MaxContacts is reached so long-running
// processes do not grow without bound.
type SandboxCache struct {
	mu      sync.Mutex // serializes read-modify-write on a contact's map
	entries *lru.Cache[sandboxKey, types.Variables]
	metrics *metrics.Metrics
}

// NewSandboxCache creates a cache holding at most maxContacts contacts.
func NewSandboxCache(maxContacts int, m *metrics.Metrics) (*SandboxCache, error) {
	if maxContacts <= 0 {
		maxContacts = DefaultSandboxContacts
	}
	entries, err := lru.New[sandboxKey, types.Variables](maxContacts)
	if err != nil {
		return nil, fmt.Errorf("sandbox cache: %w", err)
	}
	return &SandboxCache{entries: entries, metrics: m}, nil
}

// sandboxKey identifies one contact of one tenant. Ids may contain any
// character, so the parts are never joined into a string.
type sandboxKey struct {
	tenant  types.TenantID
	contact string
}

func keyFor(tenantID types.TenantID, contactID string) sandboxKey {
	return sandboxKey{tenant: tenantID, contact: contactID}
}

// Get returns a copy of the contact's variables (empty when unknown).
func (c *SandboxCache) Get(tenantID types.TenantID, contactID string) types.Variables {
	c.mu.Lock()
	defer c.mu.Unlock()

	vars, ok := c.entries.Get(keyFor(tenantID, contactID))
	if !ok {
		return types.Variables{}
	}
	return vars.Clone()
}

// Set stores value under the normalized name for the contact.
func (c *SandboxCache) Set(tenantID types.TenantID, contactID, name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := keyFor(tenantID, contactID)
	vars, ok := c.entries.Get(key)
	if !ok {
		vars = types.Variables{}
	} else {
		vars = vars.Clone()
	}
	vars[NormalizeName(name)] = value
	c.entries.Add(key, vars)
	c.metrics.SetSandboxContacts(c.entries.Len())
}

// Clear drops every variable of one contact.
func (c *SandboxCache) Clear(tenantID types.TenantID, contactID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Remove(keyFor(tenantID, contactID))
	c.metrics.SetSandboxContacts(c.entries.Len())
}

// ClearTenant drops every contact of one tenant.
func (c *SandboxCache) ClearTenant(tenantID types.TenantID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.entries.Keys() {
		if key.tenant == tenantID {
			c.entries.Remove(key)
		}
	}
	c.metrics.SetSandboxContacts(c.entries.Len())
}

// ClearAll drops every contact.
func (c *SandboxCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries.Purge()
	c.metrics.SetSandboxContacts(0)
}

// Len reports how many contacts are cached.
func (c *SandboxCache) Len() int {
	return c.entries.Len()
}
