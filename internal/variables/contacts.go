package variables

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/solatis/flowkeeper/internal/types"
)

// ErrNoContactStore indicates a non-sandbox write with no store configured.
var ErrNoContactStore = errors.New("no contact-variable store configured")

// ContactStore is the external contact-variable store used by real
// (non-sandbox) conversations. Reads are never cached.
type ContactStore interface {
	// Name labels the store in logs and metrics.
	Name() string
	Variables(ctx context.Context, tenantID types.TenantID, contactID string) (types.Variables, error)
	SetVariable(ctx context.Context, tenantID types.TenantID, contactID, name, value string) error
}

// HTTPContactStore talks to the contact service over HTTP:
//
//	GET {base}/contacts/{contact}/variables          -> {"variables": {...}}
//	PUT {base}/contacts/{contact}/variables/{name}   <- {"value": "..."}
//
// The tenant travels in the X-Tenant-ID header.
type HTTPContactStore struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPContactStore creates a store rooted at baseURL. token, when set, is
// sent as a bearer credential.
func NewHTTPContactStore(baseURL, token string, timeout time.Duration) (*HTTPContactStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid contact store url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPContactStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (s *HTTPContactStore) Name() string { return "http" }

// Variables fetches the contact's variable map. Non-string JSON values are
// rendered with their JSON text.
func (s *HTTPContactStore) Variables(ctx context.Context, tenantID types.TenantID, contactID string) (types.Variables, error) {
	endpoint := fmt.Sprintf("%s/contacts/%s/variables", s.baseURL, url.PathEscape(contactID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	s.decorate(req, tenantID)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.Variables{}, nil
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("contact store: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Variables map[string]json.RawMessage `json:"variables"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("contact store: decode variables: %w", err)
	}

	vars := make(types.Variables, len(payload.Variables))
	for name, raw := range payload.Variables {
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			vars[name] = str
			continue
		}
		vars[name] = string(raw)
	}
	return vars, nil
}

// SetVariable persists one variable for the contact.
func (s *HTTPContactStore) SetVariable(ctx context.Context, tenantID types.TenantID, contactID, name, value string) error {
	body, err := json.Marshal(map[string]string{"value": value})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/contacts/%s/variables/%s", s.baseURL, url.PathEscape(contactID), url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.decorate(req, tenantID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("contact store: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("contact store: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *HTTPContactStore) decorate(req *http.Request, tenantID types.TenantID) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", string(tenantID))
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
