package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("", nil, nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		want := DefaultConfig()
		if cfg.Server != want.Server {
			t.Errorf("Server = %+v, want %+v", cfg.Server, want.Server)
		}
		if cfg.Sandbox.MaxContacts != 1024 {
			t.Errorf("expected sandbox.max_contacts 1024, got %d", cfg.Sandbox.MaxContacts)
		}
		if cfg.ContactStore.Kind != ContactStoreNone {
			t.Errorf("expected contact_store.kind none, got %q", cfg.ContactStore.Kind)
		}
		if cfg.ContactStore.KeyPrefix != "fk:vars:" {
			t.Errorf("expected key_prefix fk:vars:, got %q", cfg.ContactStore.KeyPrefix)
		}
		if cfg.APIStep != want.APIStep {
			t.Errorf("APIStep = %+v, want %+v", cfg.APIStep, want.APIStep)
		}
	})

	t.Run("config file", func(t *testing.T) {
		path := writeConfig(t, `server:
  port: 6000
  request_timeout: 10s
  metrics_addr: ""
contact_store:
  kind: redis
  redis_addr: localhost:6379
  redis_db: 2
api_step:
  backoff_unit: 250ms
`)
		cfg, err := LoadConfig(path, nil, nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.Server.Port != 6000 {
			t.Errorf("expected port 6000, got %d", cfg.Server.Port)
		}
		if cfg.Server.RequestTimeout != 10*time.Second {
			t.Errorf("expected request_timeout 10s, got %v", cfg.Server.RequestTimeout)
		}
		if cfg.Server.MetricsAddr != "" {
			t.Errorf("expected metrics disabled, got %q", cfg.Server.MetricsAddr)
		}
		if cfg.ContactStore.Kind != ContactStoreRedis || cfg.ContactStore.RedisAddr != "localhost:6379" || cfg.ContactStore.RedisDB != 2 {
			t.Errorf("ContactStore = %+v, want redis at localhost:6379 db 2", cfg.ContactStore)
		}
		if cfg.APIStep.BackoffUnit != 250*time.Millisecond {
			t.Errorf("expected backoff_unit 250ms, got %v", cfg.APIStep.BackoffUnit)
		}
	})

	t.Run("environment secrets", func(t *testing.T) {
		t.Setenv("FK_CONTACT_STORE_KIND", "http")
		t.Setenv("FK_CONTACT_STORE_URL", "http://contacts.internal")
		t.Setenv("FK_CONTACT_STORE_TOKEN", "s3cret")

		cfg, err := LoadConfig("", nil, nil)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.ContactStore.Token != "s3cret" {
			t.Errorf("expected token from environment, got %q", cfg.ContactStore.Token)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil, nil); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestLoadConfig_SecretsRejectedInFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     string
	}{
		{
			name:    "token",
			content: "contact_store:\n  kind: http\n  url: http://x\n  token: leaked\n",
			env:     "FK_CONTACT_STORE_TOKEN",
		},
		{
			name:    "redis password",
			content: "contact_store:\n  kind: redis\n  redis_addr: x:6379\n  redis_password: leaked\n",
			env:     "FK_CONTACT_STORE_REDIS_PASSWORD",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content), nil, nil)
			if err == nil {
				t.Fatal("expected error for secret in config file")
			}
			if !strings.Contains(err.Error(), tt.env) {
				t.Errorf("error %q does not name %s", err, tt.env)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }},
		{"sandbox bound", func(c *Config) { c.Sandbox.MaxContacts = 0 }},
		{"api timeout", func(c *Config) { c.APIStep.DefaultTimeout = -time.Second }},
		{"api retries", func(c *Config) { c.APIStep.DefaultMaxRetries = 0 }},
		{"backoff", func(c *Config) { c.APIStep.BackoffUnit = -1 }},
		{"unknown kind", func(c *Config) { c.ContactStore.Kind = "ldap" }},
		{"http without url", func(c *Config) { c.ContactStore.Kind = ContactStoreHTTP }},
		{"http without timeout", func(c *Config) {
			c.ContactStore.Kind = ContactStoreHTTP
			c.ContactStore.URL = "http://x"
			c.ContactStore.Timeout = 0
		}},
		{"redis without addr", func(c *Config) { c.ContactStore.Kind = ContactStoreRedis }},
		{"redis negative db", func(c *Config) {
			c.ContactStore.Kind = ContactStoreRedis
			c.ContactStore.RedisAddr = "x:6379"
			c.ContactStore.RedisDB = -1
		}},
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestServerConfigAddr(t *testing.T) {
	got := ServerConfig{Host: "127.0.0.1", Port: 50061}.Addr()
	if got != "127.0.0.1:50061" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:50061")
	}
}
