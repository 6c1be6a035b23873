package config

import (
	"testing"

	"github.com/spf13/pflag"
)

// TestAcceptanceCriteria verifies configuration precedence and secret handling.
func TestAcceptanceCriteria(t *testing.T) {
	t.Run("AC1: Contact store token accessible from FK_CONTACT_STORE_TOKEN", func(t *testing.T) {
		t.Setenv("FK_CONTACT_STORE_TOKEN", "token-from-env")

		cfg, err := LoadConfig("", nil, nil)
		if err != nil {
			t.Fatalf("AC1 FAIL: LoadConfig error: %v", err)
		}
		if cfg.ContactStore.Token != "token-from-env" {
			t.Fatalf("AC1 FAIL: Token = %q", cfg.ContactStore.Token)
		}
	})

	t.Run("AC2: Config file with contact store token rejected with clear error", func(t *testing.T) {
		path := writeConfig(t, "contact_store:\n  token: should_be_rejected\n")

		_, err := LoadConfig(path, nil, nil)
		if err == nil {
			t.Fatal("AC2 FAIL: Expected error for secret in config file")
		}
		want := "contact_store.token not allowed in config files (use FK_CONTACT_STORE_TOKEN environment variable)"
		if err.Error() != want {
			t.Fatalf("AC2 FAIL: Wrong error message: %v", err)
		}
	})

	t.Run("AC3: CLI flag > environment > config file", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9090\n")

		t.Setenv("FK_SERVER_PORT", "8080")
		cfg, err := LoadConfig(path, nil, nil)
		if err != nil {
			t.Fatalf("AC3 FAIL: LoadConfig error: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Fatalf("AC3 FAIL: Environment should override config file. Expected 8080, got %d", cfg.Server.Port)
		}

		flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
		flags.Int("port", 50061, "")
		bindings := map[string]string{"server.port": "port"}

		cfg, err = LoadConfig(path, flags, bindings)
		if err != nil {
			t.Fatalf("AC3 FAIL: LoadConfig error: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Fatalf("AC3 FAIL: Unset flag must not override environment. Expected 8080, got %d", cfg.Server.Port)
		}

		if err := flags.Parse([]string{"--port", "7070"}); err != nil {
			t.Fatal(err)
		}
		cfg, err = LoadConfig(path, flags, bindings)
		if err != nil {
			t.Fatalf("AC3 FAIL: LoadConfig error: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Fatalf("AC3 FAIL: Flag should override environment. Expected 7070, got %d", cfg.Server.Port)
		}
	})

	t.Run("AC4: Binding an unknown flag is an error", func(t *testing.T) {
		flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
		if _, err := LoadConfig("", flags, map[string]string{"server.port": "nope"}); err == nil {
			t.Fatal("AC4 FAIL: Expected error for unknown flag binding")
		}
	})
}
