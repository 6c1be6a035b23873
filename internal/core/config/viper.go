package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces every environment variable: server.port -> FK_SERVER_PORT.
const envPrefix = "FK"

// secretKeys may only be supplied through the environment.
var secretKeys = []string{"contact_store.token", "contact_store.redis_password"}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence. flags may be
// nil; each flag whose name is listed in bindings overrides its key when set.
func LoadConfig(configPath string, flags *pflag.FlagSet, bindings map[string]string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		// AutomaticEnv only answers for keys viper already knows about.
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	if flags != nil {
		for key, name := range bindings {
			f := flags.Lookup(name)
			if f == nil {
				return nil, fmt.Errorf("unknown flag %q bound to %s", name, key)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MetricsAddr:    v.GetString("server.metrics_addr"),
		},
		Sandbox: SandboxConfig{
			MaxContacts: v.GetInt("sandbox.max_contacts"),
		},
		ContactStore: ContactStoreConfig{
			Kind:          strings.ToLower(v.GetString("contact_store.kind")),
			URL:           v.GetString("contact_store.url"),
			Timeout:       v.GetDuration("contact_store.timeout"),
			RedisAddr:     v.GetString("contact_store.redis_addr"),
			RedisDB:       v.GetInt("contact_store.redis_db"),
			KeyPrefix:     v.GetString("contact_store.key_prefix"),
			Token:         v.GetString("contact_store.token"),
			RedisPassword: v.GetString("contact_store.redis_password"),
		},
		APIStep: APIStepConfig{
			DefaultTimeout:    v.GetDuration("api_step.default_timeout"),
			DefaultMaxRetries: v.GetInt("api_step.default_max_retries"),
			BackoffUnit:       v.GetDuration("api_step.backoff_unit"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults mirrors DefaultConfig.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.metrics_addr", d.Server.MetricsAddr)
	v.SetDefault("sandbox.max_contacts", d.Sandbox.MaxContacts)
	v.SetDefault("contact_store.kind", d.ContactStore.Kind)
	v.SetDefault("contact_store.url", "")
	v.SetDefault("contact_store.timeout", d.ContactStore.Timeout.String())
	v.SetDefault("contact_store.redis_addr", "")
	v.SetDefault("contact_store.redis_db", 0)
	v.SetDefault("contact_store.key_prefix", d.ContactStore.KeyPrefix)
	v.SetDefault("api_step.default_timeout", d.APIStep.DefaultTimeout.String())
	v.SetDefault("api_step.default_max_retries", d.APIStep.DefaultMaxRetries)
	v.SetDefault("api_step.backoff_unit", d.APIStep.BackoffUnit.String())
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			env := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
			return fmt.Errorf("%s not allowed in config files (use %s environment variable)", key, env)
		}
	}
	return nil
}
