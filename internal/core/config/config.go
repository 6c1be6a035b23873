// Package config provides configuration management for the flowkeeper service.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Contact store kinds.
const (
	ContactStoreNone  = "none"
	ContactStoreHTTP  = "http"
	ContactStoreRedis = "redis"
)

// Config is the complete service configuration.
type Config struct {
	Server       ServerConfig
	Sandbox      SandboxConfig
	ContactStore ContactStoreConfig
	APIStep      APIStepConfig
}

// ServerConfig holds the gRPC listener and metrics endpoint settings.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	// MetricsAddr is the prometheus listen address; empty disables it.
	MetricsAddr string
}

// Addr returns host:port for the gRPC listener.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SandboxConfig bounds the in-process sandbox variable cache.
type SandboxConfig struct {
	MaxContacts int
}

// ContactStoreConfig selects the external contact-variable store.
// Token and RedisPassword come from the environment only.
type ContactStoreConfig struct {
	Kind          string
	URL           string
	Timeout       time.Duration
	RedisAddr     string
	RedisDB       int
	KeyPrefix     string
	Token         string
	RedisPassword string
}

// APIStepConfig holds executor defaults for steps that leave them unset.
type APIStepConfig struct {
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
	BackoffUnit       time.Duration
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50061,
			RequestTimeout: 30 * time.Second,
			MetricsAddr:    ":9090",
		},
		Sandbox: SandboxConfig{MaxContacts: 1024},
		ContactStore: ContactStoreConfig{
			Kind:      ContactStoreNone,
			Timeout:   5 * time.Second,
			KeyPrefix: "fk:vars:",
		},
		APIStep: APIStepConfig{
			DefaultTimeout:    30 * time.Second,
			DefaultMaxRetries: 3,
			BackoffUnit:       time.Second,
		},
	}
}

// Validate checks ranges and that the selected contact store is addressable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", c.Server.RequestTimeout)
	}
	if c.Sandbox.MaxContacts <= 0 {
		return fmt.Errorf("sandbox.max_contacts must be positive, got %d", c.Sandbox.MaxContacts)
	}
	if c.APIStep.DefaultTimeout <= 0 {
		return fmt.Errorf("api_step.default_timeout must be positive, got %v", c.APIStep.DefaultTimeout)
	}
	if c.APIStep.DefaultMaxRetries <= 0 {
		return fmt.Errorf("api_step.default_max_retries must be positive, got %d", c.APIStep.DefaultMaxRetries)
	}
	if c.APIStep.BackoffUnit < 0 {
		return fmt.Errorf("api_step.backoff_unit must not be negative, got %v", c.APIStep.BackoffUnit)
	}

	switch c.ContactStore.Kind {
	case ContactStoreNone:
	case ContactStoreHTTP:
		if c.ContactStore.URL == "" {
			return fmt.Errorf("contact_store.url is required for kind %q", ContactStoreHTTP)
		}
		if c.ContactStore.Timeout <= 0 {
			return fmt.Errorf("contact_store.timeout must be positive, got %v", c.ContactStore.Timeout)
		}
	case ContactStoreRedis:
		if c.ContactStore.RedisAddr == "" {
			return fmt.Errorf("contact_store.redis_addr is required for kind %q", ContactStoreRedis)
		}
		if c.ContactStore.RedisDB < 0 {
			return fmt.Errorf("contact_store.redis_db must not be negative, got %d", c.ContactStore.RedisDB)
		}
	default:
		return fmt.Errorf("unknown contact_store.kind %q (want none, http or redis)", c.ContactStore.Kind)
	}
	return nil
}
