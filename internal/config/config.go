package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/padronkit/padron-core/pkg/padron"
	"github.com/padronkit/padron-core/pkg/soap"
	"github.com/padronkit/padron-core/pkg/wsaa"
)

// Environments.
const (
	EnvProduction = "production"
	EnvTesting    = "testing"
)

// Store types.
const (
	StoreNone   = "none"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Keys read from viper. Flags, env (PADRON_*) and the config file all map here.
const (
	EnvironmentKey  = "environment"
	CUITKey         = "cuit"
	ServiceKey      = "service"
	CertFileKey     = "cert"
	KeyFileKey      = "key"
	P12FileKey      = "p12"
	P12PasswordKey  = "p12_password"
	AuthorityURLKey = "authority_url"
	RegistryURLKey  = "registry_url"
	CAFileKey       = "ca_file"
	TimeoutKey      = "timeout"
	TicketTTLKey    = "ticket.ttl"
	ClockSkewKey    = "ticket.clock_skew"
	RenewBeforeKey  = "ticket.renew_before"
	StoreTypeKey    = "store.type"
	StorePathKey    = "store.path"
	RedisURLKey     = "store.redis_url"
	RedisPrefixKey  = "store.redis_prefix"
)

// Config is the explicit configuration handed to every component.
type Config struct {
	Environment string

	// CUIT is the represented taxpayer (cuitRepresentada).
	CUIT    string
	Service string

	CertFile    string
	KeyFile     string
	P12File     string
	P12Password string

	AuthorityURL string
	RegistryURL  string
	CAFile       string
	Timeout      time.Duration

	TicketTTL   time.Duration
	ClockSkew   time.Duration
	RenewBefore time.Duration

	Store StoreConfig
}

// StoreConfig selects where credentials are persisted.
type StoreConfig struct {
	Type        string
	Path        string
	RedisURL    string
	RedisPrefix string
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(EnvironmentKey, EnvProduction)
	v.SetDefault(ServiceKey, padron.ServiceName)
	v.SetDefault(TimeoutKey, soap.DefaultTimeout)
	v.SetDefault(TicketTTLKey, wsaa.DefaultTicketTTL)
	v.SetDefault(ClockSkewKey, wsaa.DefaultClockSkew)
	v.SetDefault(RenewBeforeKey, wsaa.DefaultRenewBefore)
	v.SetDefault(StoreTypeKey, StoreFile)
}

// FromViper builds a Config from v. It does not validate.
func FromViper(v *viper.Viper) Config {
	cfg := Config{
		Environment:  strings.ToLower(v.GetString(EnvironmentKey)),
		CUIT:         v.GetString(CUITKey),
		Service:      v.GetString(ServiceKey),
		CertFile:     v.GetString(CertFileKey),
		KeyFile:      v.GetString(KeyFileKey),
		P12File:      v.GetString(P12FileKey),
		P12Password:  v.GetString(P12PasswordKey),
		AuthorityURL: v.GetString(AuthorityURLKey),
		RegistryURL:  v.GetString(RegistryURLKey),
		CAFile:       v.GetString(CAFileKey),
		Timeout:      v.GetDuration(TimeoutKey),
		TicketTTL:    v.GetDuration(TicketTTLKey),
		ClockSkew:    v.GetDuration(ClockSkewKey),
		RenewBefore:  v.GetDuration(RenewBeforeKey),
		Store: StoreConfig{
			Type:        strings.ToLower(v.GetString(StoreTypeKey)),
			Path:        v.GetString(StorePathKey),
			RedisURL:    v.GetString(RedisURLKey),
			RedisPrefix: v.GetString(RedisPrefixKey),
		},
	}

	if cfg.AuthorityURL == "" {
		cfg.AuthorityURL = wsaa.ProductionURL
		if cfg.Environment == EnvTesting {
			cfg.AuthorityURL = wsaa.TestingURL
		}
	}
	if cfg.RegistryURL == "" {
		cfg.RegistryURL = padron.ProductionURL
		if cfg.Environment == EnvTesting {
			cfg.RegistryURL = padron.TestingURL
		}
	}
	return cfg
}

// Validate checks the fields every command needs to talk to the services.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvProduction, EnvTesting:
	default:
		return fmt.Errorf("invalid environment %q (must be %s or %s)", c.Environment, EnvProduction, EnvTesting)
	}
	if c.Service == "" {
		return fmt.Errorf("service is required")
	}
	if err := c.ValidateKeyMaterial(); err != nil {
		return err
	}
	if c.TicketTTL <= c.RenewBefore {
		return fmt.Errorf("ticket.ttl (%s) must exceed ticket.renew_before (%s)", c.TicketTTL, c.RenewBefore)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	switch c.Store.Type {
	case StoreNone, StoreFile, StoreMemory:
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid store type %q", c.Store.Type)
	}
	return nil
}

// ValidateKeyMaterial checks that exactly one key source is configured.
func (c *Config) ValidateKeyMaterial() error {
	pem := c.CertFile != "" || c.KeyFile != ""
	switch {
	case pem && c.P12File != "":
		return fmt.Errorf("configure either cert/key or p12, not both")
	case c.P12File != "":
		return nil
	case c.CertFile == "" || c.KeyFile == "":
		return fmt.Errorf("cert and key are required (or p12)")
	}
	return nil
}

// ValidateRegistry checks the fields needed for registry lookups.
func (c *Config) ValidateRegistry() error {
	if c.CUIT == "" {
		return fmt.Errorf("cuit (the represented taxpayer) is required")
	}
	if err := padron.ValidateCUIT(c.CUIT); err != nil {
		return fmt.Errorf("cuit: %w", err)
	}
	return nil
}
