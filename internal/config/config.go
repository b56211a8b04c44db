// Package config loads and validates per-process credo configuration from a
// YAML file and CREDO_-prefixed environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/credo/internal/core/errors"
)

// minSigningKeyBytes is the minimum decoded length of the delegation signing
// key (256 bits).
const minSigningKeyBytes = 32

// Config is the full per-process configuration surface. Every field has a
// CREDO_ environment override, e.g. CREDO_TRUST_DOMAIN.
type Config struct {
	// TrustDomain is embedded in every SPIFFE ID minted or accepted.
	TrustDomain string `mapstructure:"trust_domain" validate:"required,trust_domain"`

	// ServiceName is this workload's registered name.
	ServiceName string `mapstructure:"service_name" validate:"omitempty,service_name"`

	// WorkloadAPIURL is the base URL the identity agent talks to.
	WorkloadAPIURL string `mapstructure:"workload_api_url" validate:"omitempty,url"`

	// AttestationToken is the static-secret proof for the dev scheme.
	AttestationToken string `mapstructure:"attestation_token"`

	// DelegationSigningKey is the base64-encoded HS256 secret. When present
	// on a validating workload it enables local verification.
	DelegationSigningKey string `mapstructure:"delegation_signing_key" validate:"omitempty,signing_key"`

	// DefaultCertificateTTLSeconds is the leaf certificate lifetime.
	DefaultCertificateTTLSeconds int `mapstructure:"default_certificate_ttl_seconds" validate:"gt=0"`

	// RotationFraction is the TTL fraction at which the agent rotates.
	RotationFraction float64 `mapstructure:"rotation_fraction" validate:"gt=0,lt=1"`

	// DefaultDelegationTTLSeconds and MaxDelegationTTLSeconds bound
	// delegation token lifetimes.
	DefaultDelegationTTLSeconds int `mapstructure:"default_delegation_ttl_seconds" validate:"gt=0"`
	MaxDelegationTTLSeconds     int `mapstructure:"max_delegation_ttl_seconds" validate:"gt=0,gtefield=DefaultDelegationTTLSeconds"`

	// UserTokenTTLSeconds bounds user session tokens.
	UserTokenTTLSeconds int `mapstructure:"user_token_ttl_seconds" validate:"gt=0"`

	// MTLSPort is the separate TLS listener port for workload traffic.
	MTLSPort int `mapstructure:"mtls_port" validate:"omitempty,port"`

	// WorkloadAPIListen and UserAPIListen are server bind addresses.
	WorkloadAPIListen string `mapstructure:"workload_api_listen"`
	UserAPIListen     string `mapstructure:"user_api_listen"`

	// CADir is the secure key store directory for the CA bundle. Empty
	// selects the in-memory store.
	CADir string `mapstructure:"ca_dir"`

	// AttestationSecrets maps service names to their static secrets, used
	// by the Workload API's dev scheme.
	AttestationSecrets map[string]string `mapstructure:"attestation_secrets"`

	// UserServiceName is the delegation issuer's own service name, the
	// iss/sub of every delegation token.
	UserServiceName string `mapstructure:"user_service_name" validate:"omitempty,service_name"`
}

// Defaults applied before file and environment values.
func defaults(v *viper.Viper) {
	v.SetDefault("trust_domain", "example.org")
	v.SetDefault("workload_api_url", "http://localhost:8080")
	v.SetDefault("default_certificate_ttl_seconds", 3600)
	v.SetDefault("rotation_fraction", 0.8)
	v.SetDefault("default_delegation_ttl_seconds", 900)
	v.SetDefault("max_delegation_ttl_seconds", 3600)
	v.SetDefault("user_token_ttl_seconds", 3600)
	v.SetDefault("workload_api_listen", ":8080")
	v.SetDefault("user_api_listen", ":8081")
	v.SetDefault("user_service_name", "user-service")
}

// envKeys are bound to CREDO_ variables explicitly: Unmarshal only sees keys
// viper already knows about, so default-less keys would otherwise never pick
// up their environment values. attestation_secrets is a map and comes from
// the config file only.
var envKeys = []string{
	"trust_domain",
	"service_name",
	"workload_api_url",
	"attestation_token",
	"delegation_signing_key",
	"default_certificate_ttl_seconds",
	"rotation_fraction",
	"default_delegation_ttl_seconds",
	"max_delegation_ttl_seconds",
	"user_token_ttl_seconds",
	"mtls_port",
	"workload_api_listen",
	"user_api_listen",
	"ca_dir",
	"user_service_name",
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("CREDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("failed to bind environment for %s: %w", key, err))
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("failed to read config file %s: %w", path, err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("failed to decode configuration: %w", err))
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a configuration against its struct tags.
func Validate(cfg *Config) error {
	if err := newValidator().Struct(cfg); err != nil {
		return errors.NewDomainError(errors.ErrConfig, fmt.Errorf("invalid configuration: %w", err))
	}
	return nil
}

// SigningKey returns the decoded delegation signing secret, or nil when the
// key is not configured.
func (c *Config) SigningKey() ([]byte, error) {
	if c.DelegationSigningKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.DelegationSigningKey)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("delegation signing key is not valid base64: %w", err))
	}
	if len(key) < minSigningKeyBytes {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("delegation signing key must be at least %d bytes, got %d", minSigningKeyBytes, len(key)))
	}
	return key, nil
}

// newValidator builds a validator with credo's custom tags.
func newValidator() *validator.Validate {
	validate := validator.New()
	_ = validate.RegisterValidation("trust_domain", validateTrustDomain)
	_ = validate.RegisterValidation("service_name", validateServiceName)
	_ = validate.RegisterValidation("signing_key", validateSigningKey)
	_ = validate.RegisterValidation("port", validatePort)
	return validate
}

func validateTrustDomain(fl validator.FieldLevel) bool {
	td := fl.Field().String()
	if td == "" {
		return true // required is a separate tag
	}
	_, err := spiffeid.TrustDomainFromString(td)
	return err == nil
}

func validateServiceName(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return true
	}
	// Names become SPIFFE ID path segments.
	_, err := spiffeid.FromPath(spiffeid.RequireTrustDomainFromString("example.org"), "/"+name)
	return err == nil
}

func validateSigningKey(fl validator.FieldLevel) bool {
	key, err := base64.StdEncoding.DecodeString(fl.Field().String())
	return err == nil && len(key) >= minSigningKeyBytes
}

func validatePort(fl validator.FieldLevel) bool {
	port := fl.Field().Int()
	return port > 0 && port <= 65535
}
