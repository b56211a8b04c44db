package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "example.org", cfg.TrustDomain)
	assert.Equal(t, "http://localhost:8080", cfg.WorkloadAPIURL)
	assert.Equal(t, 3600, cfg.DefaultCertificateTTLSeconds)
	assert.Equal(t, 0.8, cfg.RotationFraction)
	assert.Equal(t, 900, cfg.DefaultDelegationTTLSeconds)
	assert.Equal(t, 3600, cfg.MaxDelegationTTLSeconds)
	assert.Equal(t, 3600, cfg.UserTokenTTLSeconds)
	assert.Equal(t, ":8080", cfg.WorkloadAPIListen)
	assert.Equal(t, ":8081", cfg.UserAPIListen)
	assert.Equal(t, "user-service", cfg.UserServiceName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CREDO_TRUST_DOMAIN", "prod.example.com")
	t.Setenv("CREDO_SERVICE_NAME", "photo-service")
	t.Setenv("CREDO_WORKLOAD_API_URL", "https://workload-api.internal:8443")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "prod.example.com", cfg.TrustDomain)
	assert.Equal(t, "photo-service", cfg.ServiceName)
	assert.Equal(t, "https://workload-api.internal:8443", cfg.WorkloadAPIURL)
}

// Keys without defaults must still be settable from the environment.
func TestLoadEnvOverridesDefaultlessKeys(t *testing.T) {
	signingKey := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	t.Setenv("CREDO_ATTESTATION_TOKEN", "dev-token-photo-service-12345")
	t.Setenv("CREDO_DELEGATION_SIGNING_KEY", signingKey)
	t.Setenv("CREDO_CA_DIR", "/var/lib/credo/ca")
	t.Setenv("CREDO_MTLS_PORT", "8443")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dev-token-photo-service-12345", cfg.AttestationToken)
	assert.Equal(t, signingKey, cfg.DelegationSigningKey)
	assert.Equal(t, "/var/lib/credo/ca", cfg.CADir)
	assert.Equal(t, 8443, cfg.MTLSPort)

	key, err := cfg.SigningKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trust_domain: staging.example.com
service_name: echo-server
default_delegation_ttl_seconds: 600
attestation_secrets:
  photo-service: dev-token-photo-service-12345
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging.example.com", cfg.TrustDomain)
	assert.Equal(t, "echo-server", cfg.ServiceName)
	assert.Equal(t, 600, cfg.DefaultDelegationTTLSeconds)
	assert.Equal(t, "dev-token-photo-service-12345", cfg.AttestationSecrets["photo-service"])
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid trust domain", func(c *Config) { c.TrustDomain = "not a domain!" }},
		{"empty trust domain", func(c *Config) { c.TrustDomain = "" }},
		{"invalid service name", func(c *Config) { c.ServiceName = "has space" }},
		{"rotation fraction too high", func(c *Config) { c.RotationFraction = 1.5 }},
		{"max delegation below default", func(c *Config) { c.MaxDelegationTTLSeconds = 60 }},
		{"port out of range", func(c *Config) { c.MTLSPort = 70000 }},
		{"short signing key", func(c *Config) {
			c.DelegationSigningKey = base64.StdEncoding.EncodeToString([]byte("short"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSigningKey(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	cfg := &Config{DelegationSigningKey: base64.StdEncoding.EncodeToString(secret)}
	key, err := cfg.SigningKey()
	require.NoError(t, err)
	assert.Equal(t, secret, key)

	cfg = &Config{}
	key, err = cfg.SigningKey()
	require.NoError(t, err)
	assert.Nil(t, key, "unset key is not an error")

	cfg = &Config{DelegationSigningKey: "%%%not-base64%%%"}
	_, err = cfg.SigningKey()
	assert.Error(t, err)

	cfg = &Config{DelegationSigningKey: base64.StdEncoding.EncodeToString([]byte("too-short"))}
	_, err = cfg.SigningKey()
	assert.Error(t, err)
}
