package services

import (
	"crypto/subtle"
	"fmt"

	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

// StaticSecretScheme attests workloads against a per-service shared secret
// supplied out of band (configuration, a secrets manager, an init container).
// Comparison is constant-time. Suitable for development and small fleets;
// platform-backed schemes slot in beside it without touching the registry.
type StaticSecretScheme struct {
	secrets map[string]string
}

// NewStaticSecretScheme builds the scheme from a service-name-to-secret map.
func NewStaticSecretScheme(secrets map[string]string) (*StaticSecretScheme, error) {
	if len(secrets) == 0 {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("static secret scheme requires at least one registered service"))
	}
	for name, secret := range secrets {
		if name == "" || secret == "" {
			return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("static secret scheme entries need a non-empty name and secret"))
		}
	}

	copied := make(map[string]string, len(secrets))
	for name, secret := range secrets {
		copied[name] = secret
	}
	return &StaticSecretScheme{secrets: copied}, nil
}

// Name implements ports.AttestationScheme.
func (s *StaticSecretScheme) Name() string { return "static-secret" }

// Validate implements ports.AttestationScheme. The proof's token field must
// match the secret registered for serviceName. The token never appears in
// errors or logs.
func (s *StaticSecretScheme) Validate(serviceName string, proof ports.AttestationProof) error {
	token, ok := proof.Token()
	if !ok || token == "" {
		return errors.NewDomainError(errors.ErrAttestationDenied, fmt.Errorf("attestation proof is missing a token"))
	}

	expected, registered := s.secrets[serviceName]
	// Compare even for unregistered services so response timing does not
	// reveal which names exist.
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 || !registered {
		return errors.NewDomainError(errors.ErrAttestationDenied, fmt.Errorf("attestation rejected for service %q", serviceName))
	}
	return nil
}
