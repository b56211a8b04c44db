package services

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

func newTestRegistry(t *testing.T) *AttestationRegistry {
	t.Helper()
	scheme, err := NewStaticSecretScheme(map[string]string{
		"photo-service": "dev-token-photo-service-12345",
		"echo-server":   "dev-token-echo-server-67890",
	})
	require.NoError(t, err)

	registry, err := NewAttestationRegistry(AttestationRegistryConfig{
		Schemes: []ports.AttestationScheme{scheme},
	})
	require.NoError(t, err)
	return registry
}

func TestAttestAndRedeem(t *testing.T) {
	registry := newTestRegistry(t)

	ticket, err := registry.Attest("photo-service", "static-secret", ports.AttestationProof{
		"token": "dev-token-photo-service-12345",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, "photo-service", ticket.ServiceName)

	require.NoError(t, registry.Redeem(ticket.ID, "photo-service"))

	// Single use: a second redemption fails.
	err = registry.Redeem(ticket.ID, "photo-service")
	assert.True(t, stderrors.Is(err, errors.ErrTicketInvalid))
}

func TestAttestWrongSecret(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Attest("photo-service", "static-secret", ports.AttestationProof{"token": "wrong"})
	assert.True(t, stderrors.Is(err, errors.ErrAttestationDenied))
	assert.Zero(t, registry.Outstanding(), "no ticket recorded on denial")
}

func TestAttestMissingProof(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Attest("photo-service", "static-secret", ports.AttestationProof{})
	assert.True(t, stderrors.Is(err, errors.ErrAttestationDenied))
}

func TestAttestUnregisteredService(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Attest("unknown-service", "static-secret", ports.AttestationProof{
		"token": "dev-token-photo-service-12345",
	})
	assert.True(t, stderrors.Is(err, errors.ErrAttestationDenied))
}

func TestAttestUnknownScheme(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Attest("photo-service", "no-such-scheme", ports.AttestationProof{
		"token": "dev-token-photo-service-12345",
	})
	assert.True(t, stderrors.Is(err, errors.ErrAttestationDenied))
}

func TestRedeemNameMismatchBurnsTicket(t *testing.T) {
	registry := newTestRegistry(t)

	ticket, err := registry.Attest("photo-service", "static-secret", ports.AttestationProof{
		"token": "dev-token-photo-service-12345",
	})
	require.NoError(t, err)

	err = registry.Redeem(ticket.ID, "echo-server")
	assert.True(t, stderrors.Is(err, errors.ErrTicketInvalid))

	// The mismatch consumed the ticket.
	err = registry.Redeem(ticket.ID, "photo-service")
	assert.True(t, stderrors.Is(err, errors.ErrTicketInvalid))
}

func TestRedeemUnknownTicket(t *testing.T) {
	registry := newTestRegistry(t)
	err := registry.Redeem("00000000-0000-0000-0000-000000000000", "photo-service")
	assert.True(t, stderrors.Is(err, errors.ErrTicketInvalid))
}

func TestTicketExpiry(t *testing.T) {
	registry := newTestRegistry(t)

	ticket, err := registry.Attest("photo-service", "static-secret", ports.AttestationProof{
		"token": "dev-token-photo-service-12345",
	})
	require.NoError(t, err)

	// Advance the registry clock past the ticket TTL.
	registry.now = func() time.Time { return time.Now().Add(6 * time.Minute) }

	err = registry.Redeem(ticket.ID, "photo-service")
	assert.True(t, stderrors.Is(err, errors.ErrTicketInvalid))
	assert.Zero(t, registry.Outstanding(), "expired tickets are evicted lazily")
}

func TestNewAttestationRegistryValidation(t *testing.T) {
	_, err := NewAttestationRegistry(AttestationRegistryConfig{})
	assert.Error(t, err, "at least one scheme required")

	scheme, err := NewStaticSecretScheme(map[string]string{"svc": "secret"})
	require.NoError(t, err)
	_, err = NewAttestationRegistry(AttestationRegistryConfig{
		Schemes: []ports.AttestationScheme{scheme, scheme},
	})
	assert.Error(t, err, "duplicate schemes rejected")
}
