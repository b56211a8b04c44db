package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

// AttestationRegistry exchanges attestation proofs for short-lived,
// single-use tickets and redeems those tickets during certificate fetch.
// Tickets are held in memory only; a restart invalidates all outstanding
// tickets, which is acceptable because claimants simply re-attest.
type AttestationRegistry struct {
	schemes   map[string]ports.AttestationScheme
	ticketTTL time.Duration
	metrics   ports.MetricsReporter
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	tickets map[string]*domain.Ticket
}

// AttestationRegistryConfig configures an AttestationRegistry.
type AttestationRegistryConfig struct {
	Schemes   []ports.AttestationScheme
	TicketTTL time.Duration // defaults to domain.DefaultTicketTTL
	Metrics   ports.MetricsReporter
	Logger    *slog.Logger
}

// NewAttestationRegistry creates a registry over the given schemes.
func NewAttestationRegistry(cfg AttestationRegistryConfig) (*AttestationRegistry, error) {
	if len(cfg.Schemes) == 0 {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("at least one attestation scheme is required"))
	}

	schemes := make(map[string]ports.AttestationScheme, len(cfg.Schemes))
	for _, s := range cfg.Schemes {
		if _, dup := schemes[s.Name()]; dup {
			return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("duplicate attestation scheme %q", s.Name()))
		}
		schemes[s.Name()] = s
	}

	ttl := cfg.TicketTTL
	if ttl == 0 {
		ttl = domain.DefaultTicketTTL
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AttestationRegistry{
		schemes:   schemes,
		ticketTTL: ttl,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		tickets:   make(map[string]*domain.Ticket),
	}, nil
}

// Attest validates proof under the named scheme and, on success, mints a
// single-use ticket bound to serviceName. The proof itself is never logged.
func (r *AttestationRegistry) Attest(serviceName, scheme string, proof ports.AttestationProof) (*domain.Ticket, error) {
	s, ok := r.schemes[scheme]
	if !ok {
		r.metrics.RecordAttestation(scheme, false)
		return nil, errors.NewDomainError(errors.ErrAttestationDenied, fmt.Errorf("unknown attestation scheme %q", scheme))
	}

	if err := s.Validate(serviceName, proof); err != nil {
		r.metrics.RecordAttestation(scheme, false)
		r.logger.Warn("attestation denied",
			"service_name", serviceName,
			"scheme", scheme)
		return nil, err
	}

	ticket := &domain.Ticket{
		ID:          uuid.NewString(),
		ServiceName: serviceName,
		ExpiresAt:   r.now().Add(r.ticketTTL),
	}

	r.mu.Lock()
	r.evictExpiredLocked()
	r.tickets[ticket.ID] = ticket
	r.mu.Unlock()

	r.metrics.RecordAttestation(scheme, true)
	r.logger.Info("attestation granted",
		"service_name", serviceName,
		"scheme", scheme,
		"ticket_expires_at", ticket.ExpiresAt)
	return ticket, nil
}

// Redeem consumes the ticket identified by ticketID for serviceName. A ticket
// redeems at most once; expiry, unknown IDs, and name mismatches all fail the
// same way so callers cannot probe which condition applied.
func (r *AttestationRegistry) Redeem(ticketID, serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	ticket, ok := r.tickets[ticketID]
	if !ok {
		r.metrics.RecordTicketRedemption("unknown")
		return errors.NewDomainError(errors.ErrTicketInvalid, fmt.Errorf("ticket is invalid or expired"))
	}

	// Consume unconditionally: a mismatched redemption attempt burns the
	// ticket rather than leaving it open for a second try.
	delete(r.tickets, ticketID)

	if ticket.IsExpired(r.now()) {
		r.metrics.RecordTicketRedemption("expired")
		return errors.NewDomainError(errors.ErrTicketInvalid, fmt.Errorf("ticket is invalid or expired"))
	}
	if ticket.ServiceName != serviceName {
		r.metrics.RecordTicketRedemption("mismatch")
		r.logger.Warn("ticket redeemed for wrong service",
			"ticket_service", ticket.ServiceName,
			"claimed_service", serviceName)
		return errors.NewDomainError(errors.ErrTicketInvalid, fmt.Errorf("ticket is invalid or expired"))
	}

	r.metrics.RecordTicketRedemption("ok")
	return nil
}

// Outstanding reports the number of live tickets. Intended for tests and
// diagnostics.
func (r *AttestationRegistry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictExpiredLocked()
	return len(r.tickets)
}

// evictExpiredLocked drops expired tickets. Callers hold r.mu.
func (r *AttestationRegistry) evictExpiredLocked() {
	now := r.now()
	for id, t := range r.tickets {
		if t.IsExpired(now) {
			delete(r.tickets, id)
		}
	}
}
