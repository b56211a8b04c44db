// Package credo is the public API of the credo trust core: the identity
// agent, SPIFFE-aware mTLS transport, and delegation-token middleware that
// workloads embed.
package credo

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/svid/x509svid"

	"github.com/sufield/credo/internal/adapters/secondary/workloadapi"
	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

const (
	// defaultRotationFraction is the point in the TTL at which rotation
	// begins.
	defaultRotationFraction = 0.8

	// refreshThreshold is the remaining-TTL fraction below which Current
	// refreshes synchronously before returning.
	refreshThreshold = 0.2

	// maxRetryBackoff caps the exponential backoff between failed fetches.
	maxRetryBackoff = 30 * time.Second

	initialRetryBackoff = time.Second

	// defaultBootstrapAttempts bounds Start's initial fetch retries.
	defaultBootstrapAttempts = 5
)

// IdentityAgent obtains an SVID from the Workload API, holds it in memory
// only, rotates it before expiry, and publishes it to the mTLS transport.
// The hot read path is a single atomic pointer load; refreshes serialize on
// an internal mutex.
//
// IdentityAgent implements x509svid.Source and x509bundle.Source, so
// go-spiffe TLS configs pick up rotated material on every handshake.
type IdentityAgent struct {
	client      *workloadapi.Client
	serviceName string
	scheme      string
	proof       map[string]any
	trustDomain spiffeid.TrustDomain
	metrics     ports.MetricsReporter
	logger      *slog.Logger

	current atomic.Pointer[domain.CertificateBundle]

	rotationFraction float64

	// retry and timer tuning, overridable in tests
	bootstrapAttempts int
	initialBackoff    time.Duration
	newTimer          func(time.Duration) *time.Timer

	mu      sync.Mutex // serializes refresh attempts
	started bool

	// retired holds bundles replaced by rotation. Concurrent readers may
	// still use them, so their keys are zeroed only once they expire.
	retired []*domain.CertificateBundle

	cancel context.CancelFunc
	done   chan struct{}
}

// AgentConfig configures an IdentityAgent.
type AgentConfig struct {
	// WorkloadAPIURL is the base URL of the Workload API.
	WorkloadAPIURL string

	// ServiceName is the workload's registered name.
	ServiceName string

	// TrustDomain the workload belongs to, e.g. "prod.example.com".
	TrustDomain string

	// AttestationToken is the static-secret proof. Other schemes supply
	// Proof directly.
	AttestationToken string

	// Scheme selects the attestation scheme; defaults to "static-secret".
	Scheme string

	// Proof overrides the proof payload entirely when set.
	Proof map[string]any

	// RotationFraction is the TTL fraction at which rotation begins.
	// Defaults to 0.8; must be strictly between 0 and 1 when set.
	RotationFraction float64

	Metrics ports.MetricsReporter
	Logger  *slog.Logger

	// client substitutes the Workload API client in tests.
	client *workloadapi.Client
}

// NewIdentityAgent validates cfg and creates an agent. Call Start to obtain
// the first bundle.
func NewIdentityAgent(cfg AgentConfig) (*IdentityAgent, error) {
	if cfg.ServiceName == "" {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("service name is required"))
	}
	td, err := spiffeid.TrustDomainFromString(cfg.TrustDomain)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("invalid trust domain: %w", err))
	}

	client := cfg.client
	if client == nil {
		client, err = workloadapi.NewClient(cfg.WorkloadAPIURL)
		if err != nil {
			return nil, err
		}
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "static-secret"
	}
	proof := cfg.Proof
	if proof == nil {
		if cfg.AttestationToken == "" {
			return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("attestation token is required for the static-secret scheme"))
		}
		proof = map[string]any{"token": cfg.AttestationToken}
	}

	fraction := cfg.RotationFraction
	if fraction == 0 {
		fraction = defaultRotationFraction
	}
	if fraction <= 0 || fraction >= 1 {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("rotation fraction must be between 0 and 1, got %v", cfg.RotationFraction))
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &IdentityAgent{
		client:            client,
		serviceName:       cfg.ServiceName,
		scheme:            scheme,
		proof:             proof,
		trustDomain:       td,
		metrics:           metrics,
		logger:            logger.With("service_name", cfg.ServiceName),
		rotationFraction:  fraction,
		bootstrapAttempts: defaultBootstrapAttempts,
		initialBackoff:    initialRetryBackoff,
		newTimer:          time.NewTimer,
		done:              make(chan struct{}),
	}, nil
}

// Start attests, fetches the first bundle, and arms the rotation loop. It
// blocks until a valid bundle is held or returns an error wrapping
// ErrBootstrap after a bounded number of attempts.
func (a *IdentityAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	backoff := a.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= a.bootstrapAttempts; attempt++ {
		bundle, err := a.fetch(ctx)
		if err == nil {
			a.install(bundle)
			a.started = true
			a.done = make(chan struct{})

			loopCtx, cancel := context.WithCancel(context.Background())
			a.cancel = cancel
			go a.rotationLoop(loopCtx)
			return nil
		}
		lastErr = err
		a.logger.Warn("bootstrap fetch failed",
			"attempt", attempt,
			"error", err)

		if attempt == a.bootstrapAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.NewDomainError(errors.ErrBootstrap, ctx.Err())
		case <-time.After(jitter(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
	return errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("no bundle after %d attempts: %w", a.bootstrapAttempts, lastErr))
}

// Current returns the held bundle. When none exists or less than 20% of the
// TTL remains, it refreshes synchronously first. It never returns an expired
// bundle; with no valid bundle it returns an error wrapping ErrNoIdentity.
func (a *IdentityAgent) Current() (*domain.CertificateBundle, error) {
	bundle := a.current.Load()
	if bundle != nil && !bundle.IsExpired() && !bundle.IsExpiringSoon(refreshThreshold) {
		return bundle, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Re-check: a concurrent caller may have refreshed while we waited.
	bundle = a.current.Load()
	if bundle != nil && !bundle.IsExpired() && !bundle.IsExpiringSoon(refreshThreshold) {
		return bundle, nil
	}

	if !a.started {
		return nil, errors.NewDomainError(errors.ErrNoIdentity, fmt.Errorf("identity agent is not running"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), workloadapi.DefaultTimeout)
	defer cancel()
	fresh, err := a.fetch(ctx)
	if err == nil {
		a.install(fresh)
		return fresh, nil
	}

	// Refresh failed: the stale bundle remains usable until expiry.
	if bundle != nil && !bundle.IsExpired() {
		return bundle, nil
	}
	return nil, errors.NewDomainError(errors.ErrNoIdentity, err)
}

// CurrentBundle implements ports.BundleSource.
func (a *IdentityAgent) CurrentBundle() (*domain.CertificateBundle, error) {
	return a.Current()
}

// GetX509SVID implements x509svid.Source.
func (a *IdentityAgent) GetX509SVID() (*x509svid.SVID, error) {
	bundle, err := a.Current()
	if err != nil {
		return nil, err
	}
	return &x509svid.SVID{
		ID:           bundle.SPIFFEID,
		Certificates: append([]*x509.Certificate{bundle.Leaf}, bundle.CAChain...),
		PrivateKey:   bundle.PrivateKey,
	}, nil
}

// GetX509BundleForTrustDomain implements x509bundle.Source.
func (a *IdentityAgent) GetX509BundleForTrustDomain(td spiffeid.TrustDomain) (*x509bundle.Bundle, error) {
	if td != a.trustDomain {
		return nil, fmt.Errorf("no trust bundle for trust domain %q", td)
	}
	bundle, err := a.Current()
	if err != nil {
		return nil, err
	}
	return x509bundle.FromX509Authorities(td, bundle.CAChain), nil
}

// TrustDomain returns the agent's trust domain.
func (a *IdentityAgent) TrustDomain() spiffeid.TrustDomain { return a.trustDomain }

// SPIFFEID returns the identity of the held bundle.
func (a *IdentityAgent) SPIFFEID() (spiffeid.ID, error) {
	bundle, err := a.Current()
	if err != nil {
		return spiffeid.ID{}, err
	}
	return bundle.SPIFFEID, nil
}

// Stop cancels rotation and zeroes every held private key. Best effort: key
// copies inside the TLS stack are unreachable.
func (a *IdentityAgent) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	a.cancel()
	done := a.done
	a.mu.Unlock()

	// The rotation loop may itself be waiting on a.mu, so the lock is
	// released before draining it.
	<-done

	a.mu.Lock()
	defer a.mu.Unlock()
	if bundle := a.current.Swap(nil); bundle != nil {
		bundle.Zero()
	}
	for _, b := range a.retired {
		b.Zero()
	}
	a.retired = nil
	a.logger.Info("identity agent stopped")
}

// fetch runs the attest-then-fetch exchange. Callers hold a.mu.
func (a *IdentityAgent) fetch(ctx context.Context) (*domain.CertificateBundle, error) {
	start := time.Now()
	bundle, err := a.client.ObtainBundle(ctx, a.serviceName, a.scheme, a.proof)
	if err != nil {
		a.metrics.RecordRotation("failure", time.Since(start))
		return nil, err
	}
	a.metrics.RecordRotation("success", time.Since(start))
	return bundle, nil
}

// install publishes a fresh bundle and retires the one it replaces. The old
// bundle stays intact: a handshake that loaded it moments earlier must still
// be able to sign with it. Callers hold a.mu.
func (a *IdentityAgent) install(bundle *domain.CertificateBundle) {
	if old := a.current.Swap(bundle); old != nil {
		a.retired = append(a.retired, old)
	}
	a.sweepRetired()
	a.metrics.SetBundleExpiry(a.serviceName, bundle.ExpiresAt())
	a.logger.Info("identity bundle installed",
		"spiffe_id", bundle.SPIFFEID.String(),
		"expires_at", bundle.ExpiresAt())
}

// sweepRetired zeroes retired bundles whose certificates have expired; no
// handshake can use those anymore. Callers hold a.mu.
func (a *IdentityAgent) sweepRetired() {
	kept := a.retired[:0]
	for _, b := range a.retired {
		if b.IsExpired() {
			b.Zero()
		} else {
			kept = append(kept, b)
		}
	}
	a.retired = kept
}

// nextRotation is the instant the rotation loop re-arms for: the configured
// fraction of the bundle's lifetime past issuance.
func (a *IdentityAgent) nextRotation(bundle *domain.CertificateBundle) time.Time {
	return bundle.IssuedAt.Add(time.Duration(a.rotationFraction * float64(bundle.TTL)))
}

// rotationLoop re-fetches at the rotation fraction of each bundle's TTL,
// backing off on failure with a 30 s cap. The stale bundle serves until it
// expires.
func (a *IdentityAgent) rotationLoop(ctx context.Context) {
	defer close(a.done)

	for {
		bundle := a.current.Load()
		if bundle == nil {
			return
		}

		timer := a.newTimer(time.Until(a.nextRotation(bundle)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff := a.initialBackoff
		for {
			a.mu.Lock()
			if ctx.Err() != nil {
				a.mu.Unlock()
				return
			}
			fresh, err := a.fetch(ctx)
			if err == nil {
				a.install(fresh)
				a.mu.Unlock()
				break
			}
			a.mu.Unlock()

			a.logger.Warn("rotation fetch failed", "error", err)
			held := a.current.Load()
			if held == nil || held.IsExpired() {
				a.logger.Error("identity expired before rotation succeeded")
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff)
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxRetryBackoff {
		return maxRetryBackoff
	}
	return next
}

// jitter spreads retries by up to 10% to avoid thundering herds.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}
