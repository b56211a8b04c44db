// Package services provides the business logic of the credo trust core.
package services

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

const (
	caKeyBits      = 2048
	caCertValidity = 365 * 24 * time.Hour

	// DefaultLeafTTL is the validity window of every issued workload
	// certificate. Equal across all issuances.
	DefaultLeafTTL = time.Hour
)

// CertificateAuthority owns the root key pair and signs workload leaf
// certificates. The private key is reachable only through IssueCertificate,
// under an internal mutex.
type CertificateAuthority struct {
	store       ports.SecureKeyStore
	trustDomain spiffeid.TrustDomain
	leafTTL     time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	caCert *x509.Certificate
	caKey  crypto.Signer
}

// CertificateAuthorityConfig configures a CertificateAuthority.
type CertificateAuthorityConfig struct {
	Store       ports.SecureKeyStore
	TrustDomain spiffeid.TrustDomain
	LeafTTL     time.Duration // defaults to DefaultLeafTTL
	Logger      *slog.Logger
}

// NewCertificateAuthority creates an uninitialized CA. Call LoadOrCreate
// before issuing.
func NewCertificateAuthority(cfg CertificateAuthorityConfig) (*CertificateAuthority, error) {
	if cfg.Store == nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("key store is required"))
	}
	if cfg.TrustDomain.IsZero() {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("trust domain is required"))
	}

	leafTTL := cfg.LeafTTL
	if leafTTL == 0 {
		leafTTL = DefaultLeafTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CertificateAuthority{
		store:       cfg.Store,
		trustDomain: cfg.TrustDomain,
		leafTTL:     leafTTL,
		logger:      logger,
	}, nil
}

// LoadOrCreate loads the persisted CA bundle, or generates and persists a
// fresh one when the store is empty. Idempotent.
func (ca *CertificateAuthority) LoadOrCreate(ctx context.Context) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.caCert != nil {
		return nil
	}

	bundle, err := ca.store.LoadCA(ctx)
	switch {
	case err == nil:
		ca.caCert = bundle.Certificate
		ca.caKey = bundle.PrivateKey
		ca.logger.Info("loaded existing CA",
			"trust_domain", ca.trustDomain.String(),
			"not_after", bundle.Certificate.NotAfter)
		return nil
	case stderrors.Is(err, ports.ErrCANotFound):
		// First boot: fall through to generation.
	default:
		return errors.NewDomainError(errors.ErrConfig, fmt.Errorf("key store unreadable: %w", err))
	}

	cert, key, err := ca.generate()
	if err != nil {
		return errors.NewDomainError(errors.ErrConfig, err)
	}
	if err := ca.store.SaveCA(ctx, &ports.CABundle{Certificate: cert, PrivateKey: key}); err != nil {
		return errors.NewDomainError(errors.ErrConfig, fmt.Errorf("failed to persist CA: %w", err))
	}

	ca.caCert = cert
	ca.caKey = key
	ca.logger.Info("created new CA",
		"trust_domain", ca.trustDomain.String(),
		"serial", cert.SerialNumber.String(),
		"not_after", cert.NotAfter)
	return nil
}

// IssueCertificate builds and signs a one-hour workload leaf certificate for
// serviceName, binding its SPIFFE ID as a URI SAN. Pure function of its
// inputs plus CA state.
func (ca *CertificateAuthority) IssueCertificate(serviceName string, publicKey crypto.PublicKey) (*x509.Certificate, error) {
	identity, err := domain.NewServiceIdentity(serviceName, ca.trustDomain.String())
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrConfig, err)
	}
	spiffeID, err := identity.SPIFFEID()
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrConfig, err)
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()

	if ca.caCert == nil || ca.caKey == nil {
		return nil, errors.NewDomainError(errors.ErrSigning, fmt.Errorf("CA is not initialized"))
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrSigning, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   identity.Name,
			Organization: []string{ca.trustDomain.String()},
		},
		NotBefore:             now,
		NotAfter:              now.Add(ca.leafTTL),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		URIs:                  []*url.URL{spiffeID.URL()},
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.caCert, publicKey, ca.caKey)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrSigning, fmt.Errorf("failed to sign certificate for %s: %w", serviceName, err))
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrSigning, fmt.Errorf("failed to parse issued certificate: %w", err))
	}

	ca.logger.Info("issued certificate",
		"service_name", serviceName,
		"spiffe_id", spiffeID.String(),
		"serial", cert.SerialNumber.String(),
		"not_after", cert.NotAfter)
	return cert, nil
}

// CACertificate returns the CA's self-issued certificate.
func (ca *CertificateAuthority) CACertificate() *x509.Certificate {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	return ca.caCert
}

// TrustDomain returns the trust domain this CA issues for.
func (ca *CertificateAuthority) TrustDomain() spiffeid.TrustDomain {
	return ca.trustDomain
}

// LeafTTL returns the validity window applied to issued certificates.
func (ca *CertificateAuthority) LeafTTL() time.Duration {
	return ca.leafTTL
}

// generate creates the CA key pair and self-signed certificate.
func (ca *CertificateAuthority) generate() (*x509.Certificate, crypto.Signer, error) {
	key, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate CA key pair: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "SPIFFE CA",
			Organization: []string{ca.trustDomain.String()},
		},
		NotBefore:             now,
		NotAfter:              now.Add(caCertValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to self-sign CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	return cert, key, nil
}

// randomSerial draws a uniform non-zero 63-bit serial. Uniqueness is
// best-effort; collisions are tolerable inside the one-hour leaf window.
func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 63)
	for {
		serial, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to generate serial number: %w", err)
		}
		if serial.Sign() > 0 {
			return serial, nil
		}
	}
}
