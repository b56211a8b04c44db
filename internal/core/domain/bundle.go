package domain

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// CertificateBundle holds a workload's SVID: the leaf certificate, its
// private key, and the CA chain. The private key lives only in memory; the
// bundle must never be written to durable storage.
type CertificateBundle struct {
	// Leaf is the workload's X.509 SVID certificate.
	Leaf *x509.Certificate

	// PrivateKey is the key matching Leaf's public key. Ephemeral, RAM only.
	PrivateKey crypto.Signer

	// CAChain is the ordered issuer chain (leaf's issuer first).
	CAChain []*x509.Certificate

	// SPIFFEID is the identity encoded in Leaf's URI SAN.
	SPIFFEID spiffeid.ID

	// IssuedAt is when the bundle was obtained, used for rotation scheduling.
	IssuedAt time.Time

	// TTL is the certificate's validity window at issuance time.
	TTL time.Duration
}

// NewCertificateBundle creates a validated bundle from parsed materials.
func NewCertificateBundle(leaf *x509.Certificate, key crypto.Signer, caChain []*x509.Certificate) (*CertificateBundle, error) {
	if leaf == nil {
		return nil, fmt.Errorf("leaf certificate cannot be nil")
	}
	if key == nil {
		return nil, fmt.Errorf("private key cannot be nil")
	}

	id, err := IDFromCertificate(leaf)
	if err != nil {
		return nil, fmt.Errorf("leaf carries no usable SPIFFE ID: %w", err)
	}

	b := &CertificateBundle{
		Leaf:       leaf,
		PrivateKey: key,
		CAChain:    caChain,
		SPIFFEID:   id,
		IssuedAt:   time.Now(),
		TTL:        leaf.NotAfter.Sub(leaf.NotBefore),
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks structural integrity: key/cert match and expiry window.
func (b *CertificateBundle) Validate() error {
	if b == nil || b.Leaf == nil {
		return fmt.Errorf("certificate bundle is nil")
	}
	if b.PrivateKey == nil {
		return fmt.Errorf("private key cannot be nil")
	}

	if err := verifyKeyMatch(b.Leaf, b.PrivateKey); err != nil {
		return fmt.Errorf("private key does not match certificate: %w", err)
	}

	now := time.Now()
	if now.Before(b.Leaf.NotBefore) {
		return fmt.Errorf("certificate is not yet valid (NotBefore: %v)", b.Leaf.NotBefore)
	}
	if now.After(b.Leaf.NotAfter) {
		return fmt.Errorf("certificate has expired (NotAfter: %v)", b.Leaf.NotAfter)
	}

	return nil
}

// VerifyAgainstChain verifies the leaf cryptographically against the bundle's
// own CA chain.
func (b *CertificateBundle) VerifyAgainstChain() error {
	if len(b.CAChain) == 0 {
		return fmt.Errorf("bundle has no CA chain")
	}

	roots := x509.NewCertPool()
	for _, ca := range b.CAChain {
		roots.AddCert(ca)
	}

	_, err := b.Leaf.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("leaf does not verify against CA chain: %w", err)
	}
	return nil
}

// IsExpired returns true if the leaf certificate has expired.
func (b *CertificateBundle) IsExpired() bool {
	if b == nil || b.Leaf == nil {
		return true
	}
	return time.Now().After(b.Leaf.NotAfter)
}

// ExpiresAt returns the leaf's expiration time.
func (b *CertificateBundle) ExpiresAt() time.Time {
	if b == nil || b.Leaf == nil {
		return time.Time{}
	}
	return b.Leaf.NotAfter
}

// IsExpiringSoon reports whether less than the given fraction of the TTL
// remains. The identity agent refreshes when under 20% remains.
func (b *CertificateBundle) IsExpiringSoon(fraction float64) bool {
	if b == nil || b.Leaf == nil {
		return true
	}
	remaining := time.Until(b.Leaf.NotAfter)
	return remaining < time.Duration(fraction*float64(b.TTL))
}

// Zero overwrites the RSA private key material in place. Best effort: copies
// taken by the TLS stack are out of reach.
func (b *CertificateBundle) Zero() {
	if b == nil || b.PrivateKey == nil {
		return
	}
	rsaKey, ok := b.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return
	}
	if rsaKey.D != nil {
		rsaKey.D.SetInt64(0)
	}
	for _, p := range rsaKey.Primes {
		if p != nil {
			p.SetInt64(0)
		}
	}
	rsaKey.Precomputed = rsa.PrecomputedValues{}
}

// IDFromCertificate extracts the SPIFFE ID from a certificate's URI SANs.
func IDFromCertificate(cert *x509.Certificate) (spiffeid.ID, error) {
	if cert == nil {
		return spiffeid.ID{}, fmt.Errorf("certificate is nil")
	}
	for _, uri := range cert.URIs {
		if uri.Scheme == "spiffe" {
			return spiffeid.FromURI(uri)
		}
	}
	return spiffeid.ID{}, fmt.Errorf("no SPIFFE ID found in certificate URI SANs")
}

// verifyKeyMatch verifies that the private key's public half equals the
// certificate's public key.
func verifyKeyMatch(cert *x509.Certificate, key crypto.Signer) error {
	certPub, ok := cert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return fmt.Errorf("unsupported certificate public key type %T", cert.PublicKey)
	}
	if !certPub.Equal(key.Public()) {
		return fmt.Errorf("public key mismatch")
	}
	return nil
}
