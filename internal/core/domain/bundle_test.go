package domain

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCertificateBundle(t *testing.T) {
	ca := newTestCA(t)
	leaf, key := ca.issueLeaf(t, "spiffe://example.org/photo-service", time.Hour)

	bundle, err := NewCertificateBundle(leaf, key, []*x509.Certificate{ca.cert})
	require.NoError(t, err)

	assert.Equal(t, "spiffe://example.org/photo-service", bundle.SPIFFEID.String())
	assert.False(t, bundle.IsExpired())
	assert.NoError(t, bundle.VerifyAgainstChain())
}

func TestNewCertificateBundleRejectsKeyMismatch(t *testing.T) {
	ca := newTestCA(t)
	leaf, _ := ca.issueLeaf(t, "spiffe://example.org/photo-service", time.Hour)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = NewCertificateBundle(leaf, otherKey, []*x509.Certificate{ca.cert})
	assert.Error(t, err)
}

func TestNewCertificateBundleRequiresSPIFFEID(t *testing.T) {
	cert := mustSelfSigned(t, "no-uri-san")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	_, err = NewCertificateBundle(cert, key, nil)
	assert.Error(t, err)
}

func TestIsExpiringSoon(t *testing.T) {
	ca := newTestCA(t)

	fresh, freshKey := ca.issueLeaf(t, "spiffe://example.org/svc", time.Hour)
	bundle, err := NewCertificateBundle(fresh, freshKey, []*x509.Certificate{ca.cert})
	require.NoError(t, err)
	assert.False(t, bundle.IsExpiringSoon(0.2))

	// A leaf with only minutes left is inside the final 20% of a 1h TTL.
	short, shortKey := ca.issueLeaf(t, "spiffe://example.org/svc", 5*time.Minute)
	shortBundle, err := NewCertificateBundle(short, shortKey, []*x509.Certificate{ca.cert})
	require.NoError(t, err)
	shortBundle.TTL = time.Hour
	assert.True(t, shortBundle.IsExpiringSoon(0.2))
}

func TestVerifyAgainstChainRejectsForeignCA(t *testing.T) {
	ca := newTestCA(t)
	foreign := newTestCA(t)
	leaf, key := ca.issueLeaf(t, "spiffe://example.org/svc", time.Hour)

	bundle, err := NewCertificateBundle(leaf, key, []*x509.Certificate{ca.cert})
	require.NoError(t, err)

	bundle.CAChain = []*x509.Certificate{foreign.cert}
	assert.Error(t, bundle.VerifyAgainstChain())
}

func TestZeroWipesKeyMaterial(t *testing.T) {
	ca := newTestCA(t)
	leaf, key := ca.issueLeaf(t, "spiffe://example.org/svc", time.Hour)

	bundle, err := NewCertificateBundle(leaf, key, []*x509.Certificate{ca.cert})
	require.NoError(t, err)

	bundle.Zero()
	assert.Zero(t, key.D.Sign())
	for _, p := range key.Primes {
		assert.Zero(t, p.Sign())
	}
}
