// Package ports declares the interfaces between the trust core and its adapters.
package ports

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
)

// ErrCANotFound is returned by SecureKeyStore.LoadCA when no CA material has
// been persisted yet. The CA bootstraps a fresh key pair in that case.
var ErrCANotFound = errors.New("no CA material in key store")

// CABundle is the persisted CA material: the long-lived key pair and its
// self-issued certificate.
type CABundle struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
}

// SecureKeyStore abstracts persistent storage for CA private material.
// Variants: filesystem (development only), secret manager, HSM. Workload
// private keys never pass through this interface.
type SecureKeyStore interface {
	// LoadCA returns the stored CA bundle, ErrCANotFound when absent, or an
	// error when the store is unreadable or its contents corrupt.
	LoadCA(ctx context.Context) (*CABundle, error)

	// SaveCA persists the CA bundle. Called only by CA bootstrap.
	SaveCA(ctx context.Context, bundle *CABundle) error
}
