package ports

import (
	"github.com/sufield/credo/internal/core/domain"
)

// BundleSource surfaces a workload's current identity bundle. The mTLS
// transport reads through this accessor on every handshake so rotation takes
// effect without restarting connections.
type BundleSource interface {
	// CurrentBundle returns a valid, unexpired bundle or an error wrapping
	// errors.ErrNoIdentity.
	CurrentBundle() (*domain.CertificateBundle, error)
}
