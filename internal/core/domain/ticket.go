package domain

import "time"

// DefaultTicketTTL is how long an attestation ticket may be redeemed.
const DefaultTicketTTL = 5 * time.Minute

// Ticket binds a successfully attested workload name to a certificate-fetch
// right. Opaque to the holder; keyed by a random UUID in the registry.
type Ticket struct {
	ID          string
	ServiceName string
	ExpiresAt   time.Time
}

// IsExpired reports whether the ticket may no longer be redeemed.
func (t Ticket) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
