package ports

import (
	"context"
	"time"
)

// TokenValidation is the outcome of checking a delegation token.
type TokenValidation struct {
	Valid       bool
	UserID      string
	Permissions []string
	Audience    string
	ExpiresAt   time.Time

	// Error carries a client-safe reason when Valid is false.
	Error string
}

// DelegationValidator verifies a delegation token at the point of use.
// Implementations: local (shared signing secret, no network I/O) and remote
// (POST to the issuer's validate endpoint).
type DelegationValidator interface {
	Validate(ctx context.Context, token string) (*TokenValidation, error)
}
