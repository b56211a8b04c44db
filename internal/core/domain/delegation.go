package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Delegation token defaults. TTLs are clamped to MaxDelegationTTL at issuance.
const (
	DefaultDelegationTTL = 15 * time.Minute
	MaxDelegationTTL     = time.Hour
	DefaultUserTokenTTL  = time.Hour
)

// DefaultPermissions is substituted when a delegation request names no
// permissions. Kept for backward compatibility with existing callers.
var DefaultPermissions = []string{"read:photos"}

// DelegationClaims is the claim set of a delegation token: a signed bearer
// object letting a workload act on behalf of a user, scoped by audience,
// permissions, and TTL.
type DelegationClaims struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Audience returns the single target-workload SPIFFE ID, or an empty string
// when absent.
func (c *DelegationClaims) Audience() string {
	if len(c.RegisteredClaims.Audience) == 0 {
		return ""
	}
	return c.RegisteredClaims.Audience[0]
}

// HasPermission reports whether the claim set grants the given scope.
func (c *DelegationClaims) HasPermission(scope string) bool {
	for _, p := range c.Permissions {
		if p == scope {
			return true
		}
	}
	return false
}

// UserClaims is the claim set of a user session token: same shape as a
// delegation token but with sub = user id and no audience. Used only to
// protect the delegation endpoint.
type UserClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}
