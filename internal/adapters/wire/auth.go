package wire

import "time"

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
}

// RegisterResponse acknowledges account creation.
type RegisterResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse returns a user session token as a bearer credential.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// DelegateRequest is the body of POST /auth/delegate. TargetService is the
// audience workload's name inside the issuer's trust domain; UserID defaults
// to the session user and must match it when present.
type DelegateRequest struct {
	UserID        string   `json:"userId,omitempty"`
	TargetService string   `json:"targetService"`
	Permissions   []string `json:"permissions,omitempty"`
	TTLSeconds    int64    `json:"ttlSeconds,omitempty"`
}

// DelegateResponse returns a signed delegation token and its lifetime in
// seconds.
type DelegateResponse struct {
	DelegationToken string `json:"delegation_token"`
	ExpiresIn       int64  `json:"expires_in"`
}

// ValidateRequest is the body of POST /auth/validate. The token travels in
// the body, never in a query string.
type ValidateRequest struct {
	Token string `json:"token"`
}

// TokenInfo describes a valid delegation token's claims. Audience is an
// array on the wire, as JWT aud claims are.
type TokenInfo struct {
	UserID      string    `json:"user_id"`
	Permissions []string  `json:"permissions"`
	Audience    []string  `json:"audience"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ValidateResponse reports the outcome of a delegation token check. Token is
// present only when Valid.
type ValidateResponse struct {
	Valid bool       `json:"valid"`
	Token *TokenInfo `json:"token,omitempty"`
	Error string     `json:"error,omitempty"`
}
