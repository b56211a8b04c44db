package credo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

// AuthContext carries the authenticated delegation for one request. It is
// bound to the request's context.Context and discarded when the handler
// returns; no authentication state outlives the request or leaks across
// goroutines.
type AuthContext struct {
	// UserID is the delegating user.
	UserID string

	// Permissions granted by the token.
	Permissions []string

	// Token is the raw bearer token, for onward delegation calls.
	Token string
}

// HasPermission reports whether the delegation grants the given scope.
func (a *AuthContext) HasPermission(scope string) bool {
	for _, p := range a.Permissions {
		if p == scope {
			return true
		}
	}
	return false
}

// defaultExemptPaths skip authentication: liveness probes and the root.
var defaultExemptPaths = []string{"/", "/health", "/healthz", "/ready", "/readyz"}

// AuthFilterConfig configures the delegation-token authentication filter.
type AuthFilterConfig struct {
	// Validator checks bearer tokens. Required.
	Validator ports.DelegationValidator

	// SelfID is the workload's own SPIFFE ID. When set, tokens whose
	// audience differs are rejected; replaying a token minted for another
	// workload fails here.
	SelfID spiffeid.ID

	// ExemptPaths are exact request paths forwarded without authentication.
	// Defaults to health, readiness, and root.
	ExemptPaths []string

	Logger *slog.Logger
}

// AuthFilter returns middleware enforcing delegation-token authentication on
// every non-exempt request: Bearer header, validator verdict, audience match,
// then an AuthContext in the request context.
func AuthFilter(cfg AuthFilterConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Validator == nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("delegation validator is required"))
	}
	exempt := cfg.ExemptPaths
	if exempt == nil {
		exempt = defaultExemptPaths
	}
	exemptSet := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		exemptSet[p] = struct{}{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptSet[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			result, err := cfg.Validator.Validate(r.Context(), token)
			if err != nil {
				logger.Warn("token validation unavailable", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "token validation failed")
				return
			}
			if !result.Valid {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			if !cfg.SelfID.IsZero() && result.Audience != cfg.SelfID.String() {
				logger.Warn("token audience mismatch",
					"audience", result.Audience,
					"self", cfg.SelfID.String())
				writeAuthError(w, http.StatusUnauthorized, "token not intended for this service")
				return
			}

			auth := &AuthContext{
				UserID:      result.UserID,
				Permissions: result.Permissions,
				Token:       token,
			}
			next.ServeHTTP(w, r.WithContext(withAuth(r.Context(), auth)))
		})
	}, nil
}

// RequirePermissions returns middleware passing only requests whose
// AuthContext holds at least one of the given scopes.
func RequirePermissions(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth, ok := AuthFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			for _, scope := range scopes {
				if auth.HasPermission(scope) {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeAuthError(w, http.StatusForbidden, "insufficient permissions")
		})
	}
}

type authCtxKey struct{}

func withAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authCtxKey{}, auth)
}

// AuthFromContext retrieves the request's AuthContext.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	auth, ok := ctx.Value(authCtxKey{}).(*AuthContext)
	return auth, ok
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) || len(header) == len(prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
