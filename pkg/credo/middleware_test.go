package credo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/credo/internal/adapters/secondary/validation"
	"github.com/sufield/credo/internal/core/services"
)

var testSigningSecret = []byte("0123456789abcdef0123456789abcdef")

func newIssuer(t *testing.T) *services.DelegationIssuer {
	t.Helper()
	issuer, err := services.NewDelegationIssuer(services.DelegationIssuerConfig{
		Secret:   testSigningSecret,
		IssuerID: spiffeid.RequireFromString("spiffe://example.org/user-service"),
	})
	require.NoError(t, err)
	return issuer
}

func delegationToken(t *testing.T, issuer *services.DelegationIssuer, userID, audience string, perms []string) string {
	t.Helper()
	token, _, err := issuer.IssueToken(userID, spiffeid.RequireFromString(audience), perms, time.Minute)
	require.NoError(t, err)
	return token
}

func newAuthFilter(t *testing.T, selfID string) func(http.Handler) http.Handler {
	t.Helper()
	local, err := validation.NewLocalValidator(testSigningSecret, nil)
	require.NoError(t, err)

	filter, err := AuthFilter(AuthFilterConfig{
		Validator: local,
		SelfID:    spiffeid.RequireFromString(selfID),
	})
	require.NoError(t, err)
	return filter
}

func TestAuthFilterValidToken(t *testing.T) {
	issuer := newIssuer(t)
	filter := newAuthFilter(t, "spiffe://example.org/photo-service")

	var seen *AuthContext
	handler := filter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AuthFromContext(r.Context())
	}))

	token := delegationToken(t, issuer, "user-1", "spiffe://example.org/photo-service", []string{"read:photos"})
	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.UserID)
	assert.True(t, seen.HasPermission("read:photos"))
	assert.Equal(t, token, seen.Token)
}

func TestAuthFilterMissingToken(t *testing.T) {
	filter := newAuthFilter(t, "spiffe://example.org/photo-service")
	handler := filter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestAuthFilterInvalidToken(t *testing.T) {
	filter := newAuthFilter(t, "spiffe://example.org/photo-service")
	handler := filter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/photos", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// A token minted for one workload must not authenticate against another.
func TestAuthFilterAudienceMismatch(t *testing.T) {
	issuer := newIssuer(t)
	filter := newAuthFilter(t, "spiffe://example.org/billing-service")
	handler := filter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	token := delegationToken(t, issuer, "user-1", "spiffe://example.org/photo-service", nil)
	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthFilterExemptPaths(t *testing.T) {
	filter := newAuthFilter(t, "spiffe://example.org/photo-service")

	var called bool
	handler := filter(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called, "exempt path bypasses authentication")
}

func TestRequirePermissions(t *testing.T) {
	issuer := newIssuer(t)
	filter := newAuthFilter(t, "spiffe://example.org/photo-service")

	handler := filter(RequirePermissions("write:photos", "admin:photos")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	// read-only token lacks both accepted scopes
	readToken := delegationToken(t, issuer, "user-1", "spiffe://example.org/photo-service", []string{"read:photos"})
	req := httptest.NewRequest(http.MethodPost, "/photos", nil)
	req.Header.Set("Authorization", "Bearer "+readToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	writeToken := delegationToken(t, issuer, "user-1", "spiffe://example.org/photo-service", []string{"write:photos"})
	req = httptest.NewRequest(http.MethodPost, "/photos", nil)
	req.Header.Set("Authorization", "Bearer "+writeToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// Concurrent requests must each observe exactly their own authentication
// context; nothing may leak across requests.
func TestAuthContextIsolation(t *testing.T) {
	issuer := newIssuer(t)
	filter := newAuthFilter(t, "spiffe://example.org/photo-service")

	handler := filter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, ok := AuthFromContext(r.Context())
		if !ok || auth.UserID != r.Header.Get("X-Expected-User") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	var wg sync.WaitGroup
	for _, user := range []string{"user-a", "user-b", "user-c"} {
		token := delegationToken(t, issuer, user, "spiffe://example.org/photo-service", nil)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(user, token string) {
				defer wg.Done()
				req := httptest.NewRequest(http.MethodGet, "/photos", nil)
				req.Header.Set("Authorization", "Bearer "+token)
				req.Header.Set("X-Expected-User", user)
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				assert.Equal(t, http.StatusOK, rec.Code)
			}(user, token)
		}
	}
	wg.Wait()
}

// The context is discarded with the request; a fresh context has no auth.
func TestAuthContextNotLeaked(t *testing.T) {
	_, ok := AuthFromContext(context.Background())
	assert.False(t, ok)
}
