package credo

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"

	"github.com/sufield/credo/internal/core/errors"
)

// Peer is the authenticated identity of the other end of an mTLS connection.
type Peer struct {
	// ID is the verified SPIFFE ID from the peer's certificate.
	ID spiffeid.ID

	// ExpiresAt is when the peer's certificate expires.
	ExpiresAt time.Time
}

// NewClientTLSConfig builds a TLS config for outbound mTLS. The agent is
// consulted on every handshake, so certificate rotation takes effect without
// rebuilding the client. Servers must be members of the agent's trust domain.
func NewClientTLSConfig(agent *IdentityAgent) (*tls.Config, error) {
	if agent == nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("identity agent is required"))
	}
	cfg := tlsconfig.MTLSClientConfig(agent, agent, tlsconfig.AuthorizeMemberOf(agent.TrustDomain()))
	cfg.MinVersion = tls.VersionTLS13
	return cfg, nil
}

// NewHTTPClient builds an *http.Client that authenticates with the workload's
// current SVID and verifies servers against the CA chain from the same bundle.
func NewHTTPClient(agent *IdentityAgent) (*http.Client, error) {
	tlsCfg, err := NewClientTLSConfig(agent)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsCfg,
			// Short idle window so rotated certificates reach servers that
			// re-verify per connection.
			IdleConnTimeout: 90 * time.Second,
		},
	}, nil
}

// NewServerTLSConfig builds a TLS config for an mTLS listener. Client
// certificates are required and verified against the agent's CA chain;
// handshakes from outside the trust domain are rejected.
func NewServerTLSConfig(agent *IdentityAgent) (*tls.Config, error) {
	if agent == nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("identity agent is required"))
	}
	cfg := tlsconfig.MTLSServerConfig(agent, agent, tlsconfig.AuthorizeMemberOf(agent.TrustDomain()))
	cfg.MinVersion = tls.VersionTLS13
	return cfg, nil
}

// NewServer builds an *http.Server serving handler over mTLS on addr. Start
// it with ListenAndServeTLS("", ""); certificates come from the agent.
func NewServer(agent *IdentityAgent, addr string, handler http.Handler) (*http.Server, error) {
	tlsCfg, err := NewServerTLSConfig(agent)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              addr,
		Handler:           PeerMiddleware(agent.TrustDomain())(handler),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// PeerMiddleware extracts the client's SPIFFE ID from the verified TLS state
// and attaches it to the request context. Requests without a parseable peer
// identity are rejected; the TLS handshake has already verified the chain, so
// this guards only against misconfigured plain-HTTP mounting.
func PeerMiddleware(trustDomain spiffeid.TrustDomain) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := PeerFromRequest(r, trustDomain)
			if !ok {
				http.Error(w, `{"error":"client identity required"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPeer(r.Context(), peer)))
		})
	}
}

// PeerFromRequest reads the authenticated peer identity from an mTLS request.
// The URI SAN is authoritative; for legacy certificates without one, the
// Subject common name is interpreted as a service name inside trustDomain.
// Only trust this result behind a TLS config from NewServerTLSConfig.
func PeerFromRequest(r *http.Request, trustDomain spiffeid.TrustDomain) (Peer, bool) {
	if r == nil || r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return Peer{}, false
	}
	leaf := r.TLS.PeerCertificates[0]

	id, err := spiffetls.PeerIDFromConnectionState(*r.TLS)
	if err != nil {
		// Legacy fallback: certificates minted before URI SANs carry the
		// service name in the Subject DN.
		if leaf.Subject.CommonName == "" {
			return Peer{}, false
		}
		id, err = spiffeid.FromPath(trustDomain, "/"+leaf.Subject.CommonName)
		if err != nil {
			return Peer{}, false
		}
	}

	if id.TrustDomain() != trustDomain {
		return Peer{}, false
	}
	return Peer{ID: id, ExpiresAt: leaf.NotAfter}, true
}

type peerCtxKey struct{}

// WithPeer attaches the authenticated peer to the context.
func WithPeer(ctx context.Context, p Peer) context.Context {
	return context.WithValue(ctx, peerCtxKey{}, p)
}

// PeerFromContext retrieves the authenticated peer stored by PeerMiddleware.
func PeerFromContext(ctx context.Context) (Peer, bool) {
	p, ok := ctx.Value(peerCtxKey{}).(Peer)
	return p, ok
}
