package credo

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEchoServer runs an mTLS server that answers with the caller's SPIFFE ID.
func startEchoServer(t *testing.T, agent *IdentityAgent) string {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, ok := PeerFromContext(r.Context())
		if !ok {
			http.Error(w, "no peer", http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, peer.ID.String())
	})

	srv, err := NewServer(agent, "127.0.0.1:0", handler)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", srv.Addr)
	require.NoError(t, err)

	go func() { _ = srv.ServeTLS(ln, "", "") }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "https://" + ln.Addr().String()
}

func TestMutualTLSRoundTrip(t *testing.T) {
	ts := newWorkloadAPI(t, time.Hour)

	serverAgent, err := NewIdentityAgent(AgentConfig{
		WorkloadAPIURL:   ts.URL,
		ServiceName:      "echo-server",
		TrustDomain:      "example.org",
		AttestationToken: "dev-token-echo-server-67890",
	})
	require.NoError(t, err)
	require.NoError(t, serverAgent.Start(context.Background()))
	defer serverAgent.Stop()

	clientAgent := newAgent(t, ts.URL)
	require.NoError(t, clientAgent.Start(context.Background()))
	defer clientAgent.Stop()

	url := startEchoServer(t, serverAgent)

	client, err := NewHTTPClient(clientAgent)
	require.NoError(t, err)

	resp, err := client.Get(url + "/whoami")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "spiffe://example.org/photo-service", string(body),
		"server observes the client's SPIFFE ID")
}

// Handshakes pull certificates from the agents, so rotated material is picked
// up without restarting either side.
func TestMutualTLSSurvivesRotation(t *testing.T) {
	ts := newWorkloadAPI(t, 5*time.Second)

	serverAgent, err := NewIdentityAgent(AgentConfig{
		WorkloadAPIURL:   ts.URL,
		ServiceName:      "echo-server",
		TrustDomain:      "example.org",
		AttestationToken: "dev-token-echo-server-67890",
	})
	require.NoError(t, err)
	require.NoError(t, serverAgent.Start(context.Background()))
	defer serverAgent.Stop()

	clientAgent := newAgent(t, ts.URL)
	require.NoError(t, clientAgent.Start(context.Background()))
	defer clientAgent.Stop()

	url := startEchoServer(t, serverAgent)
	client, err := NewHTTPClient(clientAgent)
	require.NoError(t, err)

	resp, err := client.Get(url + "/whoami")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Let the first certificates reach the final 20% of their lifetime, then
	// force a fresh handshake.
	time.Sleep(4200 * time.Millisecond)
	client.CloseIdleConnections()

	resp, err = client.Get(url + "/whoami")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMutualTLSRejectsPlainClient(t *testing.T) {
	ts := newWorkloadAPI(t, time.Hour)

	serverAgent, err := NewIdentityAgent(AgentConfig{
		WorkloadAPIURL:   ts.URL,
		ServiceName:      "echo-server",
		TrustDomain:      "example.org",
		AttestationToken: "dev-token-echo-server-67890",
	})
	require.NoError(t, err)
	require.NoError(t, serverAgent.Start(context.Background()))
	defer serverAgent.Stop()

	url := startEchoServer(t, serverAgent)

	// A client without a certificate must fail the handshake.
	plain := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // negative test
		},
		Timeout: 5 * time.Second,
	}
	_, err = plain.Get(url + "/whoami")
	assert.Error(t, err)
}

// mtlsRequest fakes the post-handshake state PeerFromRequest inspects.
func mtlsRequest(cert *x509.Certificate) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}
	return req
}

func TestPeerFromRequestURISAN(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	id := spiffeid.RequireFromString("spiffe://example.org/photo-service")
	notAfter := time.Now().Add(time.Hour)

	peer, ok := PeerFromRequest(mtlsRequest(&x509.Certificate{
		URIs:     []*url.URL{id.URL()},
		NotAfter: notAfter,
	}), td)
	require.True(t, ok)
	assert.Equal(t, id, peer.ID)
	assert.Equal(t, notAfter, peer.ExpiresAt)
}

func TestPeerFromRequestCommonNameFallback(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")

	peer, ok := PeerFromRequest(mtlsRequest(&x509.Certificate{
		Subject:  pkix.Name{CommonName: "legacy-service"},
		NotAfter: time.Now().Add(time.Hour),
	}), td)
	require.True(t, ok)
	assert.Equal(t, "spiffe://example.org/legacy-service", peer.ID.String())
}

func TestPeerFromRequestForeignTrustDomain(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")
	foreign := spiffeid.RequireFromString("spiffe://other.org/photo-service")

	_, ok := PeerFromRequest(mtlsRequest(&x509.Certificate{
		URIs:     []*url.URL{foreign.URL()},
		NotAfter: time.Now().Add(time.Hour),
	}), td)
	assert.False(t, ok)
}

func TestPeerFromRequestNoIdentity(t *testing.T) {
	td := spiffeid.RequireTrustDomainFromString("example.org")

	// Plain HTTP request, no TLS state at all.
	_, ok := PeerFromRequest(httptest.NewRequest(http.MethodGet, "/", nil), td)
	assert.False(t, ok)

	// Verified chain but neither a URI SAN nor a Subject CN.
	_, ok = PeerFromRequest(mtlsRequest(&x509.Certificate{
		NotAfter: time.Now().Add(time.Hour),
	}), td)
	assert.False(t, ok)
}
