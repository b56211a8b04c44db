// Package workloadapi provides the HTTP client workloads use to attest and
// fetch certificate bundles from the Workload API.
package workloadapi

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sufield/credo/internal/adapters/wire"
	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
)

// DefaultTimeout bounds each Workload API round trip.
const DefaultTimeout = 10 * time.Second

// Client calls the Workload API over plain HTTP on a trusted local network.
// The certificates response carries a private key, so responses are never
// logged and bodies are decoded straight into memory.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption adjusts a Client.
type ClientOption func(*Client)

// WithHTTPClient substitutes the underlying *http.Client. Mainly for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the Workload API at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("workload API URL is required"))
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("invalid workload API URL: %w", err))
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Attest submits proof for serviceName and returns the attestation ticket.
func (c *Client) Attest(ctx context.Context, serviceName, scheme string, proof map[string]any) (string, error) {
	body, err := json.Marshal(wire.AttestRequest{
		ServiceName:      serviceName,
		Scheme:           scheme,
		AttestationProof: proof,
	})
	if err != nil {
		return "", errors.NewDomainError(errors.ErrInternal, fmt.Errorf("failed to encode attestation request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workload/v1/attest", bytes.NewReader(body))
	if err != nil {
		return "", errors.NewDomainError(errors.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("attestation request failed: %w", err))
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return "", errors.NewDomainError(errors.ErrAttestationDenied, fmt.Errorf("workload API rejected attestation"))
	default:
		return "", errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("attestation returned status %d", resp.StatusCode))
	}

	var out wire.AttestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("malformed attestation response: %w", err))
	}
	if out.Token == "" {
		return "", errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("attestation response carried no ticket"))
	}
	return out.Token, nil
}

// FetchBundle redeems a ticket for serviceName and returns the parsed
// certificate bundle. The private key in the response exists only in the
// returned bundle.
func (c *Client) FetchBundle(ctx context.Context, serviceName, ticket string) (*domain.CertificateBundle, error) {
	endpoint := fmt.Sprintf("%s/workload/v1/certificates?service_name=%s", c.baseURL, url.QueryEscape(serviceName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrInternal, err)
	}
	req.Header.Set("Authorization", "Bearer "+ticket)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("certificate fetch failed: %w", err))
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errors.NewDomainError(errors.ErrTicketInvalid, fmt.Errorf("workload API rejected the ticket"))
	default:
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("certificate fetch returned status %d", resp.StatusCode))
	}

	var payload wire.CertificateBundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("malformed certificate bundle: %w", err))
	}
	return parseBundle(&payload)
}

// ObtainBundle runs the full attest-then-fetch exchange.
func (c *Client) ObtainBundle(ctx context.Context, serviceName, scheme string, proof map[string]any) (*domain.CertificateBundle, error) {
	ticket, err := c.Attest(ctx, serviceName, scheme, proof)
	if err != nil {
		return nil, err
	}
	return c.FetchBundle(ctx, serviceName, ticket)
}

func parseBundle(payload *wire.CertificateBundleResponse) (*domain.CertificateBundle, error) {
	leaf, err := domain.ParseCertificatePEM(payload.SVID.Certificate)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("bundle leaf certificate: %w", err))
	}
	key, err := domain.ParsePrivateKeyPEM(payload.SVID.PrivateKey)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("bundle private key: %w", err))
	}

	certs, err := parseCAChain(payload.CACerts)
	if err != nil {
		return nil, err
	}

	bundle, err := domain.NewCertificateBundle(leaf, key, certs)
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("bundle failed validation: %w", err))
	}
	if err := bundle.VerifyAgainstChain(); err != nil {
		return nil, errors.NewDomainError(errors.ErrBootstrap, err)
	}
	return bundle, nil
}

func parseCAChain(pems []string) ([]*x509.Certificate, error) {
	if len(pems) == 0 {
		return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("bundle carries no CA certificates"))
	}
	certs := make([]*x509.Certificate, 0, len(pems))
	for _, p := range pems {
		cert, err := domain.ParseCertificatePEM(p)
		if err != nil {
			return nil, errors.NewDomainError(errors.ErrBootstrap, fmt.Errorf("bundle CA certificate: %w", err))
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
