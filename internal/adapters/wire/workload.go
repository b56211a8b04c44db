// Package wire defines the JSON request and response shapes shared by the
// credo HTTP servers and their clients.
package wire

import "time"

// AttestRequest is the body of POST /workload/v1/attest.
type AttestRequest struct {
	ServiceName      string         `json:"service_name"`
	Scheme           string         `json:"scheme,omitempty"`
	AttestationProof map[string]any `json:"attestation_proof"`
}

// AttestResponse returns the attestation ticket. The ticket is a bearer
// credential; callers present it on the certificates endpoint.
type AttestResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SVIDPayload carries one workload SVID in PEM form. The private key appears
// only here, once, in the certificates response.
type SVIDPayload struct {
	Certificate string `json:"cert"`
	PrivateKey  string `json:"key"`
	SPIFFEID    string `json:"spiffe_id"`
}

// CertificateBundleResponse is the body of GET /workload/v1/certificates.
type CertificateBundleResponse struct {
	SVID      SVIDPayload `json:"svid"`
	CACerts   []string    `json:"ca_certs"`
	ExpiresAt time.Time   `json:"expires_at"`
	TTLSecs   int64       `json:"ttl"`
}

// ErrorResponse is the uniform error body of every credo endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}
