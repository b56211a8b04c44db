package ports

// AttestationProof is the claimant-supplied evidence accompanying an
// attestation request. Its shape depends on the scheme: the static-secret
// scheme reads a "token" field, a service-account scheme would read a
// platform token, and so on.
type AttestationProof map[string]any

// Token returns the "token" field of the proof, when present.
func (p AttestationProof) Token() (string, bool) {
	v, ok := p["token"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// AttestationScheme decides whether a claimant is the workload it claims to
// be. New schemes (service-account tokens, cloud instance identity, process
// inspection, unix-socket peer credentials) are added as implementations of
// this single seam.
type AttestationScheme interface {
	// Name identifies the scheme in logs and configuration.
	Name() string

	// Validate returns nil when proof establishes serviceName's identity,
	// or an error wrapping errors.ErrAttestationDenied otherwise.
	Validate(serviceName string, proof AttestationProof) error
}
