// Package domain provides the value objects and entities of the credo trust core.
package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// Valid service name pattern: alphanumeric, hyphens, underscores, dots.
// Must start and end with alphanumeric characters.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]*[a-zA-Z0-9])?$`)

// ServiceIdentity names a workload inside a trust domain. Its SPIFFE ID is
// spiffe://<trust-domain>/<name>.
type ServiceIdentity struct {
	Name        string
	TrustDomain spiffeid.TrustDomain
}

// NewServiceIdentity creates a validated ServiceIdentity.
func NewServiceIdentity(name, trustDomain string) (ServiceIdentity, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ServiceIdentity{}, fmt.Errorf("service name cannot be empty or whitespace-only")
	}
	if len(trimmed) > 100 {
		return ServiceIdentity{}, fmt.Errorf("service name too long: maximum 100 characters, got %d", len(trimmed))
	}
	if !serviceNamePattern.MatchString(trimmed) {
		return ServiceIdentity{}, fmt.Errorf("service name %q contains invalid characters: must contain only alphanumeric characters, hyphens, underscores, and dots, and must start/end with alphanumeric characters", trimmed)
	}

	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		return ServiceIdentity{}, fmt.Errorf("invalid trust domain %q: %w", trustDomain, err)
	}

	return ServiceIdentity{Name: trimmed, TrustDomain: td}, nil
}

// SPIFFEID returns the identity's SPIFFE ID.
func (si ServiceIdentity) SPIFFEID() (spiffeid.ID, error) {
	id, err := spiffeid.FromPath(si.TrustDomain, "/"+si.Name)
	if err != nil {
		return spiffeid.ID{}, fmt.Errorf("failed to build SPIFFE ID for service %q: %w", si.Name, err)
	}
	return id, nil
}

// String returns the SPIFFE ID in URI form, or an empty string when the
// identity is malformed.
func (si ServiceIdentity) String() string {
	id, err := si.SPIFFEID()
	if err != nil {
		return ""
	}
	return id.String()
}

// ServiceNameFromID extracts the workload name from a SPIFFE ID path. The
// last path segment is the service name: "/photo-service" -> "photo-service",
// "/ns/prod/sa/api" -> "api".
func ServiceNameFromID(id spiffeid.ID) string {
	path := strings.TrimPrefix(id.Path(), "/")
	if path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
