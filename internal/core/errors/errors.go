// Package errors defines the error taxonomy shared by the credo trust core.
package errors

import "fmt"

// DomainError represents errors in the trust core's domain logic.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a wrapped instance against its sentinel by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors for the trust core. Callers wrap these with NewDomainError
// and match with errors.Is.
var (
	ErrConfig = &DomainError{
		Code:    "CONFIG_ERROR",
		Message: "configuration is missing or invalid",
	}

	ErrAttestationDenied = &DomainError{
		Code:    "ATTESTATION_DENIED",
		Message: "attestation proof was rejected",
	}

	ErrTicketInvalid = &DomainError{
		Code:    "TICKET_INVALID",
		Message: "attestation ticket is unknown, expired, or mismatched",
	}

	ErrSigning = &DomainError{
		Code:    "SIGNING_ERROR",
		Message: "certificate signing failed",
	}

	ErrBootstrap = &DomainError{
		Code:    "BOOTSTRAP_ERROR",
		Message: "could not obtain an initial identity bundle",
	}

	ErrNoIdentity = &DomainError{
		Code:    "NO_IDENTITY",
		Message: "no valid identity bundle is available",
	}

	ErrTokenInvalid = &DomainError{
		Code:    "TOKEN_INVALID",
		Message: "delegation token is invalid",
	}

	ErrPermissionDenied = &DomainError{
		Code:    "PERMISSION_DENIED",
		Message: "token lacks the required permission",
	}

	ErrNotFound = &DomainError{
		Code:    "NOT_FOUND",
		Message: "resource not found",
	}

	ErrInternal = &DomainError{
		Code:    "INTERNAL",
		Message: "internal error",
	}
)

// NewDomainError wraps err with the identity of a sentinel error.
func NewDomainError(base *DomainError, err error) error {
	return &DomainError{
		Code:    base.Code,
		Message: base.Message,
		Err:     err,
	}
}

// ValidationError represents input validation errors.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}
