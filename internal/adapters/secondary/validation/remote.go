package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sufield/credo/internal/adapters/wire"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

// DefaultRemoteTimeout bounds a remote validation round trip.
const DefaultRemoteTimeout = 5 * time.Second

// RemoteValidator verifies delegation tokens by POSTing them to the issuer's
// validate endpoint. Tokens travel only in request bodies.
type RemoteValidator struct {
	endpoint   string
	httpClient *http.Client
	metrics    ports.MetricsReporter
}

// RemoteOption adjusts a RemoteValidator.
type RemoteOption func(*RemoteValidator)

// WithRemoteHTTPClient substitutes the underlying *http.Client.
func WithRemoteHTTPClient(hc *http.Client) RemoteOption {
	return func(v *RemoteValidator) { v.httpClient = hc }
}

// NewRemoteValidator creates a validator against the issuer at baseURL.
func NewRemoteValidator(baseURL string, metrics ports.MetricsReporter, opts ...RemoteOption) (*RemoteValidator, error) {
	if baseURL == "" {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("remote validation requires the issuer URL"))
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}

	v := &RemoteValidator{
		endpoint:   strings.TrimRight(baseURL, "/") + "/auth/validate",
		httpClient: &http.Client{Timeout: DefaultRemoteTimeout},
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate implements ports.DelegationValidator. Transport failures are
// returned as errors; a well-formed negative verdict is not an error.
func (v *RemoteValidator) Validate(ctx context.Context, token string) (*ports.TokenValidation, error) {
	body, err := json.Marshal(wire.ValidateRequest{Token: token})
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewDomainError(errors.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.metrics.RecordTokenValidation("remote", false)
		return nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("remote validation unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.metrics.RecordTokenValidation("remote", false)
		return nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("remote validation returned status %d", resp.StatusCode))
	}

	var out wire.ValidateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		v.metrics.RecordTokenValidation("remote", false)
		return nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("malformed validation response: %w", err))
	}

	v.metrics.RecordTokenValidation("remote", out.Valid)
	result := &ports.TokenValidation{Valid: out.Valid, Error: out.Error}
	if out.Token != nil {
		result.UserID = out.Token.UserID
		result.Permissions = out.Token.Permissions
		if len(out.Token.Audience) > 0 {
			result.Audience = out.Token.Audience[0]
		}
		result.ExpiresAt = out.Token.ExpiresAt
	}
	return result, nil
}
