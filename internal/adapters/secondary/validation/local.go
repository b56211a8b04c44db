// Package validation provides DelegationValidator implementations. Selection
// is deterministic: when a local signing secret is configured the local
// validator is used exclusively; there is no remote fallback after a failed
// local check, which would let an attacker route around the cheaper check.
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

// LocalValidator verifies delegation tokens with the shared HS256 signing
// secret, entirely in process.
type LocalValidator struct {
	secret  []byte
	metrics ports.MetricsReporter
	now     func() time.Time
}

// NewLocalValidator creates a validator over the shared signing secret.
func NewLocalValidator(secret []byte, metrics ports.MetricsReporter) (*LocalValidator, error) {
	if len(secret) == 0 {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("local validation requires the signing secret"))
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &LocalValidator{secret: secret, metrics: metrics, now: time.Now}, nil
}

// Validate implements ports.DelegationValidator.
func (v *LocalValidator) Validate(ctx context.Context, token string) (*ports.TokenValidation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	claims := &domain.DelegationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil || !parsed.Valid {
		v.metrics.RecordTokenValidation("local", false)
		return &ports.TokenValidation{Valid: false, Error: "token is invalid or expired"}, nil
	}

	v.metrics.RecordTokenValidation("local", true)
	return &ports.TokenValidation{
		Valid:       true,
		UserID:      claims.UserID,
		Permissions: claims.Permissions,
		Audience:    claims.Audience(),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
