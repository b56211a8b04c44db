package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spiffe/go-spiffe/v2/spiffeid"

	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
	"github.com/sufield/credo/internal/core/ports"
)

// DelegationIssuer mints and verifies delegation tokens: HS256 JWTs whose
// issuer and subject are this service's SPIFFE ID and whose audience is the
// target workload's SPIFFE ID. The signing secret is shared out of band with
// services that validate locally.
type DelegationIssuer struct {
	secret     []byte
	issuerID   spiffeid.ID
	defaultTTL time.Duration
	maxTTL     time.Duration
	metrics    ports.MetricsReporter
	logger     *slog.Logger
	now        func() time.Time
}

// DelegationIssuerConfig configures a DelegationIssuer.
type DelegationIssuerConfig struct {
	Secret     []byte
	IssuerID   spiffeid.ID
	DefaultTTL time.Duration // defaults to domain.DefaultDelegationTTL
	MaxTTL     time.Duration // defaults to domain.MaxDelegationTTL
	Metrics    ports.MetricsReporter
	Logger     *slog.Logger
}

// NewDelegationIssuer creates an issuer. The secret must be non-empty.
func NewDelegationIssuer(cfg DelegationIssuerConfig) (*DelegationIssuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("delegation signing secret is required"))
	}
	if cfg.IssuerID.IsZero() {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("issuer SPIFFE ID is required"))
	}

	defaultTTL := cfg.DefaultTTL
	if defaultTTL == 0 {
		defaultTTL = domain.DefaultDelegationTTL
	}
	maxTTL := cfg.MaxTTL
	if maxTTL == 0 {
		maxTTL = domain.MaxDelegationTTL
	}
	if defaultTTL > maxTTL {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("default delegation TTL %s exceeds maximum %s", defaultTTL, maxTTL))
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DelegationIssuer{
		secret:     cfg.Secret,
		issuerID:   cfg.IssuerID,
		defaultTTL: defaultTTL,
		maxTTL:     maxTTL,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// IssueToken mints a delegation token for userID toward the workload
// identified by audience. A zero ttl takes the default; values above the
// maximum are clamped. An empty permission list takes
// domain.DefaultPermissions. The signed token never appears in logs.
func (d *DelegationIssuer) IssueToken(userID string, audience spiffeid.ID, permissions []string, ttl time.Duration) (string, *domain.DelegationClaims, error) {
	if userID == "" {
		return "", nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("user id is required"))
	}
	if audience.IsZero() {
		return "", nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("audience SPIFFE ID is required"))
	}

	if ttl <= 0 {
		ttl = d.defaultTTL
	}
	if ttl > d.maxTTL {
		ttl = d.maxTTL
	}
	if len(permissions) == 0 {
		permissions = append([]string(nil), domain.DefaultPermissions...)
	}

	now := d.now()
	claims := &domain.DelegationClaims{
		UserID:      userID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    d.issuerID.String(),
			Subject:   d.issuerID.String(),
			Audience:  jwt.ClaimStrings{audience.String()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return "", nil, errors.NewDomainError(errors.ErrSigning, fmt.Errorf("failed to sign delegation token: %w", err))
	}

	d.logger.Info("issued delegation token",
		"user_id", userID,
		"audience", audience.String(),
		"permissions", permissions,
		"expires_at", claims.ExpiresAt.Time)
	return signed, claims, nil
}

// Validate verifies a delegation token's signature and expiry and returns its
// claims. Backing implementation of the issuer's validate endpoint and of the
// local validator.
func (d *DelegationIssuer) Validate(token string) (*ports.TokenValidation, error) {
	claims := &domain.DelegationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return d.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(d.now))
	if err != nil || !parsed.Valid {
		d.metrics.RecordTokenValidation("issuer", false)
		return &ports.TokenValidation{
			Valid: false,
			Error: "token is invalid or expired",
		}, nil
	}

	d.metrics.RecordTokenValidation("issuer", true)
	return &ports.TokenValidation{
		Valid:       true,
		UserID:      claims.UserID,
		Permissions: claims.Permissions,
		Audience:    claims.Audience(),
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// TrustDomain returns the trust domain of the issuer's SPIFFE ID.
func (d *DelegationIssuer) TrustDomain() spiffeid.TrustDomain {
	return d.issuerID.TrustDomain()
}

// Secret exposes the signing secret for wiring a local validator inside the
// same process. Tests aside, the secret must not travel further.
func (d *DelegationIssuer) Secret() []byte { return d.secret }
