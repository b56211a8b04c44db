package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sufield/credo/internal/core/domain"
	"github.com/sufield/credo/internal/core/errors"
)

// UserTokenService mints and verifies user session tokens. A session token
// authenticates a user to the delegation endpoint; it carries no audience and
// grants no workload permissions.
type UserTokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewUserTokenService creates the service. Sessions default to
// domain.DefaultUserTokenTTL when ttl is zero.
func NewUserTokenService(secret []byte, issuer string, ttl time.Duration) (*UserTokenService, error) {
	if len(secret) == 0 {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("user token signing secret is required"))
	}
	if issuer == "" {
		return nil, errors.NewDomainError(errors.ErrConfig, fmt.Errorf("user token issuer is required"))
	}
	if ttl == 0 {
		ttl = domain.DefaultUserTokenTTL
	}
	return &UserTokenService{
		secret: secret,
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue mints a session token for the given user.
func (u *UserTokenService) Issue(userID, username string) (string, *domain.UserClaims, error) {
	if userID == "" {
		return "", nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("user id is required"))
	}

	now := u.now()
	claims := &domain.UserClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    u.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(u.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(u.secret)
	if err != nil {
		return "", nil, errors.NewDomainError(errors.ErrSigning, fmt.Errorf("failed to sign user token: %w", err))
	}
	return signed, claims, nil
}

// Verify checks signature and expiry and returns the session claims.
func (u *UserTokenService) Verify(token string) (*domain.UserClaims, error) {
	claims := &domain.UserClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return u.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(u.now))
	if err != nil || !parsed.Valid {
		return nil, errors.NewDomainError(errors.ErrTokenInvalid, fmt.Errorf("user token is invalid or expired"))
	}
	return claims, nil
}
