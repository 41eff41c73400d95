package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SubjectOperator is the subject claim carried by operator tokens.
// VoiceLink has a single administrative identity; there are no per-user
// accounts or roles.
const SubjectOperator = "operator"

// defaultAccessTokenTTL applies when the configured TTL is missing or invalid.
const defaultAccessTokenTTL = 15 // minutes

// ErrTokenInvalid indicates a token failed signature or claim validation.
var ErrTokenInvalid = errors.New("auth: invalid token")

// Claims extends JWT standard claims with a login session id for log
// correlation.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// GenerateAccessToken creates a signed JWT access token for the operator.
// Access tokens are short-lived (configured TTL) and validated by
// signature only, so a stop of the service invalidates nothing and a
// restart requires no token state.
func GenerateAccessToken(secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = defaultAccessTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   SubjectOperator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		SessionID: uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT access token, returning the claims.
// It checks the signature, expiry, and that the subject is the operator.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject != SubjectOperator {
		return nil, fmt.Errorf("%w: unexpected subject %q", ErrTokenInvalid, claims.Subject)
	}

	return claims, nil
}
