// Package auth - jwt.go verifies the bearer tokens issued to callers by the platform's
// login service. The subject claim carries the caller's identity id.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/learnhub/membership-service/internal/config"
)

const minSecretLength = 32

// Claims represents the JWT claims structure
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IdentityID returns the caller's identity id
func (c *Claims) IdentityID() string {
	return c.Subject
}

// TokenVerifier checks HS256 tokens against a shared secret
type TokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewTokenVerifier creates a verifier from configuration
func NewTokenVerifier(cfg config.JWTConfig) (*TokenVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth.jwt.secret is required")
	}
	if len(cfg.Secret) < minSecretLength {
		slog.Warn("auth.jwt.secret is shorter than the recommended 32 characters")
	}
	return &TokenVerifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Issue signs a token for identityID. Used by the dev token command and tests.
func (v *TokenVerifier) Issue(identityID, email string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = time.Hour
	}
	now := time.Now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identityID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
