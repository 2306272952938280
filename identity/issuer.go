package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/upb/tma-auth-gateway/initdata"
	"github.com/upb/tma-auth-gateway/internal/shared"
)

// TokenIssuer mints a credential for a provisioned subject.
// Implementations return an UpstreamIssuanceFailure on any error.
type TokenIssuer interface {
	IssueToken(ctx context.Context, subject string, claims map[string]any) (string, error)
}

// DisplayClaims is the non-sensitive profile attached to issued tokens.
func DisplayClaims(identity *initdata.Identity) map[string]any {
	return map[string]any{
		"telegram_id": identity.ExternalID,
		"first_name":  identity.FirstName,
		"last_name":   identity.LastName,
		"username":    identity.Username,
		"photo_url":   identity.PhotoURL,
	}
}

// JWTClaims is the payload of tokens minted by JWTIssuer.
type JWTClaims struct {
	jwt.RegisteredClaims
	Claims map[string]any `json:"claims,omitempty"`
}

// JWTIssuer signs HS256 tokens locally. It backs the postgres and memory
// account stores, where there is no external provider to mint credentials.
type JWTIssuer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewJWTIssuer creates an issuer. The signing key must be at least 32 bytes.
func NewJWTIssuer(signingKey, issuer, audience string, ttl time.Duration) (*JWTIssuer, error) {
	if len(signingKey) < 32 {
		return nil, shared.ConfigError("token signing key must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, shared.ConfigError("token ttl must be positive")
	}
	return &JWTIssuer{
		key:      []byte(signingKey),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// IssueToken implements TokenIssuer.
func (i *JWTIssuer) IssueToken(_ context.Context, subject string, claims map[string]any) (string, error) {
	if subject == "" {
		return "", shared.UpstreamIssuanceFailure(fmt.Errorf("empty subject"))
	}

	now := i.now()
	registered := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		ID:        uuid.NewString(),
	}
	if i.audience != "" {
		registered.Audience = jwt.ClaimStrings{i.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: registered,
		Claims:           claims,
	})
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", shared.UpstreamIssuanceFailure(fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// ParseToken validates a token minted by this issuer.
func (i *JWTIssuer) ParseToken(tokenString string) (*JWTClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}
