package firebase

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/upb/tma-auth-gateway/internal/shared"
)

// CustomTokenAudience is the fixed audience of Firebase custom tokens.
const CustomTokenAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"

// MaxCustomTokenTTL is the longest lifetime Firebase accepts.
const MaxCustomTokenTTL = time.Hour

var reservedClaims = map[string]bool{
	"acr": true, "amr": true, "at_hash": true, "aud": true, "auth_time": true,
	"azp": true, "cnf": true, "c_hash": true, "exp": true, "firebase": true,
	"iat": true, "iss": true, "jti": true, "nbf": true, "nonce": true, "sub": true,
}

// CustomTokenIssuer mints Firebase custom tokens signed with the service
// account key. The client app exchanges them with signInWithCustomToken.
type CustomTokenIssuer struct {
	client *Client
	ttl    time.Duration
	now    func() time.Time
}

// NewCustomTokenIssuer creates an issuer. ttl is clamped to one hour.
func NewCustomTokenIssuer(client *Client, ttl time.Duration) *CustomTokenIssuer {
	if ttl <= 0 || ttl > MaxCustomTokenTTL {
		ttl = MaxCustomTokenTTL
	}
	return &CustomTokenIssuer{client: client, ttl: ttl, now: time.Now}
}

// IssueToken implements identity.TokenIssuer.
func (i *CustomTokenIssuer) IssueToken(ctx context.Context, subject string, claims map[string]any) (string, error) {
	if err := i.client.Init(ctx); err != nil {
		return "", err
	}
	if subject == "" || len(subject) > 128 {
		return "", shared.UpstreamIssuanceFailure(fmt.Errorf("uid must be 1 to 128 characters"))
	}
	for name := range claims {
		if reservedClaims[name] {
			return "", shared.UpstreamIssuanceFailure(fmt.Errorf("claim %q is reserved", name))
		}
	}

	now := i.now()
	payload := jwt.MapClaims{
		"iss": i.client.account.ClientEmail,
		"sub": i.client.account.ClientEmail,
		"aud": CustomTokenAudience,
		"iat": now.Unix(),
		"exp": now.Add(i.ttl).Unix(),
		"uid": subject,
	}
	if len(claims) > 0 {
		payload["claims"] = claims
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, payload).SignedString(i.client.key)
	if err != nil {
		return "", shared.UpstreamIssuanceFailure(fmt.Errorf("sign custom token: %w", err))
	}
	return signed, nil
}
