package initdata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/upb/tma-auth-gateway/internal/shared"
)

// secretKeyLabel is the HMAC key used to derive the per-bot secret.
const secretKeyLabel = "WebAppData"

// maxClockSkew bounds how far in the future auth_date may be.
const maxClockSkew = 30 * time.Second

// DeriveSecret computes HMAC-SHA256(key="WebAppData", message=botToken).
func DeriveSecret(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte(secretKeyLabel))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// Verifier checks init data signatures for one bot.
// It is safe for concurrent use.
type Verifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// VerifierOption configures a Verifier
type VerifierOption func(*Verifier)

// WithMaxAge rejects payloads whose auth_date is older than d.
// Zero disables the freshness check.
func WithMaxAge(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.maxAge = d
	}
}

// WithClock overrides the time source used for freshness checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier derives the deployment secret from the bot token.
func NewVerifier(botToken string, opts ...VerifierOption) (*Verifier, error) {
	if botToken == "" {
		return nil, shared.ConfigError("telegram bot token is not configured")
	}
	v := &Verifier{
		secret: DeriveSecret(botToken),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Sign returns the lowercase hex signature of the payload's data-check-string.
func (v *Verifier) Sign(p *Payload) string {
	return hex.EncodeToString(v.mac(p.CheckString()))
}

// Verify accepts the payload only if its hash matches exactly.
func (v *Verifier) Verify(p *Payload) error {
	claimed, err := p.Hash()
	if err != nil {
		return err
	}

	expected := v.Sign(p)
	if !hmac.Equal([]byte(expected), []byte(claimed)) {
		return shared.ErrSignatureMismatch
	}

	if v.maxAge > 0 {
		return v.checkFreshness(p)
	}
	return nil
}

// ParseAndVerify parses raw init data and verifies it in one step.
func (v *Verifier) ParseAndVerify(raw string) (*Payload, error) {
	p, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := v.Verify(p); err != nil {
		return nil, err
	}
	return p, nil
}

// MaxAge returns the configured freshness window.
func (v *Verifier) MaxAge() time.Duration {
	return v.maxAge
}

func (v *Verifier) mac(checkString string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(checkString))
	return mac.Sum(nil)
}

func (v *Verifier) checkFreshness(p *Payload) error {
	authDate, err := AuthDate(p)
	if err != nil {
		return err
	}

	now := v.now()
	if authDate.After(now.Add(maxClockSkew)) {
		return expired(fmt.Errorf("auth_date %s is in the future", authDate.UTC().Format(time.RFC3339)))
	}
	if now.Sub(authDate) > v.maxAge {
		return expired(fmt.Errorf("auth_date %s older than %s", authDate.UTC().Format(time.RFC3339), v.maxAge))
	}
	return nil
}

// expired covers both stale and future-dated payloads; either way the
// signed auth_date is outside the accepted window.
func expired(err error) error {
	return shared.NewDomainError(shared.KindExpiredPayload, "init data has expired", err)
}

// AuthDate returns the auth_date field as a time.
func AuthDate(p *Payload) (time.Time, error) {
	raw, ok := p.Get(FieldAuthDate)
	if !ok {
		return time.Time{}, malformed("auth_date is missing")
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, malformed("auth_date is not a unix timestamp")
	}
	return time.Unix(secs, 0), nil
}
