package initdata

import (
	"encoding/json"
	"fmt"

	"github.com/upb/tma-auth-gateway/internal/shared"
	"github.com/upb/tma-auth-gateway/utils"
)

// Identity is the Telegram user described by verified init data.
// Optional fields are empty strings when absent, never nil.
type Identity struct {
	ExternalID   int64  `json:"id" validate:"required"`
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	PhotoURL     string `json:"photo_url,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
	IsPremium    bool   `json:"is_premium,omitempty"`
}

// DisplayName is the first name, followed by the last name when present.
func (i *Identity) DisplayName() string {
	if i.LastName == "" {
		return i.FirstName
	}
	return i.FirstName + " " + i.LastName
}

// ExtractIdentity decodes the "user" field. Call it only on a payload that
// passed Verifier.Verify.
func ExtractIdentity(p *Payload) (*Identity, error) {
	raw, ok := p.Get(FieldUser)
	if !ok || raw == "" {
		return nil, shared.ErrMissingUserField
	}

	var identity Identity
	if err := json.Unmarshal([]byte(raw), &identity); err != nil {
		return nil, shared.NewDomainError(shared.KindMalformedUserJSON, "init data user is malformed",
			fmt.Errorf("decode user: %w", err))
	}
	if err := utils.ValidateStruct(&identity); err != nil {
		return nil, shared.NewDomainError(shared.KindMalformedUserJSON, "init data user is malformed", err)
	}

	return &identity, nil
}
