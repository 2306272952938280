package firebase

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceAccount holds the fields of a Google service account key used here.
type ServiceAccount struct {
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// LoadServiceAccount resolves credentials from cfg. A base64 encoded
// service account JSON wins over the individual fields.
func LoadServiceAccount(cfg Config) (*ServiceAccount, error) {
	var sa ServiceAccount
	if cfg.ServiceAccountBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.ServiceAccountBase64))
		if err != nil {
			return nil, fmt.Errorf("decode service account: %w", err)
		}
		if err := json.Unmarshal(raw, &sa); err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
	} else {
		sa = ServiceAccount{
			ProjectID:   cfg.ProjectID,
			ClientEmail: cfg.ClientEmail,
			PrivateKey:  cfg.PrivateKey,
		}
	}

	if cfg.ProjectID != "" {
		sa.ProjectID = cfg.ProjectID
	}
	sa.PrivateKey = NormalizePrivateKey(sa.PrivateKey)

	switch {
	case sa.ProjectID == "":
		return nil, fmt.Errorf("firebase project id is not configured")
	case sa.ClientEmail == "":
		return nil, fmt.Errorf("firebase client email is not configured")
	case sa.PrivateKey == "":
		return nil, fmt.Errorf("firebase private key is not configured")
	}
	return &sa, nil
}

// NormalizePrivateKey turns literal "\n" sequences into newlines, as keys
// pasted into environment dashboards usually arrive that way.
func NormalizePrivateKey(key string) string {
	return strings.TrimSpace(strings.ReplaceAll(key, `\n`, "\n"))
}

// ParsePrivateKey parses a PEM encoded RSA key (PKCS#1 or PKCS#8).
func ParsePrivateKey(pemKey string) (*rsa.PrivateKey, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}
