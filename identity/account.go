// Package identity provisions accounts for verified mini app users and issues
// credentials for them.
package identity

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/upb/tma-auth-gateway/initdata"
)

// SubjectPrefix namespaces Telegram users inside the identity provider.
const SubjectPrefix = "tg:"

// ErrAccountExists is returned by AccountStore.CreateAccount when the subject
// is already taken. Provisioner treats it as a successful lookup.
var ErrAccountExists = errors.New("account already exists")

// Account is an identity provider record.
type Account struct {
	Subject     string
	ExternalID  int64
	DisplayName string
	PhotoURL    string // empty when the user has no photo
	CreatedAt   time.Time
}

// SubjectID maps a Telegram user id to its provider subject, e.g. "tg:42".
func SubjectID(externalID int64) string {
	return SubjectPrefix + strconv.FormatInt(externalID, 10)
}

// NewAccount builds the record created on first login.
func NewAccount(identity *initdata.Identity) *Account {
	return &Account{
		Subject:     SubjectID(identity.ExternalID),
		ExternalID:  identity.ExternalID,
		DisplayName: identity.DisplayName(),
		PhotoURL:    identity.PhotoURL,
	}
}

// AccountStore is the identity provider's account registry.
//
// LookupAccount returns (nil, false, nil) when the subject does not exist;
// a non-nil error always means the lookup itself failed.
type AccountStore interface {
	LookupAccount(ctx context.Context, subject string) (*Account, bool, error)
	CreateAccount(ctx context.Context, account *Account) error
}

// SubjectCache remembers subjects known to exist. It is never authoritative
// for absence.
type SubjectCache interface {
	Known(ctx context.Context, subject string) (bool, error)
	Remember(ctx context.Context, subject string) error
}

// temporary is implemented by store errors that know whether a retry can help.
type temporary interface {
	Temporary() bool
}
