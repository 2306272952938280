package shared

import (
	"errors"
	"fmt"
)

// ErrorKind identifies one member of the closed error taxonomy of the gateway.
type ErrorKind string

const (
	KindMalformedPayload        ErrorKind = "malformed_payload"
	KindMissingSignature        ErrorKind = "missing_signature"
	KindSignatureMismatch       ErrorKind = "signature_mismatch"
	KindExpiredPayload          ErrorKind = "expired_payload"
	KindMissingUserField        ErrorKind = "missing_user_field"
	KindMalformedUserJSON       ErrorKind = "malformed_user_json"
	KindProvisioningFailure     ErrorKind = "provisioning_failure"
	KindUpstreamIssuanceFailure ErrorKind = "upstream_issuance_failure"
	KindConfigError             ErrorKind = "config_error"
	KindBadRequest              ErrorKind = "bad_request"
	KindInternal                ErrorKind = "internal_error"
)

// DomainError is a structured error carrying its kind.
// Message is safe to show to API clients; Err is for logs only.
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError of the same kind.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewDomainError creates a new domain error
func NewDomainError(kind ErrorKind, message string, err error) *DomainError {
	return &DomainError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Sentinels for errors.Is comparisons. Never return these directly with extra
// context attached; wrap through NewDomainError instead.
var (
	ErrMalformedPayload        = NewDomainError(KindMalformedPayload, "malformed init data", nil)
	ErrMissingSignature        = NewDomainError(KindMissingSignature, "init data is not signed", nil)
	ErrSignatureMismatch       = NewDomainError(KindSignatureMismatch, "invalid init data signature", nil)
	ErrExpiredPayload          = NewDomainError(KindExpiredPayload, "init data has expired", nil)
	ErrMissingUserField        = NewDomainError(KindMissingUserField, "init data has no user", nil)
	ErrMalformedUserJSON       = NewDomainError(KindMalformedUserJSON, "init data user is malformed", nil)
	ErrProvisioningFailure     = NewDomainError(KindProvisioningFailure, "account provisioning failed", nil)
	ErrUpstreamIssuanceFailure = NewDomainError(KindUpstreamIssuanceFailure, "token issuance failed", nil)
	ErrConfig                  = NewDomainError(KindConfigError, "server configuration error", nil)
)

// KindOf returns the kind of a domain error, or KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInternal
}

// IsVerificationError reports whether err is a terminal, client-caused
// verification failure (never retried).
func IsVerificationError(err error) bool {
	switch KindOf(err) {
	case KindMalformedPayload, KindMissingSignature, KindSignatureMismatch,
		KindExpiredPayload, KindMissingUserField, KindMalformedUserJSON:
		return true
	}
	return false
}

// IsUpstreamError reports whether err came from the identity provider or the
// token issuer. Callers may retry these under their own policy.
func IsUpstreamError(err error) bool {
	switch KindOf(err) {
	case KindProvisioningFailure, KindUpstreamIssuanceFailure:
		return true
	}
	return false
}

// IsConfigError checks if an error is a configuration error
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

// ConfigError wraps a configuration problem.
func ConfigError(format string, args ...any) error {
	return NewDomainError(KindConfigError, "server configuration error", fmt.Errorf(format, args...))
}

// ProvisioningFailure wraps an identity provider failure.
func ProvisioningFailure(err error) error {
	return NewDomainError(KindProvisioningFailure, "account provisioning failed", err)
}

// UpstreamIssuanceFailure wraps a token issuer failure.
func UpstreamIssuanceFailure(err error) error {
	return NewDomainError(KindUpstreamIssuanceFailure, "token issuance failed", err)
}
