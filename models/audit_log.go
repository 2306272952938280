package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionVerified       AuditAction = "verified"
	AuditActionRejected       AuditAction = "rejected"
	AuditActionAccountCreated AuditAction = "account_created"
	AuditActionTokenIssued    AuditAction = "token_issued"
	AuditActionUpstreamFailed AuditAction = "upstream_failed"
)

// AuditLog represents an audit trail entry of a login exchange.
// It never holds the init data itself.
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	Action     AuditAction     `json:"action" db:"action"`
	Subject    *string         `json:"subject,omitempty" db:"subject"`
	ExternalID *int64          `json:"external_id,omitempty" db:"external_id"`
	ErrorKind  *string         `json:"error_kind,omitempty" db:"error_kind"`
	Details    json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress  string          `json:"ip_address" db:"ip_address"`
	UserAgent  string          `json:"user_agent" db:"user_agent"`
	RequestID  string          `json:"request_id" db:"request_id"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithSubject sets the provider subject and Telegram user id
func (a *AuditLog) WithSubject(subject string, externalID int64) *AuditLog {
	a.Subject = &subject
	a.ExternalID = &externalID
	return a
}

// WithErrorKind records the error taxonomy kind of a failure
func (a *AuditLog) WithErrorKind(kind string) *AuditLog {
	a.ErrorKind = &kind
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}
