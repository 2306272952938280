package repositories

import (
	"context"

	"github.com/upb/tma-auth-gateway/identity"
	"github.com/upb/tma-auth-gateway/models"
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// AccountRepository persists provisioned accounts.
type AccountRepository interface {
	identity.AccountStore

	// Count returns the number of accounts
	Count(ctx context.Context) (int64, error)
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// InsertBatch inserts entries atomically
	InsertBatch(ctx context.Context, logs []*models.AuditLog) error

	// ListBySubject returns the newest entries for a subject first
	ListBySubject(ctx context.Context, subject string, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Accounts  AccountRepository
	AuditLogs AuditRepository
}
