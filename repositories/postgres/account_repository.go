package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/identity"
	"github.com/upb/tma-auth-gateway/repositories"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// AccountRepository implements repositories.AccountRepository
type AccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB, logger *zap.Logger) repositories.AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

// LookupAccount implements identity.AccountStore
func (r *AccountRepository) LookupAccount(ctx context.Context, subject string) (*identity.Account, bool, error) {
	query := `
		SELECT subject, external_id, display_name, photo_url, created_at
		FROM accounts
		WHERE subject = $1
	`

	var (
		account  identity.Account
		photoURL sql.NullString
	)
	err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, subject).Scan(
		&account.Subject,
		&account.ExternalID,
		&account.DisplayName,
		&photoURL,
		&account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get account: %w", err)
	}

	account.PhotoURL = photoURL.String
	return &account, true, nil
}

// CreateAccount implements identity.AccountStore. A conflicting subject or
// external id yields identity.ErrAccountExists.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *identity.Account) error {
	query := `
		INSERT INTO accounts (subject, external_id, display_name, photo_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`

	photoURL := sql.NullString{String: account.PhotoURL, Valid: account.PhotoURL != ""}
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		account.Subject,
		account.ExternalID,
		account.DisplayName,
		photoURL,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return identity.ErrAccountExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	if rows == 0 {
		return identity.ErrAccountExists
	}

	r.logger.Debug("account created", zap.String("subject", account.Subject))
	return nil
}

// Count returns the number of accounts
func (r *AccountRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := GetExecutor(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return n, nil
}
